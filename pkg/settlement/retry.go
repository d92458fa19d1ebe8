// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/payattn/broker/pkg/chain"
	"github.com/payattn/broker/pkg/core"
	"github.com/payattn/broker/pkg/log"
	"github.com/payattn/broker/pkg/metric"
	"github.com/payattn/broker/pkg/store"
)

var (
	ErrRetryExhausted = errors.New("settlement share retry attempts exhausted")
	ErrNotQueued      = errors.New("no queued settlement share")
)

// RetryQueue drives failed settlement shares to completion. Entries are
// retried oldest-first in bounded batches, never before their cooldown has
// passed, and never beyond the attempt cap. Exhausted entries are kept and
// surfaced for manual intervention, not dropped.
type RetryQueue struct {
	ledger      chain.Ledger
	offers      *store.OfferStore
	queue       *store.QueueStore
	programID   string
	cooldown    time.Duration
	maxAttempts int
	batchSize   int

	now func() time.Time

	metrics *metric.Metrics
	log     log.Logger
}

// NewRetryQueue creates the retry processor.
func NewRetryQueue(ledger chain.Ledger, offers *store.OfferStore, queue *store.QueueStore, programID string, cooldown time.Duration, maxAttempts, batchSize int, metrics *metric.Metrics, logger log.Logger) *RetryQueue {
	return &RetryQueue{
		ledger:      ledger,
		offers:      offers,
		queue:       queue,
		programID:   programID,
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		now:         time.Now,
		metrics:     metrics,
		log:         logger,
	}
}

// SetClock replaces the time source.
func (q *RetryQueue) SetClock(now func() time.Time) { q.now = now }

// ProcessDue retries every eligible entry once and returns how many shares
// were delivered.
func (q *RetryQueue) ProcessDue(ctx context.Context) (int, error) {
	entries, err := q.queue.List()
	if err != nil {
		return 0, err
	}

	now := q.now()
	delivered := 0
	picked := 0
	for _, entry := range entries {
		if picked >= q.batchSize {
			break
		}
		if entry.Exhausted {
			continue
		}
		// Cooldown avoids hot-looping a flaky dependency: the clock
		// starts at the more recent of enqueue and last attempt.
		last := entry.EnqueuedAt
		if entry.LastTriedAt.After(last) {
			last = entry.LastTriedAt
		}
		if now.Sub(last) < q.cooldown {
			continue
		}
		picked++

		if q.retryOne(ctx, entry) {
			delivered++
		}
	}
	return delivered, nil
}

func (q *RetryQueue) retryOne(ctx context.Context, entry *core.QueueEntry) bool {
	if q.metrics != nil {
		q.metrics.RetriesRun.Inc()
	}

	escrowAddress := chain.DeriveEscrowAddress(entry.OfferID, q.programID)
	sig, err := q.transfer(ctx, escrowAddress, entry)
	if err != nil {
		entry.Attempts++
		entry.LastError = err.Error()
		entry.LastTriedAt = q.now()
		if entry.Attempts >= q.maxAttempts {
			entry.Exhausted = true
			if q.metrics != nil {
				q.metrics.RetriesExhausted.Inc()
			}
			q.log.Error("settlement share retries exhausted, operator intervention required",
				log.String("offer", entry.OfferID),
				log.String("share", string(entry.ShareType)),
				log.Int("attempts", entry.Attempts),
				log.Error(err))
		} else {
			q.log.Warn("settlement share retry failed",
				log.String("offer", entry.OfferID),
				log.String("share", string(entry.ShareType)),
				log.Int("attempts", entry.Attempts),
				log.Error(err))
		}
		if uerr := q.queue.Upsert(entry); uerr != nil {
			q.log.Error("queue update failed", log.Error(uerr))
		}
		return false
	}

	if err := q.queue.Delete(entry.OfferID, entry.ShareType); err != nil {
		q.log.Error("queue delete failed",
			log.String("offer", entry.OfferID),
			log.Error(err))
		// The transfer went through; an idempotent consumer tolerates
		// the duplicate row better than a double payment, so do not
		// re-run it.
	}
	if q.metrics != nil {
		q.metrics.SharesSent.Inc()
	}
	q.log.Info("settlement share retried successfully",
		log.String("offer", entry.OfferID),
		log.String("share", string(entry.ShareType)),
		log.String("signature", sig))

	q.maybeSettleOffer(entry.OfferID)
	return true
}

func (q *RetryQueue) transfer(ctx context.Context, escrowAddress string, entry *core.QueueEntry) (string, error) {
	if err := chain.ValidateAddress(entry.RecipientAddress); err != nil {
		return "", err
	}
	sig, err := q.ledger.Transfer(ctx, escrowAddress, entry.RecipientAddress, entry.AmountMinorUnits)
	if err != nil {
		return "", err
	}
	if err := q.ledger.Confirm(ctx, sig); err != nil {
		return "", err
	}
	return sig, nil
}

// RetryNow retries a single queued share immediately, bypassing the cooldown.
// Exhausted entries stay frozen: an operator clears the underlying cause and
// re-enqueues rather than hammering the same dead recipient.
func (q *RetryQueue) RetryNow(ctx context.Context, offerID string, shareType core.ShareType) error {
	entry, err := q.queue.Get(offerID, shareType)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: %s/%s", ErrNotQueued, offerID, shareType)
	}
	if entry.Exhausted {
		return fmt.Errorf("%w: %s/%s after %d attempts", ErrRetryExhausted, offerID, shareType, entry.Attempts)
	}
	if !q.retryOne(ctx, entry) {
		return fmt.Errorf("retry %s/%s: %s", offerID, shareType, entry.LastError)
	}
	return nil
}

// maybeSettleOffer transitions the offer to settled once no shares remain
// queued for it.
func (q *RetryQueue) maybeSettleOffer(offerID string) {
	remaining, err := q.queue.CountForOffer(offerID)
	if err != nil || remaining > 0 {
		return
	}

	offer, err := q.offers.Get(offerID)
	if err != nil || offer == nil || offer.Status == core.StatusSettled {
		return
	}
	if err := offer.Transition(core.StatusSettled); err != nil {
		q.log.Warn("could not mark offer settled after retry",
			log.String("offer", offerID),
			log.Error(err))
		return
	}
	if err := q.offers.Put(offer); err != nil {
		q.log.Error("offer status write failed",
			log.String("offer", offerID),
			log.Error(err))
		return
	}
	q.log.Info("offer fully settled via retry queue", log.String("offer", offerID))
}

// Run processes the queue on a fixed interval until the context ends. It is
// safe to run alongside a fresh settlement for a different offer: entries
// are keyed per (offer, share) and the cooldown keeps a just-enqueued share
// out of the current pass.
func (q *RetryQueue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.ProcessDue(ctx); err != nil {
				q.log.Error("retry queue pass failed", log.Error(err))
			}
		}
	}
}
