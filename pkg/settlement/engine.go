// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/payattn/broker/pkg/chain"
	"github.com/payattn/broker/pkg/core"
	"github.com/payattn/broker/pkg/log"
	"github.com/payattn/broker/pkg/metric"
	"github.com/payattn/broker/pkg/store"
)

var (
	ErrNotFunded      = errors.New("offer is not funded")
	ErrAlreadySettled = errors.New("offer already settled")
	ErrSharesQueued   = errors.New("offer has queued settlement shares")
)

// SplitAmount divides an escrowed total into the three payout amounts:
// 70% user, 25% publisher, and the remainder to the platform so the shares
// always sum exactly to the total.
func SplitAmount(total uint64) (user, publisher, platform uint64) {
	user = total/100*70 + total%100*70/100
	publisher = total/100*25 + total%100*25/100
	platform = total - user - publisher
	return user, publisher, platform
}

// Engine settles one escrow into three independent transfers submitted in
// randomized order with randomized delays, so an observer correlating
// timestamps cannot trivially link the payouts to one impression.
type Engine struct {
	ledger          chain.Ledger
	offers          *store.OfferStore
	queue           *store.QueueStore
	programID       string
	platformAddress string
	maxDelay        time.Duration

	rng   *rand.Rand
	sleep func(context.Context, time.Duration)

	metrics *metric.Metrics
	log     log.Logger
}

// NewEngine creates a settlement engine. rng and the sleeper are injectable
// so tests stay deterministic and fast.
func NewEngine(ledger chain.Ledger, offers *store.OfferStore, queue *store.QueueStore, programID, platformAddress string, maxDelay time.Duration, metrics *metric.Metrics, logger log.Logger) *Engine {
	return &Engine{
		ledger:          ledger,
		offers:          offers,
		queue:           queue,
		programID:       programID,
		platformAddress: platformAddress,
		maxDelay:        maxDelay,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:           sleepCtx,
		metrics:         metrics,
		log:             logger,
	}
}

// SetRand replaces the random source.
func (e *Engine) SetRand(rng *rand.Rand) { e.rng = rng }

// SetSleeper replaces the inter-share delay function.
func (e *Engine) SetSleeper(fn func(context.Context, time.Duration)) { e.sleep = fn }

// Settle splits the escrowed amount and submits the three transfers. The
// offer is moved to settling first to suppress any concurrent refund path,
// and that state is cleared unconditionally when the batch finishes: settled
// if every share went through, back to funded otherwise (the retry queue
// owns the stragglers). One share's failure never blocks or rolls back the
// others.
func (e *Engine) Settle(ctx context.Context, offer *core.Offer, publisherAddress string) ([]core.SettlementShare, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.SettlementDuration.Observe(time.Since(start).Seconds())
		}
	}()

	switch offer.Status {
	case core.StatusSettled:
		return nil, fmt.Errorf("%w: %s", ErrAlreadySettled, offer.OfferID)
	case core.StatusFunded:
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFunded, offer.OfferID, offer.Status)
	}

	// A funded offer with queued shares is mid-settlement: the sent shares
	// already left the escrow and the stragglers belong to the retry queue.
	// Starting a fresh batch would re-submit the delivered ones.
	if queued, err := e.queue.CountForOffer(offer.OfferID); err != nil {
		return nil, fmt.Errorf("queue check: %w", err)
	} else if queued > 0 {
		return nil, fmt.Errorf("%w: %s has %d pending", ErrSharesQueued, offer.OfferID, queued)
	}

	if err := offer.Transition(core.StatusSettling); err != nil {
		return nil, err
	}
	if err := e.offers.Put(offer); err != nil {
		return nil, fmt.Errorf("mark settling: %w", err)
	}

	escrowAddress := chain.DeriveEscrowAddress(offer.OfferID, e.programID)
	userAmt, pubAmt, platAmt := SplitAmount(offer.AmountMinorUnits)

	shares := []core.SettlementShare{
		{OfferID: offer.OfferID, Type: core.ShareUser, RecipientAddress: offer.UserAddress, AmountMinorUnits: userAmt, Status: core.SharePending},
		{OfferID: offer.OfferID, Type: core.SharePublisher, RecipientAddress: publisherAddress, AmountMinorUnits: pubAmt, Status: core.SharePending},
		{OfferID: offer.OfferID, Type: core.SharePlatform, RecipientAddress: e.platformAddress, AmountMinorUnits: platAmt, Status: core.SharePending},
	}

	// Random submission order.
	e.rng.Shuffle(len(shares), func(i, j int) {
		shares[i], shares[j] = shares[j], shares[i]
	})

	allSent := true
	for i := range shares {
		// Delay before every share except the first.
		if i > 0 && e.maxDelay > 0 {
			e.sleep(ctx, time.Duration(e.rng.Int63n(int64(e.maxDelay))))
		}
		e.executeShare(ctx, escrowAddress, &shares[i])
		if shares[i].Status != core.ShareSent {
			allSent = false
		}
	}

	// Clear settling regardless of outcome.
	final := core.StatusFunded
	if allSent {
		final = core.StatusSettled
	}
	if err := offer.Transition(final); err != nil {
		return shares, err
	}
	if err := e.offers.Put(offer); err != nil {
		// The transfers already happened; a bookkeeping failure must
		// not re-drive them.
		e.log.Error("settlement status write failed",
			log.String("offer", offer.OfferID),
			log.Error(err))
	}

	e.log.Info("settlement batch finished",
		log.String("offer", offer.OfferID),
		log.Bool("fully_settled", allSent))

	return shares, nil
}

func (e *Engine) executeShare(ctx context.Context, escrowAddress string, share *core.SettlementShare) {
	share.Attempts++

	sig, err := e.transferShare(ctx, escrowAddress, share)
	if err != nil {
		share.Status = core.ShareFailed
		share.LastError = err.Error()
		if e.metrics != nil {
			e.metrics.SharesFailed.Inc()
		}
		e.log.Warn("settlement share failed",
			log.String("offer", share.OfferID),
			log.String("share", string(share.Type)),
			log.Error(err))
		e.enqueueFailed(share)
		return
	}

	share.Status = core.ShareSent
	share.TxSignature = sig
	if e.metrics != nil {
		e.metrics.SharesSent.Inc()
	}
	e.log.Info("settlement share sent",
		log.String("offer", share.OfferID),
		log.String("share", string(share.Type)),
		log.Uint64("amount", share.AmountMinorUnits),
		log.String("signature", sig))
}

func (e *Engine) transferShare(ctx context.Context, escrowAddress string, share *core.SettlementShare) (string, error) {
	if err := chain.ValidateAddress(share.RecipientAddress); err != nil {
		return "", err
	}
	sig, err := e.ledger.Transfer(ctx, escrowAddress, share.RecipientAddress, share.AmountMinorUnits)
	if err != nil {
		return "", err
	}
	if err := e.ledger.Confirm(ctx, sig); err != nil {
		return "", err
	}
	return sig, nil
}

func (e *Engine) enqueueFailed(share *core.SettlementShare) {
	entry := &core.QueueEntry{
		OfferID:          share.OfferID,
		ShareType:        share.Type,
		RecipientAddress: share.RecipientAddress,
		AmountMinorUnits: share.AmountMinorUnits,
		LastError:        share.LastError,
		EnqueuedAt:       time.Now(),
	}
	if err := e.queue.Upsert(entry); err != nil {
		// Best effort: the share outcome is already recorded on the
		// returned slice; losing the queue row is an operator problem,
		// not a reason to re-run the transfer.
		e.log.Error("failed to enqueue settlement share",
			log.String("offer", share.OfferID),
			log.String("share", string(share.Type)),
			log.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
