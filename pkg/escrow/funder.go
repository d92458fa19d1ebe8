// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/payattn/broker/pkg/chain"
	"github.com/payattn/broker/pkg/log"
	"github.com/payattn/broker/pkg/metric"
)

var (
	ErrAddressMismatch     = errors.New("escrow address mismatch")
	ErrEscrowMismatch      = errors.New("existing escrow does not match funding parameters")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Funder creates at most one escrow per offer. Funding is idempotent: a
// second call with identical parameters succeeds without submitting a new
// transaction.
type Funder struct {
	ledger    chain.Ledger
	programID string

	// feeBuffer is the headroom required over the escrow amount so a
	// funding transaction is never submitted against a balance that can
	// only cover the amount itself.
	feeBuffer uint64
	timeout   time.Duration

	metrics *metric.Metrics
	log     log.Logger
}

// FundRequest carries one offer's funding parameters.
type FundRequest struct {
	OfferID           string
	EscrowAddress     string
	Amount            uint64
	AdvertiserAddress string
	UserAddress       string
	PublisherAddress  string
	PlatformAddress   string
}

// FundResult is the structured outcome of a funding attempt. Every failure
// mode lands here rather than in a panic or returned error, so a batch
// caller can keep processing the remaining offers.
type FundResult struct {
	Success bool `json:"success"`

	// AlreadyFunded is set on the idempotent no-op path: the escrow
	// existed with exactly matching fields and no transaction was sent.
	AlreadyFunded bool   `json:"already_funded,omitempty"`
	TxSignature   string `json:"tx_signature,omitempty"`
	Error         string `json:"error,omitempty"`

	// Err preserves the sentinel for callers that branch on failure kind.
	Err error `json:"-"`
}

// NewFunder creates an escrow funder.
func NewFunder(ledger chain.Ledger, programID string, feeBuffer uint64, timeout time.Duration, metrics *metric.Metrics, logger log.Logger) *Funder {
	return &Funder{
		ledger:    ledger,
		programID: programID,
		feeBuffer: feeBuffer,
		timeout:   timeout,
		metrics:   metrics,
		log:       logger,
	}
}

// Fund runs the four-step funding ladder: address integrity, idempotence
// check, balance check, submission.
func (f *Funder) Fund(ctx context.Context, req FundRequest) FundResult {
	start := time.Now()
	defer func() {
		if f.metrics != nil {
			f.metrics.FundingDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	// Step 1: the escrow address must be recomputable from the offer id
	// alone. A disagreement means a tampered or stale funding request.
	derived := chain.DeriveEscrowAddress(req.OfferID, f.programID)
	if derived != req.EscrowAddress {
		return f.fail(req, fmt.Errorf("%w: derived %s, caller supplied %s", ErrAddressMismatch, derived, req.EscrowAddress))
	}

	// Step 2: read through for an existing escrow.
	existing, err := f.ledger.FetchEscrow(ctx, req.EscrowAddress)
	switch {
	case err == nil:
		if mismatch := matchEscrow(existing, req); mismatch != nil {
			// Never silently overwrite a live escrow.
			return f.fail(req, mismatch)
		}
		f.log.Info("escrow already funded, skipping",
			log.String("offer", req.OfferID),
			log.String("escrow", req.EscrowAddress))
		return FundResult{Success: true, AlreadyFunded: true}
	case errors.Is(err, chain.ErrAccountNotFound):
		// Absent: proceed to creation.
	default:
		// Ambiguous lookup failure: it is unknown whether the escrow
		// exists, so funding must not proceed.
		return f.fail(req, fmt.Errorf("escrow lookup: %w", err))
	}

	// Step 3: fail fast instead of submitting a doomed transaction.
	balance, err := f.ledger.GetBalance(ctx, req.AdvertiserAddress)
	if err != nil {
		return f.fail(req, fmt.Errorf("balance lookup: %w", err))
	}
	if balance < req.Amount+f.feeBuffer {
		return f.fail(req, fmt.Errorf("%w: have %d, need %d + %d fee buffer",
			ErrInsufficientBalance, balance, req.Amount, f.feeBuffer))
	}

	// Step 4: submit and wait for confirmation.
	sig, err := f.ledger.CreateEscrow(ctx, chain.CreateEscrowRequest{
		OfferID:           req.OfferID,
		EscrowAddress:     req.EscrowAddress,
		Amount:            req.Amount,
		AdvertiserAddress: req.AdvertiserAddress,
		UserAddress:       req.UserAddress,
		PublisherAddress:  req.PublisherAddress,
		PlatformAddress:   req.PlatformAddress,
	})
	if err != nil {
		return f.fail(req, fmt.Errorf("create escrow: %w", err))
	}
	if err := f.ledger.Confirm(ctx, sig); err != nil {
		return f.fail(req, fmt.Errorf("confirm %s: %w", sig, err))
	}

	if f.metrics != nil {
		f.metrics.OffersFunded.Inc()
	}
	f.log.Info("escrow funded",
		log.String("offer", req.OfferID),
		log.String("escrow", req.EscrowAddress),
		log.Uint64("amount", req.Amount),
		log.String("signature", sig))

	return FundResult{Success: true, TxSignature: sig}
}

// matchEscrow compares an existing escrow field-by-field against the
// requested parameters. Any difference is a hard failure.
func matchEscrow(existing *chain.EscrowAccount, req FundRequest) error {
	if existing.OfferID != req.OfferID {
		return fmt.Errorf("%w: offer id %q vs %q", ErrEscrowMismatch, existing.OfferID, req.OfferID)
	}
	if existing.Amount != req.Amount {
		return fmt.Errorf("%w: amount %d vs %d", ErrEscrowMismatch, existing.Amount, req.Amount)
	}
	if existing.User != req.UserAddress {
		return fmt.Errorf("%w: user %q vs %q", ErrEscrowMismatch, existing.User, req.UserAddress)
	}
	return nil
}

func (f *Funder) fail(req FundRequest, err error) FundResult {
	f.log.Warn("escrow funding failed",
		log.String("offer", req.OfferID),
		log.Error(err))
	return FundResult{Success: false, Error: err.Error(), Err: err}
}
