// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package assess orchestrates the offer assessment and settlement pipeline:
// proof validation, evaluation, escrow funding, and impression-triggered
// settlement. Offers in a batch are processed sequentially so funding never
// races against the same advertiser balance and one offer's failure stays
// contained to its own record.
package assess

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/payattn/broker/pkg/chain"
	"github.com/payattn/broker/pkg/core"
	"github.com/payattn/broker/pkg/escrow"
	"github.com/payattn/broker/pkg/evaluator"
	"github.com/payattn/broker/pkg/log"
	"github.com/payattn/broker/pkg/metric"
	"github.com/payattn/broker/pkg/proof"
	"github.com/payattn/broker/pkg/session"
	"github.com/payattn/broker/pkg/settlement"
	"github.com/payattn/broker/pkg/store"
)

var ErrUnknownOffer = errors.New("unknown offer")

// Pipeline wires the assessment components together.
type Pipeline struct {
	offers    *store.OfferStore
	creatives *store.CreativeStore
	validator *proof.Validator
	evaluator *evaluator.Evaluator
	funder    *escrow.Funder
	engine    *settlement.Engine
	recorder  *session.Recorder
	programID string

	// platformAddress goes onto every escrow so the on-chain record names
	// all parties, matching what settlement will later pay out.
	platformAddress string

	metrics *metric.Metrics
	log     log.Logger
}

// New creates the pipeline.
func New(offers *store.OfferStore, creatives *store.CreativeStore, validator *proof.Validator, eval *evaluator.Evaluator, funder *escrow.Funder, engine *settlement.Engine, recorder *session.Recorder, programID, platformAddress string, metrics *metric.Metrics, logger log.Logger) *Pipeline {
	return &Pipeline{
		offers:          offers,
		creatives:       creatives,
		validator:       validator,
		evaluator:       eval,
		funder:          funder,
		engine:          engine,
		recorder:        recorder,
		programID:       programID,
		platformAddress: platformAddress,
		metrics:         metrics,
		log:             logger,
	}
}

// AssessPendingOffers runs the advertiser's pending offers through
// validation, evaluation, and funding, then records one immutable session.
// The run always produces a complete session summary even when individual
// offers fail.
func (p *Pipeline) AssessPendingOffers(ctx context.Context, advertiserID, advertiserAddress string) (*session.Session, error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.AssessmentDuration.Observe(time.Since(start).Seconds())
		}
	}()

	pending, err := p.offers.ListByAdvertiser(advertiserID, core.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending offers: %w", err)
	}

	results := make([]session.OfferResult, 0, len(pending))
	balanceExhausted := false
	for _, offer := range pending {
		res, outOfFunds := p.assessOne(ctx, offer, advertiserAddress)
		if outOfFunds {
			// Advisory signal only; the batch keeps going.
			balanceExhausted = true
		}
		results = append(results, res)
	}

	s, err := p.recorder.Record(advertiserID, results, balanceExhausted)
	if err != nil {
		// Best effort: the on-chain work is done, a bookkeeping failure
		// must not re-drive it.
		p.log.Error("session record failed",
			log.String("advertiser", advertiserID),
			log.Error(err))
		return &session.Session{AdvertiserID: advertiserID, Results: results}, nil
	}
	return s, nil
}

// assessOne runs validate -> evaluate -> fund for one offer. Every failure
// is captured on the result so the batch continues. The second return value
// advises the caller that the advertiser balance ran out.
func (p *Pipeline) assessOne(ctx context.Context, offer *core.Offer, advertiserAddress string) (session.OfferResult, bool) {
	res := session.OfferResult{OfferID: offer.OfferID}
	if p.metrics != nil {
		p.metrics.OffersAssessed.Inc()
	}

	creative, err := p.creatives.Get(offer.AdID)
	if err != nil || creative == nil {
		res.Error = fmt.Sprintf("creative %s not found", offer.AdID)
		if p.metrics != nil {
			p.metrics.AssessmentErrors.Inc()
		}
		return res, false
	}

	summary, err := p.validator.Validate(ctx, offer.ProofBundle)
	if err != nil {
		res.Error = fmt.Sprintf("proof bundle: %v", err)
		if p.metrics != nil {
			p.metrics.AssessmentErrors.Inc()
		}
		return res, false
	}
	res.ProofSummary = summary
	if p.metrics != nil {
		p.metrics.ProofsValid.Add(float64(len(summary.ValidLabels)))
		p.metrics.ProofsInvalid.Add(float64(len(summary.InvalidLabels)))
	}

	// A bundle-free offer against a campaign that demands proofs is
	// rejected by policy, not by the validator. Emptiness is judged on the
	// normalized result so every tolerated bundle shape is treated alike.
	if creative.ProofsRequired && len(summary.Details) == 0 {
		res.Decision = &evaluator.Decision{
			Accept:     false,
			Reasoning:  "campaign requires attribute proofs and the offer carries none",
			Confidence: 1.0,
		}
		p.recordDecision(offer, res.Decision, &res)
		return res, false
	}

	decision := p.evaluator.Evaluate(ctx, offer, creative, summary)
	res.Decision = &decision
	if decision.Fallback && p.metrics != nil {
		p.metrics.EvaluatorFallbacks.Inc()
	}
	p.recordDecision(offer, &decision, &res)
	if !decision.Accept {
		return res, false
	}

	escrowAddress := chain.DeriveEscrowAddress(offer.OfferID, p.programID)
	res.EscrowAddress = escrowAddress
	fund := p.funder.Fund(ctx, escrow.FundRequest{
		OfferID:           offer.OfferID,
		EscrowAddress:     escrowAddress,
		Amount:            offer.AmountMinorUnits,
		AdvertiserAddress: advertiserAddress,
		UserAddress:       offer.UserAddress,
		PlatformAddress:   p.platformAddress,
	})
	if !fund.Success {
		res.Error = fund.Error
		if p.metrics != nil {
			p.metrics.AssessmentErrors.Inc()
		}
		return res, errors.Is(fund.Err, escrow.ErrInsufficientBalance)
	}

	res.Funded = true
	res.TxSignature = fund.TxSignature
	if err := offer.Transition(core.StatusFunded); err != nil {
		res.Error = err.Error()
		return res, false
	}
	if err := p.offers.Put(offer); err != nil {
		p.log.Error("offer status write failed",
			log.String("offer", offer.OfferID),
			log.Error(err))
	}
	return res, false
}

func (p *Pipeline) recordDecision(offer *core.Offer, d *evaluator.Decision, res *session.OfferResult) {
	next := core.StatusRejected
	if d.Accept {
		next = core.StatusAccepted
	}
	if p.metrics != nil {
		if d.Accept {
			p.metrics.OffersAccepted.Inc()
		} else {
			p.metrics.OffersRejected.Inc()
		}
	}
	if err := offer.Transition(next); err != nil {
		res.Error = err.Error()
		return
	}
	if err := p.offers.Put(offer); err != nil {
		p.log.Error("offer status write failed",
			log.String("offer", offer.OfferID),
			log.Error(err))
	}
}

// ConfirmImpression settles a funded offer once the impression condition is
// met.
func (p *Pipeline) ConfirmImpression(ctx context.Context, offerID, publisherAddress string) ([]core.SettlementShare, error) {
	offer, err := p.offers.Get(offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOffer, offerID)
	}
	return p.engine.Settle(ctx, offer, publisherAddress)
}
