// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OfferStatus is the lifecycle state of an offer. Settling is a first-class
// state so that a refund while settlement is in flight is an illegal
// transition, not a flag check.
type OfferStatus string

const (
	StatusPending  OfferStatus = "pending"
	StatusAccepted OfferStatus = "accepted"
	StatusRejected OfferStatus = "rejected"
	StatusFunded   OfferStatus = "funded"
	StatusSettling OfferStatus = "settling"
	StatusSettled  OfferStatus = "settled"
)

var ErrIllegalTransition = errors.New("illegal offer status transition")

// transitions is the full set of legal status moves. Offers are never
// deleted, only transitioned.
var transitions = map[OfferStatus][]OfferStatus{
	StatusPending:  {StatusAccepted, StatusRejected},
	StatusAccepted: {StatusFunded, StatusRejected},
	StatusRejected: {},
	// funded -> settled covers retry completion, where the last
	// outstanding share clears outside a settling batch.
	StatusFunded:   {StatusSettling, StatusSettled},
	StatusSettling: {StatusSettled, StatusFunded},
	StatusSettled:  {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to OfferStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Offer is one priced attention proposal from a user agent.
type Offer struct {
	OfferID          string          `json:"offer_id"`
	AdvertiserID     string          `json:"advertiser_id"`
	UserID           string          `json:"user_id"`
	UserAddress      string          `json:"user_address"`
	AdID             string          `json:"ad_id"`
	AmountMinorUnits uint64          `json:"amount_minor_units"`
	Status           OfferStatus     `json:"status"`
	ProofBundle      json.RawMessage `json:"proof_bundle,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Transition moves the offer to a new status, enforcing the state machine.
func (o *Offer) Transition(to OfferStatus) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s for offer %s", ErrIllegalTransition, o.Status, to, o.OfferID)
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

// AdCreative is the campaign metadata the evaluator reasons over.
// Read-only to the pipeline.
type AdCreative struct {
	AdID                  string            `json:"ad_id"`
	AdvertiserID          string            `json:"advertiser_id"`
	CampaignName          string            `json:"campaign_name"`
	CampaignGoal          string            `json:"campaign_goal"`
	TargetAttributes      map[string]string `json:"target_attributes,omitempty"`
	MaxPricePerImpression uint64            `json:"max_price_per_impression"`

	// ProofsRequired makes "this campaign demands attribute proofs" an
	// explicit policy bit instead of inferring it from bundle emptiness.
	ProofsRequired bool `json:"proofs_required"`
}
