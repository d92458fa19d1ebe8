// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import "time"

// ShareType identifies one of the three settlement payouts.
type ShareType string

const (
	ShareUser      ShareType = "user"
	SharePublisher ShareType = "publisher"
	SharePlatform  ShareType = "platform"
)

// ShareStatus is the delivery state of a single settlement share.
type ShareStatus string

const (
	SharePending ShareStatus = "pending"
	ShareSent    ShareStatus = "sent"
	ShareFailed  ShareStatus = "failed"
)

// SettlementShare is one of the three payouts an escrow is split into.
type SettlementShare struct {
	OfferID          string      `json:"offer_id"`
	Type             ShareType   `json:"type"`
	RecipientAddress string      `json:"recipient_address"`
	AmountMinorUnits uint64      `json:"amount_minor_units"`
	Status           ShareStatus `json:"status"`
	TxSignature      string      `json:"tx_signature,omitempty"`
	LastError        string      `json:"last_error,omitempty"`
	Attempts         int         `json:"attempts"`
}

// QueueEntry is a failed share awaiting retry. Unique per (OfferID, Type).
type QueueEntry struct {
	OfferID          string    `json:"offer_id"`
	ShareType        ShareType `json:"share_type"`
	RecipientAddress string    `json:"recipient_address"`
	AmountMinorUnits uint64    `json:"amount_minor_units"`
	Attempts         int       `json:"attempts"`
	LastError        string    `json:"last_error,omitempty"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
	LastTriedAt      time.Time `json:"last_tried_at"`

	// Exhausted marks entries at the attempt cap. They stay in the queue
	// for operator inspection rather than being dropped.
	Exhausted bool `json:"exhausted"`
}
