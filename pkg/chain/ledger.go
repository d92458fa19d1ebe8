// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chain defines the boundary to the opaque ledger. The broker only
// needs deterministic escrow addresses, read-through account lookups, and
// transaction submission; consensus and program bytecode live on the other
// side of this interface.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

var (
	ErrAccountNotFound = errors.New("account does not exist")
	ErrBadAddress      = errors.New("malformed address")
)

// EscrowAccount is the on-chain escrow state, read-through only.
type EscrowAccount struct {
	OfferID    string `json:"offer_id"`
	Amount     uint64 `json:"amount"`
	Advertiser string `json:"advertiser"`
	User       string `json:"user"`
	Publisher  string `json:"publisher"`
	Platform   string `json:"platform"`
	Settled    bool   `json:"settled"`
}

// CreateEscrowRequest carries the funding parameters for a new escrow.
type CreateEscrowRequest struct {
	OfferID           string
	EscrowAddress     string
	Amount            uint64
	AdvertiserAddress string
	UserAddress       string
	PublisherAddress  string
	PlatformAddress   string
}

// Ledger is the opaque chain client.
type Ledger interface {
	// FetchEscrow returns ErrAccountNotFound when no escrow exists at the
	// address. Any other error is ambiguous and must not be treated as
	// absence.
	FetchEscrow(ctx context.Context, address string) (*EscrowAccount, error)

	// CreateEscrow submits the create-escrow transaction and returns its
	// signature once confirmed.
	CreateEscrow(ctx context.Context, req CreateEscrowRequest) (string, error)

	// Transfer moves minor units out of the escrow to a recipient.
	Transfer(ctx context.Context, escrowAddress, recipient string, amount uint64) (string, error)

	// GetBalance returns the spendable balance of an address.
	GetBalance(ctx context.Context, address string) (uint64, error)

	// Confirm blocks until the signature is finalized or the context ends.
	Confirm(ctx context.Context, signature string) error
}

// DeriveEscrowAddress computes the escrow address purely from the offer id
// and program id, so any party can recompute and verify it. The seeds mirror
// the on-chain program: "escrow" | offer_id, namespaced by program id.
func DeriveEscrowAddress(offerID, programID string) string {
	h := sha3.New256()
	h.Write([]byte("escrow"))
	h.Write([]byte(offerID))
	h.Write([]byte(programID))
	return base58.Encode(h.Sum(nil))
}

// ValidateAddress checks that an address is well-formed for the ledger's
// native encoding: base58 over 32 bytes.
func ValidateAddress(address string) error {
	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: decoded length %d, want 32", ErrBadAddress, len(raw))
	}
	return nil
}
