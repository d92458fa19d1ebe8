// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
)

// MemoryLedger is a map-backed Ledger for tests and demo mode. Failures can
// be injected per recipient to exercise the retry path.
type MemoryLedger struct {
	mu        sync.Mutex
	escrows   map[string]*EscrowAccount
	balances  map[string]uint64
	confirmed map[string]bool

	// failTransfersTo maps recipient address to the number of remaining
	// transfer attempts that should fail.
	failTransfersTo map[string]int

	// Transfers records every successful transfer in submission order.
	Transfers []RecordedTransfer
}

// RecordedTransfer is one successful transfer for test inspection.
type RecordedTransfer struct {
	EscrowAddress string
	Recipient     string
	Amount        uint64
	Signature     string
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		escrows:         make(map[string]*EscrowAccount),
		balances:        make(map[string]uint64),
		confirmed:       make(map[string]bool),
		failTransfersTo: make(map[string]int),
	}
}

// SetBalance seeds an address balance.
func (m *MemoryLedger) SetBalance(address string, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[address] = amount
}

// FailTransfersTo makes the next n transfers to recipient fail.
func (m *MemoryLedger) FailTransfersTo(recipient string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTransfersTo[recipient] = n
}

func (m *MemoryLedger) FetchEscrow(ctx context.Context, address string) (*EscrowAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.escrows[address]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryLedger) CreateEscrow(ctx context.Context, req CreateEscrowRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.escrows[req.EscrowAddress]; exists {
		return "", fmt.Errorf("escrow already exists at %s", req.EscrowAddress)
	}
	if m.balances[req.AdvertiserAddress] < req.Amount {
		return "", fmt.Errorf("insufficient funds for %s", req.AdvertiserAddress)
	}

	m.balances[req.AdvertiserAddress] -= req.Amount
	m.balances[req.EscrowAddress] += req.Amount
	m.escrows[req.EscrowAddress] = &EscrowAccount{
		OfferID:    req.OfferID,
		Amount:     req.Amount,
		Advertiser: req.AdvertiserAddress,
		User:       req.UserAddress,
		Publisher:  req.PublisherAddress,
		Platform:   req.PlatformAddress,
	}

	sig := newSignature()
	m.confirmed[sig] = true
	return sig, nil
}

func (m *MemoryLedger) Transfer(ctx context.Context, escrowAddress, recipient string, amount uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := m.failTransfersTo[recipient]; n > 0 {
		m.failTransfersTo[recipient] = n - 1
		return "", fmt.Errorf("transfer to %s rejected", recipient)
	}
	if m.balances[escrowAddress] < amount {
		return "", fmt.Errorf("escrow %s has insufficient funds", escrowAddress)
	}

	m.balances[escrowAddress] -= amount
	m.balances[recipient] += amount

	sig := newSignature()
	m.confirmed[sig] = true
	m.Transfers = append(m.Transfers, RecordedTransfer{
		EscrowAddress: escrowAddress,
		Recipient:     recipient,
		Amount:        amount,
		Signature:     sig,
	})
	return sig, nil
}

func (m *MemoryLedger) GetBalance(ctx context.Context, address string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[address], nil
}

func (m *MemoryLedger) Confirm(ctx context.Context, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.confirmed[signature] {
		return fmt.Errorf("signature %s not found", signature)
	}
	return nil
}

// NewTestAddress returns a well-formed random address.
func NewTestAddress() string {
	raw := make([]byte, 32)
	rand.Read(raw)
	return base58.Encode(raw)
}

func newSignature() string {
	raw := make([]byte, 64)
	rand.Read(raw)
	return base58.Encode(raw)
}
