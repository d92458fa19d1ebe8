// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeriveEscrowAddressDeterministic(t *testing.T) {
	require := require.New(t)

	a := DeriveEscrowAddress("offer-1", "program-1")
	b := DeriveEscrowAddress("offer-1", "program-1")
	require.Equal(a, b)

	// Different offer or program yields a different address.
	require.NotEqual(a, DeriveEscrowAddress("offer-2", "program-1"))
	require.NotEqual(a, DeriveEscrowAddress("offer-1", "program-2"))

	// Derived addresses are well-formed for the ledger encoding.
	require.NoError(ValidateAddress(a))
}

func TestValidateAddress(t *testing.T) {
	require := require.New(t)

	require.NoError(ValidateAddress(NewTestAddress()))
	require.ErrorIs(ValidateAddress("not-base58-0OIl"), ErrBadAddress)
	require.ErrorIs(ValidateAddress("abc"), ErrBadAddress)
}

func TestMemoryLedgerEscrowLifecycle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ledger := NewMemoryLedger()
	advertiser := NewTestAddress()
	user := NewTestAddress()
	escrowAddr := DeriveEscrowAddress("offer-1", "prog")
	ledger.SetBalance(advertiser, 2_000_000)

	_, err := ledger.FetchEscrow(ctx, escrowAddr)
	require.ErrorIs(err, ErrAccountNotFound)

	sig, err := ledger.CreateEscrow(ctx, CreateEscrowRequest{
		OfferID:           "offer-1",
		EscrowAddress:     escrowAddr,
		Amount:            1_000_000,
		AdvertiserAddress: advertiser,
		UserAddress:       user,
	})
	require.NoError(err)
	require.NoError(ledger.Confirm(ctx, sig))

	acct, err := ledger.FetchEscrow(ctx, escrowAddr)
	require.NoError(err)
	require.Equal("offer-1", acct.OfferID)
	require.Equal(uint64(1_000_000), acct.Amount)
	require.Equal(user, acct.User)

	balance, err := ledger.GetBalance(ctx, advertiser)
	require.NoError(err)
	require.Equal(uint64(1_000_000), balance)

	// Double creation is refused.
	_, err = ledger.CreateEscrow(ctx, CreateEscrowRequest{
		OfferID:           "offer-1",
		EscrowAddress:     escrowAddr,
		Amount:            1_000_000,
		AdvertiserAddress: advertiser,
	})
	require.Error(err)
}

func TestMemoryLedgerTransferFailureInjection(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ledger := NewMemoryLedger()
	escrowAddr := NewTestAddress()
	recipient := NewTestAddress()
	ledger.SetBalance(escrowAddr, 500)
	ledger.FailTransfersTo(recipient, 2)

	_, err := ledger.Transfer(ctx, escrowAddr, recipient, 100)
	require.Error(err)
	_, err = ledger.Transfer(ctx, escrowAddr, recipient, 100)
	require.Error(err)

	// Third attempt succeeds.
	sig, err := ledger.Transfer(ctx, escrowAddr, recipient, 100)
	require.NoError(err)
	require.NoError(ledger.Confirm(ctx, sig))
	require.Len(ledger.Transfers, 1)
}

func TestKeyCacheExpiry(t *testing.T) {
	require := require.New(t)

	kc := NewKeyCache(16, time.Minute)
	now := time.Unix(1000, 0)
	kc.now = func() time.Time { return now }

	material := []byte("secret key material")
	hash := HashKey([]byte("source-doc"))
	kc.Put(hash, material)

	got, ok := kc.Get(hash)
	require.True(ok)
	require.Equal(material, got)

	// Expired entries read as absent.
	now = now.Add(2 * time.Minute)
	_, ok = kc.Get(hash)
	require.False(ok)

	_, ok = kc.Get(HashKey([]byte("never stored")))
	require.False(ok)
}

func TestDeriveKeyPurposeBound(t *testing.T) {
	require := require.New(t)

	master := []byte("master material")
	k1, err := DeriveKey(master, "profile-encryption", 32)
	require.NoError(err)
	k2, err := DeriveKey(master, "session-auth", 32)
	require.NoError(err)
	require.Len(k1, 32)
	require.NotEqual(k1, k2)

	again, err := DeriveKey(master, "profile-encryption", 32)
	require.NoError(err)
	require.Equal(k1, again)
}
