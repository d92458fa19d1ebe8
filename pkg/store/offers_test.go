// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/payattn/broker/pkg/core"
)

func TestOfferStoreGetAbsent(t *testing.T) {
	require := require.New(t)
	os := NewOfferStore(NewMemory())

	offer, err := os.Get("nope")
	require.NoError(err)
	require.Nil(offer)
}

func TestOfferStoreRoundTrip(t *testing.T) {
	require := require.New(t)
	os := NewOfferStore(NewMemory())

	in := &core.Offer{
		OfferID:          "offer-1",
		AdvertiserID:     "adv-1",
		AdID:             "ad-1",
		AmountMinorUnits: 1_000_000,
		Status:           core.StatusPending,
	}
	require.NoError(os.Put(in))

	out, err := os.Get("offer-1")
	require.NoError(err)
	require.Equal(in.OfferID, out.OfferID)
	require.Equal(in.Status, out.Status)

	// Put overwrites in place; offers are never duplicated per id.
	in.Status = core.StatusAccepted
	require.NoError(os.Put(in))
	out, err = os.Get("offer-1")
	require.NoError(err)
	require.Equal(core.StatusAccepted, out.Status)
}

func TestListByAdvertiserFilters(t *testing.T) {
	require := require.New(t)
	os := NewOfferStore(NewMemory())

	put := func(id, adv string, status core.OfferStatus) {
		require.NoError(os.Put(&core.Offer{OfferID: id, AdvertiserID: adv, Status: status}))
	}
	put("o1", "adv-1", core.StatusPending)
	put("o2", "adv-1", core.StatusPending)
	put("o3", "adv-1", core.StatusFunded)
	put("o4", "adv-2", core.StatusPending)

	pending, err := os.ListByAdvertiser("adv-1", core.StatusPending)
	require.NoError(err)
	require.Len(pending, 2)
	for _, offer := range pending {
		require.Equal("adv-1", offer.AdvertiserID)
		require.Equal(core.StatusPending, offer.Status)
	}

	none, err := os.ListByAdvertiser("adv-3", core.StatusPending)
	require.NoError(err)
	require.Empty(none)
}

func TestCreativeStoreRoundTrip(t *testing.T) {
	require := require.New(t)
	cs := NewCreativeStore(NewMemory())

	absent, err := cs.Get("nope")
	require.NoError(err)
	require.Nil(absent)

	in := &core.AdCreative{
		AdID:                  "ad-1",
		CampaignName:          "Spring Launch",
		MaxPricePerImpression: 2_000_000,
		ProofsRequired:        true,
		TargetAttributes:      map[string]string{"age": "18+"},
	}
	require.NoError(cs.Put(in))

	out, err := cs.Get("ad-1")
	require.NoError(err)
	require.True(out.ProofsRequired)
	require.Equal("18+", out.TargetAttributes["age"])
}
