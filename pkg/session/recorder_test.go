// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/payattn/broker/pkg/evaluator"
	"github.com/payattn/broker/pkg/log"
	"github.com/payattn/broker/pkg/store"
)

func newRecorder(t *testing.T) (*Recorder, *store.Store) {
	t.Helper()
	db := store.NewMemory()
	return NewRecorder(db, log.NoOp()), db
}

func TestRecordComputesStats(t *testing.T) {
	require := require.New(t)
	rec, _ := newRecorder(t)

	results := []OfferResult{
		{OfferID: "o1", Decision: &evaluator.Decision{Accept: true, Confidence: 0.9}, Funded: true},
		{OfferID: "o2", Decision: &evaluator.Decision{Accept: false, Confidence: 0.95}},
		{OfferID: "o3", Error: "creative not found"},
		{OfferID: "o4", Decision: &evaluator.Decision{Accept: true, Confidence: 0.7}, Error: "funding timed out"},
	}

	s, err := rec.Record("adv-1", results, false)
	require.NoError(err)
	require.NotEmpty(s.SessionID)
	require.Equal("adv-1", s.AdvertiserID)
	require.Equal(4, s.Stats.TotalOffers)
	require.Equal(2, s.Stats.Accepted)
	require.Equal(1, s.Stats.Rejected)
	require.Equal(1, s.Stats.Funded)
	require.Equal(2, s.Stats.Errors)
	require.False(s.Stats.BalanceExhausted)
}

func TestRecordBalanceExhausted(t *testing.T) {
	require := require.New(t)
	rec, _ := newRecorder(t)

	s, err := rec.Record("adv-1", nil, true)
	require.NoError(err)
	require.True(s.Stats.BalanceExhausted)
	require.Zero(s.Stats.TotalOffers)
}

func TestByAdvertiserMostRecentFirst(t *testing.T) {
	require := require.New(t)
	rec, _ := newRecorder(t)

	first, err := rec.Record("adv-1", []OfferResult{{OfferID: "o1"}}, false)
	require.NoError(err)
	time.Sleep(time.Millisecond)
	second, err := rec.Record("adv-1", []OfferResult{{OfferID: "o2"}}, false)
	require.NoError(err)

	// A different advertiser's session must not leak in.
	_, err = rec.Record("adv-2", nil, false)
	require.NoError(err)

	sessions, err := rec.ByAdvertiser("adv-1")
	require.NoError(err)
	require.Len(sessions, 2)
	require.Equal(second.SessionID, sessions[0].SessionID)
	require.Equal(first.SessionID, sessions[1].SessionID)
}

func TestByAdvertiserSkipsCorruptRecords(t *testing.T) {
	require := require.New(t)
	rec, db := newRecorder(t)

	good, err := rec.Record("adv-1", nil, false)
	require.NoError(err)

	require.NoError(db.Put([]byte("session/adv-1/zzzz-corrupt"), []byte("{not json")))

	sessions, err := rec.ByAdvertiser("adv-1")
	require.NoError(err)
	require.Len(sessions, 1)
	require.Equal(good.SessionID, sessions[0].SessionID)
}

func TestGetBySessionID(t *testing.T) {
	require := require.New(t)
	rec, _ := newRecorder(t)

	s, err := rec.Record("adv-1", []OfferResult{{OfferID: "o1", Funded: true}}, false)
	require.NoError(err)

	got, err := rec.Get(s.SessionID)
	require.NoError(err)
	require.NotNil(got)
	require.Equal(s.SessionID, got.SessionID)
	require.Equal("adv-1", got.AdvertiserID)
	require.Len(got.Results, 1)

	missing, err := rec.Get("no-such-session")
	require.NoError(err)
	require.Nil(missing)
}
