// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/payattn/broker/pkg/evaluator"
	"github.com/payattn/broker/pkg/log"
	"github.com/payattn/broker/pkg/proof"
	"github.com/payattn/broker/pkg/store"
)

const (
	sessionPrefix = "session/"
	indexPrefix   = "sessionidx/"
)

// OfferResult is the outcome of assessing one offer within a run.
type OfferResult struct {
	OfferID       string              `json:"offer_id"`
	Decision      *evaluator.Decision `json:"decision,omitempty"`
	ProofSummary  *proof.Result       `json:"proof_summary,omitempty"`
	Funded        bool                `json:"funded"`
	EscrowAddress string              `json:"escrow_address,omitempty"`
	TxSignature   string              `json:"tx_signature,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// Stats aggregates one assessment run.
type Stats struct {
	TotalOffers int `json:"total_offers"`
	Accepted    int `json:"accepted"`
	Rejected    int `json:"rejected"`
	Funded      int `json:"funded"`
	Errors      int `json:"errors"`

	// BalanceExhausted advises the caller that funding hit an
	// insufficient-balance failure during the run.
	BalanceExhausted bool `json:"balance_exhausted,omitempty"`
}

// Session is one immutable assessment record.
type Session struct {
	SessionID    string        `json:"session_id"`
	AdvertiserID string        `json:"advertiser_id"`
	Timestamp    time.Time     `json:"timestamp"`
	Stats        Stats         `json:"stats"`
	Results      []OfferResult `json:"results"`
}

// Recorder persists assessment sessions append-only.
type Recorder struct {
	store *store.Store
	log   log.Logger
}

// NewRecorder creates a session recorder on the shared database.
func NewRecorder(s *store.Store, logger log.Logger) *Recorder {
	return &Recorder{store: s, log: logger}
}

// NewSessionID returns a time-prefixed id so lexical order is chronological;
// the uuid suffix keeps ids from the same nanosecond distinguishable.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.NewString())
}

// Record computes aggregate stats from the results and persists one
// immutable session. The returned session is complete even when individual
// offers in the run failed.
func (r *Recorder) Record(advertiserID string, results []OfferResult, balanceExhausted bool) (*Session, error) {
	now := time.Now()
	s := &Session{
		SessionID:    NewSessionID(now),
		AdvertiserID: advertiserID,
		Timestamp:    now,
		Results:      results,
	}
	s.Stats.BalanceExhausted = balanceExhausted

	s.Stats.TotalOffers = len(results)
	for _, res := range results {
		if res.Decision != nil {
			if res.Decision.Accept {
				s.Stats.Accepted++
			} else {
				s.Stats.Rejected++
			}
		}
		if res.Funded {
			s.Stats.Funded++
		}
		if res.Error != "" {
			s.Stats.Errors++
		}
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.SessionID, err)
	}
	if err := r.store.Put(sessionKey(advertiserID, s.SessionID), raw); err != nil {
		return nil, err
	}
	// Secondary index for lookup by session id alone. Best effort: a
	// missing index row costs a lookup path, not the record.
	if err := r.store.Put([]byte(indexPrefix+s.SessionID), []byte(advertiserID)); err != nil {
		r.log.Warn("session index write failed",
			log.String("session", s.SessionID),
			log.Error(err))
	}
	return s, nil
}

// ByAdvertiser lists the advertiser's sessions, most recent first.
// Corrupted historical records are skipped, not fatal.
func (r *Recorder) ByAdvertiser(advertiserID string) ([]*Session, error) {
	it := r.store.NewIteratorWithPrefix([]byte(sessionPrefix + advertiserID + "/"))
	defer it.Release()

	var out []*Session
	for it.Next() {
		var s Session
		if err := json.Unmarshal(it.Value(), &s); err != nil {
			r.log.Warn("skipping corrupt session record",
				log.String("key", string(it.Key())),
				log.Error(err))
			continue
		}
		cp := s
		out = append(out, &cp)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SessionID > out[j].SessionID
	})
	return out, nil
}

// Get returns a session by id, or (nil, nil) when absent.
func (r *Recorder) Get(sessionID string) (*Session, error) {
	advertiser, err := r.store.Get([]byte(indexPrefix + sessionID))
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := r.store.Get(sessionKey(string(advertiser), sessionID))
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &s, nil
}

func sessionKey(advertiserID, sessionID string) []byte {
	return []byte(sessionPrefix + advertiserID + "/" + sessionID)
}
