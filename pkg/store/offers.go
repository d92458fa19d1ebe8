// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"encoding/json"
	"fmt"

	"github.com/payattn/broker/pkg/core"
)

const offerPrefix = "offer/"

// OfferStore persists offers keyed by offer id.
type OfferStore struct {
	store *Store
}

// NewOfferStore creates an offer store on the shared database.
func NewOfferStore(s *Store) *OfferStore {
	return &OfferStore{store: s}
}

func offerKey(offerID string) []byte {
	return []byte(offerPrefix + offerID)
}

// Put writes the offer.
func (os *OfferStore) Put(offer *core.Offer) error {
	raw, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("encode offer %s: %w", offer.OfferID, err)
	}
	return os.store.Put(offerKey(offer.OfferID), raw)
}

// Get returns the offer, or (nil, nil) when absent.
func (os *OfferStore) Get(offerID string) (*core.Offer, error) {
	raw, err := os.store.Get(offerKey(offerID))
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var offer core.Offer
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("decode offer %s: %w", offerID, err)
	}
	return &offer, nil
}

// ListByAdvertiser returns the advertiser's offers in the given status.
func (os *OfferStore) ListByAdvertiser(advertiserID string, status core.OfferStatus) ([]*core.Offer, error) {
	it := os.store.NewIteratorWithPrefix([]byte(offerPrefix))
	defer it.Release()

	var out []*core.Offer
	for it.Next() {
		var offer core.Offer
		if err := json.Unmarshal(it.Value(), &offer); err != nil {
			continue
		}
		if offer.AdvertiserID == advertiserID && offer.Status == status {
			o := offer
			out = append(out, &o)
		}
	}
	return out, it.Error()
}
