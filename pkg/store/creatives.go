// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"encoding/json"
	"fmt"

	"github.com/payattn/broker/pkg/core"
)

const creativePrefix = "creative/"

// CreativeStore persists ad campaign metadata, read-only to the pipeline.
type CreativeStore struct {
	store *Store
}

// NewCreativeStore creates a creative store on the shared database.
func NewCreativeStore(s *Store) *CreativeStore {
	return &CreativeStore{store: s}
}

// Put writes the creative.
func (cs *CreativeStore) Put(creative *core.AdCreative) error {
	raw, err := json.Marshal(creative)
	if err != nil {
		return fmt.Errorf("encode creative %s: %w", creative.AdID, err)
	}
	return cs.store.Put([]byte(creativePrefix+creative.AdID), raw)
}

// Get returns the creative, or (nil, nil) when absent.
func (cs *CreativeStore) Get(adID string) (*core.AdCreative, error) {
	raw, err := cs.store.Get([]byte(creativePrefix + adID))
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var creative core.AdCreative
	if err := json.Unmarshal(raw, &creative); err != nil {
		return nil, fmt.Errorf("decode creative %s: %w", adID, err)
	}
	return &creative, nil
}
