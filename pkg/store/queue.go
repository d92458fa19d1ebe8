// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/payattn/broker/pkg/core"
)

const queuePrefix = "queue/"

// QueueStore persists failed settlement shares awaiting retry, unique per
// (offer id, share type).
type QueueStore struct {
	store *Store
}

// NewQueueStore creates a queue store on the shared database.
func NewQueueStore(s *Store) *QueueStore {
	return &QueueStore{store: s}
}

func queueKey(offerID string, shareType core.ShareType) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", queuePrefix, offerID, shareType))
}

// Upsert writes the entry, replacing any previous record for the same
// (offer, share) pair so a share is never queued twice.
func (qs *QueueStore) Upsert(entry *core.QueueEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode queue entry %s/%s: %w", entry.OfferID, entry.ShareType, err)
	}
	return qs.store.Put(queueKey(entry.OfferID, entry.ShareType), raw)
}

// Get returns the entry, or (nil, nil) when absent.
func (qs *QueueStore) Get(offerID string, shareType core.ShareType) (*core.QueueEntry, error) {
	raw, err := qs.store.Get(queueKey(offerID, shareType))
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry core.QueueEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode queue entry %s/%s: %w", offerID, shareType, err)
	}
	return &entry, nil
}

// Delete removes the entry for a delivered share.
func (qs *QueueStore) Delete(offerID string, shareType core.ShareType) error {
	return qs.store.Delete(queueKey(offerID, shareType))
}

// List returns every queued entry, oldest first.
func (qs *QueueStore) List() ([]*core.QueueEntry, error) {
	it := qs.store.NewIteratorWithPrefix([]byte(queuePrefix))
	defer it.Release()

	var out []*core.QueueEntry
	for it.Next() {
		var entry core.QueueEntry
		if err := json.Unmarshal(it.Value(), &entry); err != nil {
			continue
		}
		e := entry
		out = append(out, &e)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

// CountForOffer returns how many shares of the offer are still queued.
func (qs *QueueStore) CountForOffer(offerID string) (int, error) {
	it := qs.store.NewIteratorWithPrefix([]byte(queuePrefix + offerID + "/"))
	defer it.Release()

	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}
