// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/luxfi/cache/lru"
	"golang.org/x/crypto/hkdf"
)

// KeyCache holds fetched key material for a bounded time, keyed by the hash
// of its source. It is an explicit dependency: construct one and inject it
// wherever key material is fetched, there is no package-level instance.
type KeyCache struct {
	lru *lru.Cache[string, cachedKey]
	ttl time.Duration
	now func() time.Time
}

type cachedKey struct {
	material  []byte
	fetchedAt time.Time
}

// NewKeyCache creates a cache holding up to size entries for ttl each.
func NewKeyCache(size int, ttl time.Duration) *KeyCache {
	return &KeyCache{
		lru: lru.NewCache[string, cachedKey](size),
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the cached material, or false when absent or expired. The
// underlying LRU has no notion of time, so expiry is checked here.
func (kc *KeyCache) Get(hash string) ([]byte, bool) {
	entry, ok := kc.lru.Get(hash)
	if !ok {
		return nil, false
	}
	if kc.now().Sub(entry.fetchedAt) > kc.ttl {
		return nil, false
	}
	out := make([]byte, len(entry.material))
	copy(out, entry.material)
	return out, true
}

// Put stores key material under the hash of its source.
func (kc *KeyCache) Put(hash string, material []byte) {
	cp := make([]byte, len(material))
	copy(cp, material)
	kc.lru.Put(hash, cachedKey{material: cp, fetchedAt: kc.now()})
}

// HashKey produces the cache key for a piece of source material.
func HashKey(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// DeriveKey expands cached master material into a purpose-bound key via
// HKDF, so distinct consumers never share raw material.
func DeriveKey(master []byte, purpose string, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, master, nil, []byte(purpose))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
