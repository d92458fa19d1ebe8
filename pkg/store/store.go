// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
)

// Store wraps the luxfi database interface.
type Store struct {
	db database.Database
}

// New creates a store. dbType "memory" is for tests and demo mode; anything
// else opens badger at path.
func New(dbType string, path string) (*Store, error) {
	var db database.Database
	var err error

	switch dbType {
	case "memory":
		db = memdb.New()
	default:
		db, err = badgerdb.New(path, nil, "", nil)
		if err != nil {
			return nil, err
		}
	}

	return &Store{db: db}, nil
}

// NewMemory creates an in-memory store.
func NewMemory() *Store {
	return &Store{db: memdb.New()}
}

// Put stores a key-value pair.
func (s *Store) Put(key, value []byte) error {
	return s.db.Put(key, value)
}

// Get retrieves a value by key.
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.db.Get(key)
}

// Has checks if a key exists.
func (s *Store) Has(key []byte) (bool, error) {
	return s.db.Has(key)
}

// Delete removes a key-value pair.
func (s *Store) Delete(key []byte) error {
	return s.db.Delete(key)
}

// NewIteratorWithPrefix creates an iterator over keys with the prefix.
func (s *Store) NewIteratorWithPrefix(prefix []byte) database.Iterator {
	return s.db.NewIteratorWithPrefix(prefix)
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return err == database.ErrNotFound
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
