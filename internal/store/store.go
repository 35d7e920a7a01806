// Package store persists entity state across restarts. Platforms that keep
// local state (the cover position simulator) write a JSON snapshot here on
// every change and read it back on startup.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// stateBucket holds one nested bucket per platform, keyed by entity object id.
const stateBucket = "_state"

// ErrNotFound is returned when no snapshot exists for an entity.
var ErrNotFound = errors.New("not found")

// Store is a bbolt-backed persisted-state store.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(stateBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveJSON marshals v and stores it under platform/key.
func (s *Store) SaveJSON(platform, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		platformBucket, err := bucket.CreateBucketIfNotExists([]byte(platform))
		if err != nil {
			return fmt.Errorf("failed to create platform bucket: %w", err)
		}
		return platformBucket.Put([]byte(key), data)
	})
}

// LoadJSON reads the snapshot stored under platform/key into v.
// Returns ErrNotFound when no snapshot exists.
func (s *Store) LoadJSON(platform, key string, v interface{}) error {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		platformBucket := bucket.Bucket([]byte(platform))
		if platformBucket == nil {
			return ErrNotFound
		}

		stored := platformBucket.Get([]byte(key))
		if stored == nil {
			return ErrNotFound
		}

		data = make([]byte, len(stored))
		copy(data, stored)
		return nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot stored under platform/key.
func (s *Store) Delete(platform, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		platformBucket := bucket.Bucket([]byte(platform))
		if platformBucket == nil {
			return nil
		}
		return platformBucket.Delete([]byte(key))
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
