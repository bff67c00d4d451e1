// Package store provides the embedded document collection backing
// non-secret connection records and, when the OS keyring is unavailable,
// the encrypted credential fallback collection.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// Store wraps a single bbolt database file holding one or more named
// buckets, mirroring the "document collection" persistence layout.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at dataDir/broker.db.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := bbolt.Open(filepath.Join(dataDir, "broker.db"), 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put JSON-encodes value into bucket under key.
func (s *Store) Put(bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Get JSON-decodes the value under key into dest. Returns ok=false if absent.
func (s *Store) Get(bucket, key string, dest any) (ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, dest)
	})
	return ok, err
}

// Delete removes key from bucket; absent keys are not an error.
func (s *Store) Delete(bucket, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// ForEach walks every key/value pair in bucket, decoding each value via fn's
// argument into a fresh json.RawMessage passed to fn.
func (s *Store) ForEach(bucket string, fn func(key string, value json.RawMessage) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			raw := make(json.RawMessage, len(v))
			copy(raw, v)
			return fn(string(k), raw)
		})
	})
}
