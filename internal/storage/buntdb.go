package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

// BuntStore keeps dedup marks in an embedded BuntDB file.
type BuntStore struct {
	db *buntdb.DB
}

// NewBuntStore opens path, which may be ":memory:".
func NewBuntStore(path string) (*BuntStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store.buntdb.path is required")
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}
	return &BuntStore{db: db}, nil
}

// FromMemory creates an in-memory store.
func FromMemory() (*BuntStore, error) {
	return NewBuntStore(":memory:")
}

// Get reads key.
func (b *BuntStore) Get(_ context.Context, key string) (string, bool, error) {
	var (
		val   string
		found bool
	)
	err := b.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, found = v, true
		return nil
	})
	if err != nil {
		return "", false, unavailable("buntdb get", err)
	}
	return val, found, nil
}

// Set overwrites key.
func (b *BuntStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	err := b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, value, setOptions(ttl))
		return err
	})
	if err != nil {
		return unavailable("buntdb set", err)
	}
	return nil
}

// SetNX writes key only if it does not exist yet. The read and the write
// share one update transaction.
func (b *BuntStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	written := false
	err := b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		if _, _, err := tx.Set(key, value, setOptions(ttl)); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, unavailable("buntdb setnx", err)
	}
	return written, nil
}

// Close closes the database file.
func (b *BuntStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func setOptions(ttl time.Duration) *buntdb.SetOptions {
	if ttl <= 0 {
		return nil
	}
	return &buntdb.SetOptions{Expires: true, TTL: ttl}
}

var _ KV = (*BuntStore)(nil)
