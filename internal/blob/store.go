// Package blob stores JSON documents keyed by entity id, with a version
// number on every document so writers can do check-and-set updates.
//
// Keys look like "cart/<id>" or "order/<id>". Backends: in-memory (tests and
// single-instance development), Redis and Postgres.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Get for missing or expired keys.
	ErrNotFound = errors.New("blob: not found")

	// ErrVersionMismatch is returned by Put when the stored version differs
	// from the expected one.
	ErrVersionMismatch = errors.New("blob: version mismatch")
)

// Any skips the version check on Put.
const Any int64 = -1

// Store is a versioned document store.
type Store interface {
	// Get returns the document and its version.
	Get(ctx context.Context, key string) ([]byte, int64, error)

	// Put writes data if the stored version equals expected and returns the
	// new version. expected 0 means the key must not exist; Any skips the
	// check. A zero ttl means the document never expires.
	Put(ctx context.Context, key string, data []byte, expected int64, ttl time.Duration) (int64, error)

	// Delete removes the key. Deleting a missing key is not an error.
	//
	// Redis restarts a key at version 1 after Delete or expiry, Postgres
	// after Delete, so a version read before the key went away must not be
	// used for a later Put. MemoryStore keeps counting from the last version.
	Delete(ctx context.Context, key string) error

	// List returns the keys starting with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// GetJSON loads and decodes the document at key.
func GetJSON[T any](ctx context.Context, s Store, key string) (*T, int64, error) {
	data, version, err := s.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, 0, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &v, version, nil
}

// PutJSON encodes v and writes it with Put semantics.
func PutJSON(ctx context.Context, s Store, key string, v any, expected int64, ttl time.Duration) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Put(ctx, key, data, expected, ttl)
}
