// Package kv abstracts the shared key-value store behind the cache layer.
// Keys are strings, values are opaque bytes, and every entry may carry a
// TTL. Prefix listing is cursor-based so callers can page through large
// index scans without holding the store open.
package kv

import (
	"context"
	"time"
)

// Store is the persistence interface for the proxy. A zero TTL on Put
// stores the value without expiration.
type Store interface {
	// Get returns the value for key, or (nil, nil) when absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key. ttl == 0 means no expiration.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns up to limit keys beginning with prefix, starting after
	// cursor (empty for the first page). The returned cursor is empty when
	// the listing is complete.
	List(ctx context.Context, prefix, cursor string, limit int) (keys []string, next string, err error)

	Close() error
}

// DefaultListLimit is applied when a caller passes limit <= 0.
const DefaultListLimit = 1000
