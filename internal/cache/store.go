// Package cache provides the typed caching layer over the shared KV store:
// TTL handling, bigint-safe JSON round-trips, and deterministic cache key
// derivation for structured call descriptors.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/kv"
)

// Options configures a Store.
type Options struct {
	// DefaultTTL applies when Set is called with UseDefaultTTL.
	DefaultTTL time.Duration
	// IgnoreTTL stores every entry without expiration (indefinite mode).
	IgnoreTTL bool
}

// UseDefaultTTL is the Set sentinel for "caller did not specify a TTL";
// the store's DefaultTTL applies. An explicit 0 stores without
// expiration.
const UseDefaultTTL time.Duration = -1

// Store wraps the KV with JSON encoding and TTL policy. Values are stored
// as their serialized text; strings and raw bytes pass through untouched
// so upstream response bodies keep their exact shape.
type Store struct {
	kv   kv.Store
	opts Options
}

// New creates a Store over the given KV.
func New(store kv.Store, opts Options) *Store {
	return &Store{kv: store, opts: opts}
}

// KV exposes the underlying store, for health probes and shutdown.
func (s *Store) KV() kv.Store { return s.kv }

// legacyBigint matches the historical bigint stringification: all digits
// with a trailing "n" (e.g. "12345678901234567890n").
var legacyBigint = regexp.MustCompile(`^[0-9]+n$`)

// GetRaw returns the stored bytes for key, or nil when absent.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, error) {
	b, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, apperr.New(apperr.CodeCacheError, "cache read failed for %s", key).WithCause(err)
	}
	return b, nil
}

// Set stores value under key. Strings and byte slices are stored as-is;
// anything else is JSON-encoded. A ttl of 0 (or IgnoreTTL) stores the
// entry without expiration; a negative ttl applies the store default.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return apperr.New(apperr.CodeCacheError, "cache encode failed for %s", key).WithCause(err)
		}
		data = b
	}
	effective := ttl
	if effective < 0 {
		effective = s.opts.DefaultTTL
	}
	if s.opts.IgnoreTTL {
		effective = 0
	}
	if err := s.kv.Put(ctx, key, data, effective); err != nil {
		return apperr.New(apperr.CodeCacheError, "cache write failed for %s", key).WithCause(err)
	}
	return nil
}

// SetForever stores value without expiration regardless of the default TTL.
func (s *Store) SetForever(ctx context.Context, key string, value any) error {
	return s.Set(ctx, key, value, 0)
}

// Delete removes key from the cache.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return apperr.New(apperr.CodeCacheError, "cache delete failed for %s", key).WithCause(err)
	}
	return nil
}

// List pages keys under prefix.
func (s *Store) List(ctx context.Context, prefix, cursor string, limit int) ([]string, string, error) {
	keys, next, err := s.kv.List(ctx, prefix, cursor, limit)
	if err != nil {
		return nil, "", apperr.New(apperr.CodeCacheError, "cache list failed for %s", prefix).WithCause(err)
	}
	return keys, next, nil
}

// ListAll drains every key under prefix across pages.
func (s *Store) ListAll(ctx context.Context, prefix string) ([]string, error) {
	var all []string
	cursor := ""
	for {
		keys, next, err := s.List(ctx, prefix, cursor, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// Get decodes the stored JSON for key into T, reviving legacy
// bigint-strings (trailing "n") into plain decimal strings. Returns nil
// when the key is absent.
func Get[T any](ctx context.Context, s *Store, key string) (*T, error) {
	raw, err := s.GetRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	normalized, err := NormalizeBigints(raw)
	if err != nil {
		return nil, apperr.New(apperr.CodeCacheError, "cache decode failed for %s", key).WithCause(err)
	}
	var out T
	if err := json.Unmarshal(normalized, &out); err != nil {
		return nil, apperr.New(apperr.CodeCacheError, "cache decode failed for %s", key).WithCause(err)
	}
	return &out, nil
}

// NormalizeBigints rewrites legacy "123n" bigint strings anywhere in a
// JSON document into plain decimal strings. Numbers are carried through
// as json.Number so values beyond 2^53 never round-trip through float64.
func NormalizeBigints(raw []byte) ([]byte, error) {
	v, err := decodeNumberSafe(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stripBigintSuffix(v))
}

func decodeNumberSafe(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func stripBigintSuffix(v any) any {
	switch t := v.(type) {
	case string:
		if legacyBigint.MatchString(t) {
			return t[:len(t)-1]
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = stripBigintSuffix(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = stripBigintSuffix(e)
		}
		return t
	default:
		return v
	}
}
