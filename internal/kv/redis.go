package kv

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// scanBatch is the COUNT hint for each SCAN round trip.
const scanBatch = 1000

// RedisStore implements Store on a Redis instance. TTLs map to native key
// expiry; prefix listing uses SCAN with MATCH so it never blocks the
// server on large keyspaces.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects to Redis at addr (host:port) and verifies the
// connection with a PING.
func NewRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return val, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// go-redis treats expiration 0 as "no expiry", same as our contract.
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

// List drains the matching keys via SCAN and pages over the sorted set,
// so the returned cursor is a key like every other backend's. SCAN has
// no ordering or resume-by-key of its own; keyspaces here are
// prefix-scoped indexes, not the whole database.
func (r *RedisStore) List(ctx context.Context, prefix, cursor string, limit int) ([]string, string, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var all []string
	var scanCursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, scanCursor, scanMatch(prefix), scanBatch).Result()
		if err != nil {
			return nil, "", fmt.Errorf("kv list %q: %w", prefix, err)
		}
		all = append(all, keys...)
		if next == 0 {
			break
		}
		scanCursor = next
	}
	keys, next := pageAfter(all, cursor, limit)
	return keys, next, nil
}

// pageAfter sorts keys and returns the page of up to limit entries
// strictly after cursor, plus the next cursor (the page's last key, or
// empty when the listing is complete).
func pageAfter(keys []string, cursor string, limit int) ([]string, string) {
	sort.Strings(keys)
	start := 0
	if cursor != "" {
		start = sort.SearchStrings(keys, cursor)
		if start < len(keys) && keys[start] == cursor {
			start++
		}
	}
	end := start + limit
	if end >= len(keys) {
		return keys[start:], ""
	}
	return keys[start:end], keys[end-1]
}

func (r *RedisStore) Close() error { return r.client.Close() }

// scanMatch escapes glob metacharacters so the prefix matches literally.
func scanMatch(prefix string) string {
	out := make([]byte, 0, len(prefix)+1)
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\', prefix[i])
		default:
			out = append(out, prefix[i])
		}
	}
	return string(out) + "*"
}
