package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and for local runs
// without a durable backend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiration
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memEntry),
		nowFunc: time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && !m.nowFunc().Before(e.expiresAt) {
		return nil, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.nowFunc().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix, cursor string, limit int) ([]string, string, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.RLock()
	now := m.nowFunc()
	var all []string
	for k, e := range m.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			continue
		}
		if cursor != "" && k <= cursor {
			continue
		}
		all = append(all, k)
	}
	m.mu.RUnlock()

	sort.Strings(all)
	next := ""
	if len(all) > limit {
		all = all[:limit]
		next = all[len(all)-1]
	}
	return all, next, nil
}

func (m *MemoryStore) Close() error { return nil }

// Len returns the number of live entries. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	now := m.nowFunc()
	for _, e := range m.entries {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}
