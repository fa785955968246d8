// Package ratelimit provides the token-bucket primitives used on both
// sides of the proxy: a continuous-refill bucket bounding outbound
// upstream pressure, and an optional per-IP middleware guarding the front
// door.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a continuous-refill counter bounding request rate. Refill
// is lazy: it is computed on access from elapsed wall time, so the bucket
// stays correct across long idle periods without a timer goroutine.
type TokenBucket struct {
	mu           sync.Mutex
	tokens       float64
	maxTokens    float64
	refillPerMs  float64
	lastRefillAt time.Time

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// NewTokenBucket creates a full bucket holding maxTokens that refills at
// maxTokens per refillInterval.
func NewTokenBucket(maxTokens int, refillInterval time.Duration) *TokenBucket {
	b := &TokenBucket{
		tokens:      float64(maxTokens),
		maxTokens:   float64(maxTokens),
		refillPerMs: float64(maxTokens) / float64(refillInterval.Milliseconds()),
		nowFunc:     time.Now,
	}
	b.lastRefillAt = b.nowFunc()
	return b
}

// TryAcquire refills, then consumes one token if available. It never
// blocks; callers poll via the request queue.
func (b *TokenBucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Available refills and returns the current token count.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// refill adds elapsed*rate tokens, clamped to maxTokens. Caller holds b.mu.
func (b *TokenBucket) refill() {
	now := b.nowFunc()
	elapsedMs := float64(now.Sub(b.lastRefillAt).Microseconds()) / 1000.0
	if elapsedMs <= 0 {
		return
	}
	b.tokens += elapsedMs * b.refillPerMs
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefillAt = now
}
