package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests drive the lazy refill deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBucket(max int, interval time.Duration) (*TokenBucket, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := NewTokenBucket(max, interval)
	b.nowFunc = func() time.Time { return clock.now }
	b.lastRefillAt = clock.now
	return b, clock
}

func TestBucketStartsFull(t *testing.T) {
	b, _ := newTestBucket(5, time.Minute)
	assert.InDelta(t, 5.0, b.Available(), 0.001)

	for i := 0; i < 5; i++ {
		assert.True(t, b.TryAcquire(), "acquire %d should succeed", i)
	}
	assert.False(t, b.TryAcquire(), "empty bucket must reject")
}

func TestBucketContinuousRefill(t *testing.T) {
	b, clock := newTestBucket(60, time.Minute)

	for i := 0; i < 60; i++ {
		require.True(t, b.TryAcquire())
	}
	require.False(t, b.TryAcquire())

	// 60 tokens per minute = 1 token per second. Half a second in, still
	// under one token.
	clock.advance(500 * time.Millisecond)
	assert.False(t, b.TryAcquire())

	clock.advance(600 * time.Millisecond)
	assert.True(t, b.TryAcquire())
	assert.False(t, b.TryAcquire())
}

func TestBucketRefillClampsAtMax(t *testing.T) {
	b, clock := newTestBucket(3, time.Second)

	require.True(t, b.TryAcquire())
	clock.advance(time.Hour)
	assert.InDelta(t, 3.0, b.Available(), 0.001, "refill must clamp to capacity")
}

func TestBucketAvailableDoesNotConsume(t *testing.T) {
	b, _ := newTestBucket(2, time.Minute)
	_ = b.Available()
	_ = b.Available()
	assert.InDelta(t, 2.0, b.Available(), 0.001)
}

func TestClientLimiterRejectsWithEnvelope(t *testing.T) {
	l := NewClientLimiter(2, time.Minute)
	defer l.Stop()

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/hiro-api/v2/info", nil)
		req.Header.Set("X-Real-IP", "203.0.113.9")
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)
	assert.Equal(t, http.StatusOK, do().Code)

	rec := do()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"), "header must match the retryAfter detail")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"),
		"rejections carry CORS headers like every other response")

	var body struct {
		Success bool `json:"success"`
		Error   *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.Error.Code)
}

func TestClientLimiterIsPerClient(t *testing.T) {
	l := NewClientLimiter(1, time.Minute)
	defer l.Stop()

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2"), "a second client has its own bucket")
}

func TestClientLimiterEvictsAtMaxKeys(t *testing.T) {
	l := NewClientLimiter(1, time.Minute, WithMaxKeys(2))
	defer l.Stop()

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("b"))
	assert.True(t, l.allow("c"))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.LessOrEqual(t, len(l.buckets), 2)
}
