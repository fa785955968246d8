package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
)

// ClientLimiter enforces a per-client-IP request budget at the front door.
// Each IP gets its own TokenBucket; stale buckets are swept periodically.
type ClientLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	max     int
	period  time.Duration
	maxKeys int
	stop    chan struct{}
	counter prometheus.Counter // optional: incremented on each 429
}

type clientBucket struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// Option configures a ClientLimiter.
type Option func(*ClientLimiter)

// WithCounter sets a Prometheus counter incremented on each rejection.
func WithCounter(c prometheus.Counter) Option {
	return func(l *ClientLimiter) { l.counter = c }
}

// WithMaxKeys caps the number of tracked IPs before eviction.
func WithMaxKeys(n int) Option {
	return func(l *ClientLimiter) { l.maxKeys = n }
}

// NewClientLimiter creates a limiter allowing max requests per period per
// client IP.
func NewClientLimiter(max int, period time.Duration, opts ...Option) *ClientLimiter {
	l := &ClientLimiter{
		buckets: make(map[string]*clientBucket),
		max:     max,
		period:  period,
		maxKeys: 100000,
		stop:    make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup()
	return l
}

// Middleware rejects over-budget clients with the standard JSON error
// envelope so front-door 429s look the same as upstream ones.
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.Header.Get("X-Real-IP")
		if ip == "" {
			ip = r.RemoteAddr
		}
		if !l.allow(ip) {
			if l.counter != nil {
				l.counter.Inc()
			}
			retryAfter := int(l.period.Seconds())
			e := apperr.New(apperr.CodeRateLimitExceeded, "too many requests").
				WithDetails(map[string]any{"retryAfter": retryAfter})
			h := w.Header()
			// The rejection short-circuits ahead of the router's CORS
			// middleware, so it sets the headers itself.
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Content-Type", "application/json")
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			w.WriteHeader(e.HTTPStatus())
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": e})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *ClientLimiter) allow(key string) bool {
	l.mu.Lock()
	cb, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictOldest()
		}
		cb = &clientBucket{bucket: NewTokenBucket(l.max, l.period)}
		l.buckets[key] = cb
	}
	cb.lastSeen = time.Now()
	l.mu.Unlock()
	return cb.bucket.TryAcquire()
}

// evictOldest removes the least recently seen client. Caller holds l.mu.
func (l *ClientLimiter) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, cb := range l.buckets {
		if first || cb.lastSeen.Before(oldestTime) {
			oldestKey = k
			oldestTime = cb.lastSeen
			first = false
		}
	}
	if !first {
		delete(l.buckets, oldestKey)
	}
}

// Stop terminates the background cleanup goroutine.
func (l *ClientLimiter) Stop() { close(l.stop) }

func (l *ClientLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for k, cb := range l.buckets {
				if cb.lastSeen.Before(cutoff) {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
