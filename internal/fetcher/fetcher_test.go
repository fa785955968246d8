package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/kv"
	"github.com/aibtcdev/edge-proxy/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFetcher(t *testing.T, baseURL string, retries int) (*Fetcher, *cache.Store) {
	t.Helper()
	store := cache.New(kv.NewMemory(), cache.Options{DefaultTTL: time.Minute})
	f, err := New(Config{
		BaseURL: baseURL,
		Service: "hiro-api",
		Headers: map[string]string{"x-api-key": "test-key"},
		Queue: queue.Config{
			MaxRequestsPerInterval: 1000,
			Interval:               time.Second,
			MaxRetries:             retries,
			RetryDelay:             time.Millisecond,
			RequestTimeout:         5 * time.Second,
		},
	}, store, nil, testLogger(), nil)
	require.NoError(t, err)
	return f, store
}

func TestFetchCachesAndServesHit(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"height":1234}`))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, srv.URL, 0)
	ctx := context.Background()

	res, err := f.Fetch(ctx, "/v2/info", Options{CacheKey: "hiroapi_v2_info"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.JSONEq(t, `{"height":1234}`, string(res.Body))

	res, err = f.Fetch(ctx, "/v2/info", Options{CacheKey: "hiroapi_v2_info"})
	require.NoError(t, err)
	assert.True(t, res.Cached, "second fetch must come from the cache")
	assert.Equal(t, int64(1), calls.Load())
}

func TestFetchBustCacheRefetches(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"n":` + time.Now().String()[:4] + `}`))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, srv.URL, 0)
	ctx := context.Background()

	_, err := f.Fetch(ctx, "/v2/info", Options{CacheKey: "k"})
	require.NoError(t, err)
	_, err = f.Fetch(ctx, "/v2/info", Options{CacheKey: "k", BustCache: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetchSkipCacheSuppressesWrite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f, store := newTestFetcher(t, srv.URL, 0)
	ctx := context.Background()

	_, err := f.Fetch(ctx, "/v2/info", Options{CacheKey: "k", SkipCache: true})
	require.NoError(t, err)

	got, err := store.GetRaw(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got, "SkipCache must leave the cache untouched")
}

func TestFetch429BecomesRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, srv.URL, 0)
	_, err := f.Fetch(context.Background(), "/v2/info", Options{CacheKey: "k"})
	require.Error(t, err)
	ae := apperr.From(err)
	assert.Equal(t, apperr.CodeRateLimitExceeded, ae.Code)
	assert.Equal(t, 30, ae.Details["retryAfter"])
}

func TestFetch5xxRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, srv.URL, 2)
	res, err := f.Fetch(context.Background(), "/v2/info", Options{CacheKey: "k"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(res.Body))
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetch4xxSurfacedWithoutRetryOrCache(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such contract"}`))
	}))
	defer srv.Close()

	f, store := newTestFetcher(t, srv.URL, 3)
	res, err := f.Fetch(context.Background(), "/v2/contracts/x", Options{CacheKey: "k"})
	require.NoError(t, err, "4xx is a result, not a throw")
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.JSONEq(t, `{"error":"no such contract"}`, string(res.Body))
	assert.Equal(t, int64(1), calls.Load(), "client errors must not be retried")

	got, err := store.GetRaw(context.Background(), "k")
	require.NoError(t, err)
	assert.Nil(t, got, "non-200 results must not be cached")
}

func TestPostSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SP000000000000000000002Q6VF78", body["sender"])
		_, _ = w.Write([]byte(`{"okay":true}`))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, srv.URL, 0)
	res, err := f.Post(context.Background(), "/v2/contracts/call-read/a/b/c",
		[]byte(`{"sender":"SP000000000000000000002Q6VF78","arguments":[]}`),
		Options{CacheKey: "k", SkipCache: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"okay":true}`, string(res.Body))
}

func TestResolvePreservesBasePath(t *testing.T) {
	store := cache.New(kv.NewMemory(), cache.Options{})
	f, err := New(Config{
		BaseURL: "https://example.com/api",
		Service: "stx-city",
		Queue:   queue.Config{MaxRequestsPerInterval: 1, Interval: time.Second},
	}, store, nil, testLogger(), nil)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/api/tokens?limit=5", f.resolve("/tokens?limit=5"))
	assert.Equal(t, "https://example.com/api/tokens", f.resolve("tokens"))
}

func TestFetchInvalidBaseURL(t *testing.T) {
	store := cache.New(kv.NewMemory(), cache.Options{})
	_, err := New(Config{BaseURL: "://bad", Service: "x", Queue: queue.Config{}}, store, nil, testLogger(), nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConfigError, apperr.From(err).Code)
}

func TestEntryTTLMapping(t *testing.T) {
	assert.Equal(t, cache.UseDefaultTTL, entryTTL(0), "unset keeps the store default")
	assert.Equal(t, time.Duration(0), entryTTL(-1), "negative stores without expiration")
	assert.Equal(t, 30*time.Second, entryTTL(30*time.Second))
}
