// Package fetcher composes the token bucket, request queue, and cache
// store into the per-upstream "cached rate-limited fetcher". Cache hits
// return without consuming a token; only upstream pressure is
// rate-limited.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
	"github.com/aibtcdev/edge-proxy/internal/queue"
)

// defaultFetchTimeout bounds the raw HTTP exchange, independently of the
// queue's per-task deadline.
const defaultFetchTimeout = 5 * time.Second

// slowResponse is the upstream latency above which a WARN is emitted.
const slowResponse = time.Second

// Result is the settled outcome of one fetch. Status carries the
// upstream's own code so 4xx bodies can be surfaced without a retry.
type Result struct {
	Body   []byte
	Status int
	Cached bool
}

// Options control cache interaction for a single fetch.
type Options struct {
	// CacheKey addresses the entry in the KV. Required.
	CacheKey string
	// BustCache skips the cache read and refreshes the entry.
	BustCache bool
	// SkipCache suppresses the cache write after a successful fetch.
	SkipCache bool
	// TTL overrides the store's default for this entry. Zero (the unset
	// value) keeps the default; negative stores without expiration.
	TTL time.Duration
}

// entryTTL maps the fetch option onto the store's Set convention.
func entryTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return cache.UseDefaultTTL
	case ttl < 0:
		return 0
	default:
		return ttl
	}
}

// Config constructs a Fetcher for one upstream origin.
type Config struct {
	// BaseURL is the upstream origin, possibly with a base path that
	// endpoint paths are resolved under.
	BaseURL string
	// Headers are sent on every upstream request (API keys included).
	Headers map[string]string
	// Queue tunes the paired request queue to the upstream's rate limit.
	Queue queue.Config
	// FetchTimeout bounds each HTTP exchange; defaults to 5s.
	FetchTimeout time.Duration
	// Service names the upstream in logs and metrics.
	Service string
}

// Fetcher is a cached rate-limited HTTP GET client for one upstream.
type Fetcher struct {
	base         *url.URL
	headers      map[string]string
	client       *http.Client
	cache        *cache.Store
	q            *queue.Queue[*Result]
	logger       *slog.Logger
	metrics      *metrics.Registry
	service      string
	fetchTimeout time.Duration
}

// New creates a Fetcher. client may be nil, in which case a default
// http.Client is used; callers that need custom transports (tracing,
// header rewriting) pass a pre-built client.
func New(cfg Config, store *cache.Store, client *http.Client, logger *slog.Logger, m *metrics.Registry) (*Fetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, apperr.New(apperr.CodeConfigError, "invalid upstream base URL %q", cfg.BaseURL).WithCause(err)
	}
	if client == nil {
		client = &http.Client{}
	}
	ft := cfg.FetchTimeout
	if ft <= 0 {
		ft = defaultFetchTimeout
	}
	return &Fetcher{
		base:         base,
		headers:      cfg.Headers,
		client:       client,
		cache:        store,
		q:            queue.New[*Result](cfg.Queue, logger),
		logger:       logger,
		metrics:      m,
		service:      cfg.Service,
		fetchTimeout: ft,
	}, nil
}

// Queue exposes the underlying request queue (depth observability).
func (f *Fetcher) Queue() *queue.Queue[*Result] { return f.q }

// Cache exposes the underlying cache store.
func (f *Fetcher) Cache() *cache.Store { return f.cache }

// Fetch returns the cached body for opts.CacheKey when present (and not
// busting), otherwise enqueues an upstream GET for endpoint and caches a
// successful result before resolving.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string, opts Options) (*Result, error) {
	if !opts.BustCache {
		body, err := f.cache.GetRaw(ctx, opts.CacheKey)
		if err != nil {
			return nil, err
		}
		if body != nil {
			f.countCache(true)
			return &Result{Body: body, Status: http.StatusOK, Cached: true}, nil
		}
	}
	f.countCache(false)

	return f.q.Enqueue(ctx, func(taskCtx context.Context) (*Result, error) {
		res, err := WithTimeout(taskCtx, f.fetchTimeout, "upstream fetch timed out",
			func(c context.Context) (*Result, error) { return f.do(c, http.MethodGet, endpoint, nil) })
		if err != nil {
			return nil, err
		}
		// Write-through before resolving the caller (cache-before-resolve).
		if res.Status == http.StatusOK && !opts.SkipCache {
			if err := f.cache.Set(taskCtx, opts.CacheKey, res.Body, entryTTL(opts.TTL)); err != nil {
				return nil, err
			}
		}
		return res, nil
	})
}

// Post is Fetch for POST endpoints: same cache interaction, same queue
// admission, with payload sent as a JSON body.
func (f *Fetcher) Post(ctx context.Context, endpoint string, payload []byte, opts Options) (*Result, error) {
	if !opts.BustCache {
		body, err := f.cache.GetRaw(ctx, opts.CacheKey)
		if err != nil {
			return nil, err
		}
		if body != nil {
			f.countCache(true)
			return &Result{Body: body, Status: http.StatusOK, Cached: true}, nil
		}
	}
	f.countCache(false)

	return f.q.Enqueue(ctx, func(taskCtx context.Context) (*Result, error) {
		res, err := WithTimeout(taskCtx, f.fetchTimeout, "upstream fetch timed out",
			func(c context.Context) (*Result, error) { return f.do(c, http.MethodPost, endpoint, payload) })
		if err != nil {
			return nil, err
		}
		if res.Status == http.StatusOK && !opts.SkipCache {
			if err := f.cache.Set(taskCtx, opts.CacheKey, res.Body, entryTTL(opts.TTL)); err != nil {
				return nil, err
			}
		}
		return res, nil
	})
}

// do performs one upstream exchange and classifies the response: 429 and
// 5xx become typed throws (retryable for 5xx), other 4xx are surfaced as
// a non-retried result carrying the upstream's status and body.
func (f *Fetcher) do(ctx context.Context, method, endpoint string, payload []byte) (*Result, error) {
	u := f.resolve(endpoint)
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, apperr.New(apperr.CodeUpstreamAPIError, "build request for %s", endpoint).WithCause(err)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.countUpstream("transport_error")
		return nil, apperr.New(apperr.CodeUpstreamAPIError, "upstream request failed").WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()
	elapsed := time.Since(started)
	if elapsed > slowResponse {
		f.logger.Warn("slow upstream response",
			slog.String("service", f.service),
			slog.String("endpoint", endpoint),
			slog.Duration("duration", elapsed))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		f.countUpstream("read_error")
		return nil, apperr.New(apperr.CodeUpstreamAPIError, "read upstream response").WithCause(err)
	}
	f.countUpstream(strconv.Itoa(resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 60
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if n, perr := strconv.Atoi(ra); perr == nil {
				retryAfter = n
			}
		}
		return nil, apperr.New(apperr.CodeRateLimitExceeded, "upstream rate limit exceeded").
			WithDetails(map[string]any{"retryAfter": retryAfter})
	case resp.StatusCode >= 500:
		return nil, apperr.New(apperr.CodeUpstreamAPIError, "upstream returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode})
	default:
		// 2xx and non-retryable 4xx both surface the upstream body.
		return &Result{Body: respBody, Status: resp.StatusCode}, nil
	}
}

// resolve joins endpoint onto the base URL, preserving any base path.
func (f *Fetcher) resolve(endpoint string) string {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return f.base.String() + endpoint
	}
	u := *f.base
	u.Path = strings.TrimSuffix(f.base.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String()
}

func (f *Fetcher) countCache(hit bool) {
	if f.metrics == nil {
		return
	}
	if hit {
		f.metrics.CacheHits.WithLabelValues(f.service).Inc()
	} else {
		f.metrics.CacheMisses.WithLabelValues(f.service).Inc()
	}
}

func (f *Fetcher) countUpstream(status string) {
	if f.metrics == nil {
		return
	}
	f.metrics.UpstreamRequests.WithLabelValues(f.service, status).Inc()
}
