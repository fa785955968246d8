// Package actors implements the per-upstream route actors. Each actor
// owns a base path, an allow-listed endpoint table, a cached rate-limited
// fetcher, and an optional cache-warming timer. The router hands an actor
// every request under its prefix; the actor resolves it to an endpoint
// handler or a typed NOT_FOUND.
package actors

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
)

// Request is the routed view of one inbound HTTP request.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// BustCache reports the ?bustCache=true query flag.
func (r *Request) BustCache() bool {
	return r.Query.Get("bustCache") == "true"
}

// HandlerFunc handles one matched endpoint. endpoint is the path with the
// actor's base prefix stripped.
type HandlerFunc func(ctx context.Context, req *Request, endpoint string) (any, error)

// Endpoint is one allow-list entry. A Pattern ending in "/" matches as a
// prefix; anything else matches exactly.
type Endpoint struct {
	Pattern string
	Methods []string
	Handle  HandlerFunc
}

// WarmFunc runs one cache-warming pass and reports success/fail counts.
type WarmFunc func(ctx context.Context) (succeeded, failed int)

// Actor is the shared dispatch core embedded by every route actor.
type Actor struct {
	service   string
	basePath  string
	endpoints []Endpoint

	logger  *slog.Logger
	bus     *events.Bus
	metrics *metrics.Registry

	warm WarmFunc
	// warming is held by pointer so embedding structs can copy the
	// Actor value returned by newActor.
	warming  *atomic.Bool
	stopWarm chan struct{}
}

func newActor(service, basePath string, logger *slog.Logger, bus *events.Bus, m *metrics.Registry) Actor {
	return Actor{
		service:  service,
		basePath: basePath,
		logger:   logger,
		bus:      bus,
		metrics:  m,
		warming:  new(atomic.Bool),
		stopWarm: make(chan struct{}),
	}
}

// Service names the actor in logs and metrics.
func (a *Actor) Service() string { return a.service }

// BasePath is the route prefix the actor serves.
func (a *Actor) BasePath() string { return a.basePath }

// Handle resolves req against the endpoint table.
func (a *Actor) Handle(ctx context.Context, req *Request) (any, error) {
	if !strings.HasPrefix(req.Path, a.basePath) {
		return nil, apperr.New(apperr.CodeNotFound, "resource not found").
			WithDetails(map[string]any{"resource": req.Path, "basePath": a.basePath})
	}
	endpoint := req.Path[len(a.basePath):]
	if endpoint == "" || endpoint == "/" {
		return a.descriptor(), nil
	}

	for i := range a.endpoints {
		e := &a.endpoints[i]
		if !matches(e.Pattern, endpoint) {
			continue
		}
		if !methodAllowed(e.Methods, req.Method) {
			return nil, apperr.New(apperr.CodeInvalidRequest, "%s requires %s",
				endpoint, strings.Join(e.Methods, " or "))
		}
		return e.Handle(ctx, req, endpoint)
	}
	return nil, apperr.New(apperr.CodeNotFound, "unsupported endpoint").
		WithDetails(map[string]any{
			"resource":           endpoint,
			"supportedEndpoints": a.patterns(),
		})
}

// descriptor is the JSON served for the bare base path.
func (a *Actor) descriptor() map[string]any {
	return map[string]any{
		"service":            a.service,
		"basePath":           a.basePath,
		"supportedEndpoints": a.patterns(),
	}
}

func (a *Actor) patterns() []string {
	out := make([]string, len(a.endpoints))
	for i, e := range a.endpoints {
		out[i] = e.Pattern
	}
	return out
}

func matches(pattern, endpoint string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(endpoint, pattern)
	}
	return endpoint == pattern
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return method == "GET"
	}
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

// StartWarming begins the periodic cache-warming loop. Idempotent: at
// most one loop runs per actor, and actors without a warm function
// ignore the call.
func (a *Actor) StartWarming(interval time.Duration) {
	if a.warm == nil || interval <= 0 {
		return
	}
	if !a.warming.CompareAndSwap(false, true) {
		return
	}
	go a.warmLoop(interval)
}

// StopWarming stops the loop. Safe to call without a prior start.
func (a *Actor) StopWarming() {
	if a.warming.CompareAndSwap(true, false) {
		close(a.stopWarm)
	}
}

func (a *Actor) warmLoop(interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			a.runWarmPass()
			// Reschedule only after the pass finished; one outstanding
			// alarm at a time.
			timer.Reset(interval)
		case <-a.stopWarm:
			return
		}
	}
}

func (a *Actor) runWarmPass() {
	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	succeeded, failed := a.warm(ctx)
	elapsed := time.Since(started)

	a.logger.Info("cache warming pass finished",
		slog.String("service", a.service),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
		slog.Duration("duration", elapsed))

	if a.metrics != nil {
		outcome := "ok"
		if failed > 0 {
			outcome = "partial"
		}
		a.metrics.CacheWarmRuns.WithLabelValues(a.service, outcome).Inc()
	}
	if a.bus != nil {
		evType := events.EventCacheWarmed
		if failed > 0 && succeeded == 0 {
			evType = events.EventCacheWarmFailed
		}
		a.bus.Publish(events.Event{
			Type:      evType,
			Service:   a.service,
			Succeeded: succeeded,
			Failed:    failed,
		})
	}
}
