package actors

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/clarity"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/fetcher"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
)

// knownAddressesKey is the shared index of every principal address seen
// on address-scoped endpoints. Persisted as a JSON array.
const knownAddressesKey = "aibtcdev_known_stacks_addresses"

// addressEndpointPrefix scopes the per-address passthrough endpoints.
const addressEndpointPrefix = "/extended/v1/address/"

// HiroActor proxies the Hiro chain API and maintains the known-addresses
// index used by the cache-warming pass.
type HiroActor struct {
	Actor
	fetcher *fetcher.Fetcher
	keys    *cache.KeyBuilder

	// mu serializes known-addresses index writes.
	mu sync.Mutex
}

// NewHiro builds the /hiro-api actor.
func NewHiro(f *fetcher.Fetcher, keys *cache.KeyBuilder, logger *slog.Logger, bus *events.Bus, m *metrics.Registry) *HiroActor {
	a := &HiroActor{
		Actor:   newActor("hiro-api", "/hiro-api", logger, bus, m),
		fetcher: f,
		keys:    keys,
	}
	a.endpoints = []Endpoint{
		{Pattern: "/extended", Handle: a.handlePassthrough},
		{Pattern: "/v2/info", Handle: a.handlePassthrough},
		{Pattern: addressEndpointPrefix, Handle: a.handleAddress},
		{Pattern: "/known-addresses", Handle: a.handleKnownAddresses},
	}
	a.warm = a.warmBalances
	return a
}

func (a *HiroActor) handlePassthrough(ctx context.Context, req *Request, endpoint string) (any, error) {
	res, err := a.fetcher.Fetch(ctx, endpoint, fetcher.Options{
		CacheKey:  a.keys.Endpoint(endpoint),
		BustCache: req.BustCache(),
	})
	if err != nil {
		return nil, err
	}
	return passthrough(res), nil
}

// handleAddress serves /extended/v1/address/{addr}/{assets|balances} and
// records {addr} in the known-addresses index.
func (a *HiroActor) handleAddress(ctx context.Context, req *Request, endpoint string) (any, error) {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	if len(parts) != 5 || (parts[4] != "assets" && parts[4] != "balances") {
		return nil, apperr.New(apperr.CodeNotFound, "unsupported endpoint").
			WithDetails(map[string]any{
				"resource":           endpoint,
				"supportedEndpoints": a.patterns(),
			})
	}
	addr := parts[3]
	if clarity.ValidateAddress(addr) == nil {
		// Index insertion is idempotent and best-effort; a failed write
		// must not fail the passthrough.
		if err := a.recordAddress(ctx, addr); err != nil {
			a.logger.Warn("known-addresses index write failed",
				slog.String("address", addr),
				slog.String("error", err.Error()))
		}
	}
	return a.handlePassthrough(ctx, req, endpoint)
}

// handleKnownAddresses reports the index split by cache presence: an
// address is "cached" when its balances entry is currently in the KV.
func (a *HiroActor) handleKnownAddresses(ctx context.Context, _ *Request, _ string) (any, error) {
	stored, err := a.loadAddresses(ctx)
	if err != nil {
		return nil, err
	}
	var cached, uncached []string
	for _, addr := range stored {
		body, err := a.fetcher.Cache().GetRaw(ctx, a.balancesKey(addr))
		if err != nil {
			return nil, err
		}
		if body != nil {
			cached = append(cached, addr)
		} else {
			uncached = append(uncached, addr)
		}
	}
	return map[string]any{
		"stats": map[string]any{
			"storage":  len(stored),
			"cached":   len(cached),
			"uncached": len(uncached),
		},
		"addresses": map[string]any{
			"storage":  stored,
			"cached":   emptyNotNull(cached),
			"uncached": emptyNotNull(uncached),
		},
	}, nil
}

// warmBalances refreshes the balances entry of every known address.
func (a *HiroActor) warmBalances(ctx context.Context) (int, int) {
	stored, err := a.loadAddresses(ctx)
	if err != nil {
		a.logger.Warn("cache warming skipped: index unreadable",
			slog.String("service", a.service),
			slog.String("error", err.Error()))
		return 0, 0
	}
	succeeded, failed := 0, 0
	for _, addr := range stored {
		endpoint := addressEndpointPrefix + addr + "/balances"
		_, err := a.fetcher.Fetch(ctx, endpoint, fetcher.Options{
			CacheKey:  a.balancesKey(addr),
			BustCache: true,
		})
		if err != nil {
			failed++
			continue
		}
		succeeded++
	}
	return succeeded, failed
}

func (a *HiroActor) balancesKey(addr string) string {
	return a.keys.Endpoint(addressEndpointPrefix + addr + "/balances")
}

// recordAddress inserts addr into the index with set semantics.
func (a *HiroActor) recordAddress(ctx context.Context, addr string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored, err := a.loadAddresses(ctx)
	if err != nil {
		return err
	}
	for _, s := range stored {
		if s == addr {
			return nil
		}
	}
	stored = append(stored, addr)
	sort.Strings(stored)
	return a.fetcher.Cache().SetForever(ctx, knownAddressesKey, stored)
}

func (a *HiroActor) loadAddresses(ctx context.Context) ([]string, error) {
	stored, err := cache.Get[[]string](ctx, a.fetcher.Cache(), knownAddressesKey)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return []string{}, nil
	}
	return *stored, nil
}

func emptyNotNull(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
