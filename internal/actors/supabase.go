package actors

import (
	"context"
	"log/slog"

	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/fetcher"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
)

// SupabaseActor serves aggregate stats from the Supabase REST endpoint.
// The fetcher is constructed with the service key headers; this actor
// only decides which remote path backs /stats.
type SupabaseActor struct {
	Actor
	fetcher *fetcher.Fetcher
	keys    *cache.KeyBuilder

	// statsPath is the remote REST path the /stats endpoint proxies.
	statsPath string
}

// NewSupabase builds the /supabase actor.
func NewSupabase(f *fetcher.Fetcher, keys *cache.KeyBuilder, statsPath string, logger *slog.Logger, bus *events.Bus, m *metrics.Registry) *SupabaseActor {
	if statsPath == "" {
		statsPath = "/rest/v1/rpc/stats"
	}
	a := &SupabaseActor{
		Actor:     newActor("supabase", "/supabase", logger, bus, m),
		fetcher:   f,
		keys:      keys,
		statsPath: statsPath,
	}
	a.endpoints = []Endpoint{
		{Pattern: "/stats", Handle: a.handleStats},
	}
	a.warm = a.warmStats
	return a
}

func (a *SupabaseActor) handleStats(ctx context.Context, req *Request, _ string) (any, error) {
	res, err := a.fetcher.Fetch(ctx, a.statsPath, fetcher.Options{
		CacheKey:  a.keys.Endpoint("/stats"),
		BustCache: req.BustCache(),
	})
	if err != nil {
		return nil, err
	}
	return passthrough(res), nil
}

func (a *SupabaseActor) warmStats(ctx context.Context) (int, int) {
	_, err := a.fetcher.Fetch(ctx, a.statsPath, fetcher.Options{
		CacheKey:  a.keys.Endpoint("/stats"),
		BustCache: true,
	})
	if err != nil {
		return 0, 1
	}
	return 1, 0
}
