package actors

import (
	"context"
	"log/slog"

	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/fetcher"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
)

// tradableTokensEndpoint is the one allow-listed STX.city endpoint.
const tradableTokensEndpoint = "/tokens/tradable-full-details-tokens"

// StxCityActor proxies the STX.city token-metadata API.
type StxCityActor struct {
	Actor
	fetcher *fetcher.Fetcher
	keys    *cache.KeyBuilder
}

// NewStxCity builds the /stx-city actor.
func NewStxCity(f *fetcher.Fetcher, keys *cache.KeyBuilder, logger *slog.Logger, bus *events.Bus, m *metrics.Registry) *StxCityActor {
	a := &StxCityActor{
		Actor:   newActor("stx-city", "/stx-city", logger, bus, m),
		fetcher: f,
		keys:    keys,
	}
	a.endpoints = []Endpoint{
		{Pattern: tradableTokensEndpoint, Handle: a.handleTokens},
	}
	a.warm = a.warmTokens
	return a
}

func (a *StxCityActor) handleTokens(ctx context.Context, req *Request, endpoint string) (any, error) {
	res, err := a.fetcher.Fetch(ctx, endpoint, fetcher.Options{
		CacheKey:  a.keys.Endpoint(endpoint),
		BustCache: req.BustCache(),
	})
	if err != nil {
		return nil, err
	}
	return passthrough(res), nil
}

func (a *StxCityActor) warmTokens(ctx context.Context) (int, int) {
	_, err := a.fetcher.Fetch(ctx, tradableTokensEndpoint, fetcher.Options{
		CacheKey:  a.keys.Endpoint(tradableTokensEndpoint),
		BustCache: true,
	})
	if err != nil {
		return 0, 1
	}
	return 1, 0
}
