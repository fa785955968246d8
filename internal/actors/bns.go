package actors

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/clarity"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/fetcher"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
)

// BnsActor resolves on-chain names for an address through the chain
// API's name lookup.
type BnsActor struct {
	Actor
	fetcher *fetcher.Fetcher
	keys    *cache.KeyBuilder
}

// NewBns builds the /bns actor.
func NewBns(f *fetcher.Fetcher, keys *cache.KeyBuilder, logger *slog.Logger, bus *events.Bus, m *metrics.Registry) *BnsActor {
	a := &BnsActor{
		Actor:   newActor("bns", "/bns", logger, bus, m),
		fetcher: f,
		keys:    keys,
	}
	a.endpoints = []Endpoint{
		{Pattern: "/names/", Handle: a.handleNames},
	}
	return a
}

func (a *BnsActor) handleNames(ctx context.Context, req *Request, endpoint string) (any, error) {
	addr := strings.Trim(strings.TrimPrefix(endpoint, "/names/"), "/")
	if addr == "" || strings.Contains(addr, "/") {
		return nil, apperr.New(apperr.CodeInvalidRequest, "expected /names/{address}")
	}
	if err := clarity.ValidateAddress(addr); err != nil {
		return nil, apperr.New(apperr.CodeInvalidContractAddress, "invalid address %q", addr).WithCause(err)
	}
	res, err := a.fetcher.Fetch(ctx, "/v1/addresses/stacks/"+addr, fetcher.Options{
		CacheKey:  a.keys.Endpoint(endpoint),
		BustCache: req.BustCache(),
	})
	if err != nil {
		return nil, err
	}
	return passthrough(res), nil
}
