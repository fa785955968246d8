package actors

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/fetcher"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
)

// nonceKey is the durable per-account nonce slot.
func nonceKey(addr string) string { return "account_" + addr + "_nonce" }

// nonceResponse mirrors the chain API's nonce endpoint; only the fields
// the proxy needs are decoded.
type nonceResponse struct {
	PossibleNextNonce uint64 `json:"possible_next_nonce"`
	LastExecutedNonce *int64 `json:"last_executed_tx_nonce"`
}

// AccountActor tracks one principal address's nonce. One actor exists
// per address (see AccountRegistry); all handling is serialized so reads
// and upstream syncs cannot interleave.
type AccountActor struct {
	Actor
	address string
	fetcher *fetcher.Fetcher
	store   *cache.Store

	// mu gives the actor its single-writer discipline.
	mu sync.Mutex
}

// NewAccount builds the actor for one address. The fetcher is the shared
// chain-API fetcher; nonce syncs ride its queue.
func NewAccount(address string, f *fetcher.Fetcher, logger *slog.Logger, bus *events.Bus, m *metrics.Registry) *AccountActor {
	a := &AccountActor{
		Actor:   newActor("stacks-account", "/stacks-account/"+address, logger, bus, m),
		address: address,
		fetcher: f,
		store:   f.Cache(),
	}
	a.endpoints = []Endpoint{
		{Pattern: "/nonce", Handle: a.handleNonce},
		{Pattern: "/nonce/sync", Methods: []string{http.MethodPost}, Handle: a.handleSync},
		{Pattern: "/nonce/update", Methods: []string{http.MethodPost}, Handle: a.handleUpdate},
	}
	return a
}

// Handle serializes dispatch; at most one request runs inside the actor.
func (a *AccountActor) Handle(ctx context.Context, req *Request) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Actor.Handle(ctx, req)
}

// handleNonce returns the stored nonce, syncing from the chain API when
// no value is stored yet or ?bustCache=true.
func (a *AccountActor) handleNonce(ctx context.Context, req *Request, _ string) (any, error) {
	if !req.BustCache() {
		stored, err := cache.Get[uint64](ctx, a.store, nonceKey(a.address))
		if err != nil {
			return nil, err
		}
		if stored != nil {
			return map[string]any{"nonce": *stored}, nil
		}
	}
	return a.sync(ctx)
}

func (a *AccountActor) handleSync(ctx context.Context, _ *Request, _ string) (any, error) {
	return a.sync(ctx)
}

// handleUpdate overwrites the stored nonce with the caller's value.
func (a *AccountActor) handleUpdate(ctx context.Context, req *Request, _ string) (any, error) {
	var body struct {
		Nonce *uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, apperr.New(apperr.CodeInvalidRequest, "malformed request body").WithCause(err)
	}
	if body.Nonce == nil {
		return nil, apperr.New(apperr.CodeInvalidRequest, "nonce is required")
	}
	if err := a.store.SetForever(ctx, nonceKey(a.address), *body.Nonce); err != nil {
		return nil, err
	}
	return map[string]any{"nonce": *body.Nonce}, nil
}

// sync fetches the next nonce from the chain API and stores it. The raw
// upstream body is not cached; the parsed nonce is the durable state.
func (a *AccountActor) sync(ctx context.Context) (any, error) {
	res, err := a.fetcher.Fetch(ctx, "/extended/v1/address/"+a.address+"/nonces", fetcher.Options{
		CacheKey:  nonceKey(a.address) + "_raw",
		BustCache: true,
		SkipCache: true,
	})
	if err != nil {
		return nil, err
	}
	if res.Status != http.StatusOK {
		return nil, apperr.New(apperr.CodeUpstreamAPIError, "nonce lookup returned %d", res.Status).
			WithDetails(map[string]any{"status": res.Status})
	}
	var parsed nonceResponse
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return nil, apperr.New(apperr.CodeUpstreamAPIError, "malformed nonce response").WithCause(err)
	}
	if err := a.store.SetForever(ctx, nonceKey(a.address), parsed.PossibleNextNonce); err != nil {
		return nil, err
	}
	return map[string]any{"nonce": parsed.PossibleNextNonce}, nil
}
