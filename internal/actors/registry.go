package actors

import (
	"log/slog"
	"sync"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/clarity"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/fetcher"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
)

// AccountRegistry maps each principal address onto its singleton
// AccountActor, creating actors lazily on first use. Durable state lives
// in the KV, so a restarted process rebuilds actors on demand without
// losing nonces.
type AccountRegistry struct {
	fetcher *fetcher.Fetcher
	logger  *slog.Logger
	bus     *events.Bus
	metrics *metrics.Registry

	mu     sync.Mutex
	actors map[string]*AccountActor
}

// NewAccountRegistry builds an empty registry over the shared chain-API
// fetcher.
func NewAccountRegistry(f *fetcher.Fetcher, logger *slog.Logger, bus *events.Bus, m *metrics.Registry) *AccountRegistry {
	return &AccountRegistry{
		fetcher: f,
		logger:  logger,
		bus:     bus,
		metrics: m,
		actors:  make(map[string]*AccountActor),
	}
}

// For returns the actor for address, validating the address first.
func (r *AccountRegistry) For(address string) (*AccountActor, error) {
	if err := clarity.ValidateAddress(address); err != nil {
		return nil, apperr.New(apperr.CodeInvalidContractAddress, "invalid address %q", address).WithCause(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[address]; ok {
		return a, nil
	}
	a := NewAccount(address, r.fetcher, r.logger, r.bus, r.metrics)
	r.actors[address] = a
	return a, nil
}

// Len returns the number of live actors. Test helper.
func (r *AccountRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
