package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/cache"
)

// eventKeyPrefix namespaces stored webhook deliveries in the KV.
const eventKeyPrefix = "event_"

// defaultRetention is how long stored deliveries remain queryable.
const defaultRetention = 30 * 24 * time.Hour

// StoredEvent is one persisted webhook delivery.
type StoredEvent struct {
	ID         string          `json:"id"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Source     string          `json:"source,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Sink persists webhook deliveries and announces them on the bus.
type Sink struct {
	cache     *cache.Store
	bus       *Bus
	retention time.Duration
}

// NewSink builds a Sink. bus may be nil when no live subscribers are
// wanted; retention <= 0 selects the default.
func NewSink(store *cache.Store, bus *Bus, retention time.Duration) *Sink {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Sink{cache: store, bus: bus, retention: retention}
}

// Record stores one delivery under a fresh ID and publishes it.
func (s *Sink) Record(ctx context.Context, source string, payload json.RawMessage) (*StoredEvent, error) {
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, apperr.New(apperr.CodeInvalidRequest, "event payload must be valid JSON")
	}
	ev := &StoredEvent{
		ID:         uuid.NewString(),
		ReceivedAt: time.Now().UTC(),
		Source:     source,
		Payload:    payload,
	}
	if err := s.cache.Set(ctx, eventKeyPrefix+ev.ID, ev, s.retention); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(Event{
			Type:    EventWebhookReceived,
			Service: "chainhooks",
			EventID: ev.ID,
			Source:  source,
		})
	}
	return ev, nil
}

// Get returns one stored delivery, or a NOT_FOUND error.
func (s *Sink) Get(ctx context.Context, id string) (*StoredEvent, error) {
	ev, err := cache.Get[StoredEvent](ctx, s.cache, eventKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, apperr.New(apperr.CodeNotFound, "event %s not found", id)
	}
	return ev, nil
}

// List pages stored delivery IDs. The cursor is an ID from a previous
// page, not a raw KV key.
func (s *Sink) List(ctx context.Context, cursor string, limit int) ([]string, string, error) {
	kvCursor := ""
	if cursor != "" {
		kvCursor = eventKeyPrefix + cursor
	}
	keys, next, err := s.cache.List(ctx, eventKeyPrefix, kvCursor, limit)
	if err != nil {
		return nil, "", err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, eventKeyPrefix)
	}
	return ids, strings.TrimPrefix(next, eventKeyPrefix), nil
}
