package actors

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
)

// ChainhooksActor is the webhook sink: deliveries are persisted through
// the events.Sink and queryable afterwards. The live SSE stream is
// mounted by the router, not dispatched through this table.
type ChainhooksActor struct {
	Actor
	sink *events.Sink
}

// NewChainhooks builds the /chainhooks actor.
func NewChainhooks(sink *events.Sink, logger *slog.Logger, bus *events.Bus, m *metrics.Registry) *ChainhooksActor {
	a := &ChainhooksActor{
		Actor: newActor("chainhooks", "/chainhooks", logger, bus, m),
		sink:  sink,
	}
	a.endpoints = []Endpoint{
		{Pattern: "/post-event", Methods: []string{http.MethodPost}, Handle: a.handlePostEvent},
		{Pattern: "/events", Handle: a.handleListEvents},
		{Pattern: "/events/", Handle: a.handleGetEvent},
	}
	return a
}

func (a *ChainhooksActor) handlePostEvent(ctx context.Context, req *Request, _ string) (any, error) {
	ev, err := a.sink.Record(ctx, req.Query.Get("source"), req.Body)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message": "event stored",
		"eventId": ev.ID,
	}, nil
}

func (a *ChainhooksActor) handleListEvents(ctx context.Context, req *Request, _ string) (any, error) {
	limit := 0
	if s := req.Query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, apperr.New(apperr.CodeInvalidRequest, "invalid limit %q", s)
		}
		limit = n
	}
	ids, next, err := a.sink.List(ctx, req.Query.Get("cursor"), limit)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"events": ids, "count": len(ids)}
	if next != "" {
		out["cursor"] = next
	}
	return out, nil
}

func (a *ChainhooksActor) handleGetEvent(ctx context.Context, _ *Request, endpoint string) (any, error) {
	id := strings.Trim(strings.TrimPrefix(endpoint, "/events/"), "/")
	if id == "" || strings.Contains(id, "/") {
		return nil, apperr.New(apperr.CodeInvalidRequest, "expected /events/{id}")
	}
	return a.sink.Get(ctx, id)
}
