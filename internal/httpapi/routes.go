package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/aibtcdev/edge-proxy/internal/actors"
	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/kv"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
)

// ServiceActor is what the router needs from a route actor.
type ServiceActor interface {
	Service() string
	BasePath() string
	Handle(ctx context.Context, req *actors.Request) (any, error)
}

// Dependencies wires the route actors into the front door.
type Dependencies struct {
	Runtime  *Runtime
	Metrics  *metrics.Registry
	EventBus *events.Bus
	KV       kv.Store

	Hiro          ServiceActor
	StxCity       ServiceActor
	Supabase      ServiceActor
	ContractCalls ServiceActor
	Bns           ServiceActor
	Chainhooks    ServiceActor
	Accounts      *actors.AccountRegistry
}

// MountRoutes attaches every route to r. CORS headers are applied to
// every response, error envelopes included.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}))
	// cors.Handler only acts on Origin-bearing requests; non-browser
	// clients still get the headers.
	r.Use(corsDefaults)

	r.Get("/", d.Runtime.Wrap("router", func(context.Context, *actors.Request) (any, error) {
		return map[string]any{
			"name":    "aibtcdev-edge-proxy",
			"message": "welcome to the aibtcdev edge proxy",
			"services": []string{
				"/hiro-api", "/stx-city", "/supabase", "/contract-calls",
				"/bns", "/chainhooks", "/stacks-account/{address}",
			},
		}, nil
	}))

	r.Get("/healthz", healthzHandler(d.KV))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
	if d.EventBus != nil {
		r.Get("/chainhooks/events/stream", SSEHandler(d.EventBus))
	}

	for _, a := range []ServiceActor{d.Hiro, d.StxCity, d.Supabase, d.ContractCalls, d.Bns, d.Chainhooks} {
		if a == nil {
			continue
		}
		h := d.Runtime.Wrap(a.Service(), a.Handle)
		r.Handle(a.BasePath(), h)
		r.Handle(a.BasePath()+"/*", h)
	}

	if d.Accounts != nil {
		h := d.Runtime.Wrap("stacks-account", func(ctx context.Context, req *actors.Request) (any, error) {
			address := chi.RouteContext(ctx).URLParam("address")
			actor, err := d.Accounts.For(address)
			if err != nil {
				return nil, err
			}
			return actor.Handle(ctx, req)
		})
		r.Handle("/stacks-account/{address}", h)
		r.Handle("/stacks-account/{address}/*", h)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		d.Runtime.WriteError(w, apperr.New(apperr.CodeNotFound, "resource not found").
			WithDetails(map[string]any{"resource": req.URL.Path}))
	})
}

// corsDefaults guarantees the CORS headers on every response, echoing
// the Origin when one is present. OPTIONS short-circuits with 200.
func corsDefaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if h.Get("Access-Control-Allow-Origin") == "" {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			h.Set("Access-Control-Allow-Origin", origin)
		}
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// healthzHandler verifies the KV round-trips before reporting healthy.
func healthzHandler(store kv.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			key := "healthz_probe"
			err := store.Put(ctx, key, []byte("ok"), time.Minute)
			if err == nil {
				_, err = store.Get(ctx, key)
			}
			if err != nil {
				status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status})
	}
}
