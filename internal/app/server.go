// Package app wires configuration, storage, fetchers, and route actors
// into the running proxy.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aibtcdev/edge-proxy/internal/actors"
	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/contracts"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/fetcher"
	"github.com/aibtcdev/edge-proxy/internal/httpapi"
	"github.com/aibtcdev/edge-proxy/internal/kv"
	"github.com/aibtcdev/edge-proxy/internal/logging"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
	"github.com/aibtcdev/edge-proxy/internal/ratelimit"
	"github.com/aibtcdev/edge-proxy/internal/tracing"
)

// warmable is any actor with a cache-warming loop.
type warmable interface {
	StartWarming(time.Duration)
	StopWarming()
}

type Server struct {
	cfg Config

	r      *chi.Mux
	logger *slog.Logger

	kv       kv.Store
	limiter  *ratelimit.ClientLimiter
	warmers  []warmable
	fetchers map[string]*fetcher.Fetcher

	traceShutdown func(context.Context) error
	stopDepth     chan struct{}
}

func NewServer(cfg Config) (*Server, error) {
	store, err := openKV(cfg)
	if err != nil {
		return nil, err
	}
	logger := logging.SetupWithKV(cfg.LogLevel, store)

	traceShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "edge-proxy",
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	cacheStore := cache.New(store, cache.Options{
		DefaultTTL: cfg.CacheDefaultTTL,
		IgnoreTTL:  cfg.CacheIgnoreTTL,
	})
	m := metrics.New()
	bus := events.NewBus()
	sink := events.NewSink(cacheStore, bus, cfg.EventRetention)

	// Outgoing calls propagate trace context when tracing is enabled; the
	// transport is a pass-through otherwise.
	client := &http.Client{Transport: tracing.HTTPTransport(nil)}

	hiroHeaders := map[string]string{}
	if cfg.HiroAPIKey != "" {
		hiroHeaders["x-api-key"] = cfg.HiroAPIKey
	}

	fetchers := map[string]*fetcher.Fetcher{}
	newUpstream := func(service, baseURL string, headers map[string]string) (*fetcher.Fetcher, error) {
		f, err := fetcher.New(fetcher.Config{
			BaseURL: baseURL,
			Headers: headers,
			Queue:   cfg.UpstreamQueue,
			Service: service,
		}, cacheStore, client, logger, m)
		if err != nil {
			return nil, err
		}
		fetchers[service] = f
		return f, nil
	}

	hiroFetcher, err := newUpstream("hiro-api", cfg.HiroBaseURL, hiroHeaders)
	if err != nil {
		store.Close()
		return nil, err
	}
	stxCityFetcher, err := newUpstream("stx-city", cfg.StxCityBaseURL, nil)
	if err != nil {
		store.Close()
		return nil, err
	}
	contractFetcher, err := newUpstream("contract-calls", cfg.HiroBaseURL, hiroHeaders)
	if err != nil {
		store.Close()
		return nil, err
	}
	bnsFetcher, err := newUpstream("bns", cfg.HiroBaseURL, hiroHeaders)
	if err != nil {
		store.Close()
		return nil, err
	}

	abis := contracts.NewAbiStore(contractFetcher)
	caller := contracts.NewCaller(contractFetcher, abis, cache.NewKeyBuilder("contractcalls"), cfg.Network)

	hiro := actors.NewHiro(hiroFetcher, cache.NewKeyBuilder("hiroapi"), logger, bus, m)
	stxCity := actors.NewStxCity(stxCityFetcher, cache.NewKeyBuilder("stxcity"), logger, bus, m)
	contractCalls := actors.NewContractCalls(abis, caller, logger, bus, m)
	bns := actors.NewBns(bnsFetcher, cache.NewKeyBuilder("bns"), logger, bus, m)
	chainhooks := actors.NewChainhooks(sink, logger, bus, m)
	accounts := actors.NewAccountRegistry(hiroFetcher, logger, bus, m)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())

	var limiter *ratelimit.ClientLimiter
	if cfg.ClientRateLimit > 0 {
		limiter = ratelimit.NewClientLimiter(cfg.ClientRateLimit, cfg.ClientRateInterval,
			ratelimit.WithCounter(m.ClientRateLimited))
		r.Use(limiter.Middleware)
		logger.Info("client rate limiting enabled",
			slog.Int("limit", cfg.ClientRateLimit),
			slog.Duration("interval", cfg.ClientRateInterval))
	}

	deps := httpapi.Dependencies{
		Runtime:       httpapi.NewRuntime(logger, m),
		Metrics:       m,
		EventBus:      bus,
		KV:            store,
		Hiro:          hiro,
		StxCity:       stxCity,
		ContractCalls: contractCalls,
		Bns:           bns,
		Chainhooks:    chainhooks,
		Accounts:      accounts,
	}

	warmers := []warmable{hiro, stxCity}

	// Supabase is mounted only when an origin is configured.
	if cfg.SupabaseURL != "" {
		headers := map[string]string{}
		if cfg.SupabaseKey != "" {
			headers["apikey"] = cfg.SupabaseKey
			headers["Authorization"] = "Bearer " + cfg.SupabaseKey
		}
		supabaseFetcher, err := newUpstream("supabase", cfg.SupabaseURL, headers)
		if err != nil {
			store.Close()
			return nil, err
		}
		supabase := actors.NewSupabase(supabaseFetcher, cache.NewKeyBuilder("supabase"), cfg.SupabaseStatsPath, logger, bus, m)
		deps.Supabase = supabase
		warmers = append(warmers, supabase)
		logger.Info("supabase upstream configured", slog.String("url", cfg.SupabaseURL))
	}

	httpapi.MountRoutes(r, deps)

	s := &Server{
		cfg:           cfg,
		r:             r,
		logger:        logger,
		kv:            store,
		limiter:       limiter,
		fetchers:      fetchers,
		traceShutdown: traceShutdown,
		stopDepth:     make(chan struct{}),
	}

	if cfg.CacheWarmEnabled {
		s.warmers = warmers
		for _, w := range warmers {
			w.StartWarming(cfg.CacheWarmInterval)
		}
		logger.Info("cache warming enabled", slog.Duration("interval", cfg.CacheWarmInterval))
	}

	go s.reportQueueDepth(m)

	logger.Info("server initialized",
		slog.String("kv_backend", cfg.KVBackend),
		slog.String("network", cfg.Network),
		slog.String("hiro_base_url", cfg.HiroBaseURL))
	return s, nil
}

func openKV(cfg Config) (kv.Store, error) {
	switch cfg.KVBackend {
	case "redis":
		return kv.NewRedis(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "memory":
		return kv.NewMemory(), nil
	default:
		return kv.NewSQLite(cfg.SQLiteDSN)
	}
}

func (s *Server) Router() http.Handler { return s.r }

// Reload applies the settings that can change without a restart.
func (s *Server) Reload(cfg Config) {
	s.cfg = cfg
	logging.SetLevel(cfg.LogLevel)
	s.logger.Info("configuration reloaded", slog.String("log_level", cfg.LogLevel))
}

func (s *Server) reportQueueDepth(m *metrics.Registry) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for service, f := range s.fetchers {
				m.QueueDepth.WithLabelValues(service).Set(float64(f.Queue().Depth()))
			}
		case <-s.stopDepth:
			return
		}
	}
}

func (s *Server) Close() error {
	for _, w := range s.warmers {
		w.StopWarming()
	}
	close(s.stopDepth)
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.traceShutdown(ctx)
	}
	return s.kv.Close()
}
