package app

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aibtcdev/edge-proxy/internal/queue"
)

// Config is the full runtime configuration, loaded from PROXY_* env vars.
type Config struct {
	ListenAddr string
	LogLevel   string

	// KV backend: "sqlite", "redis", or "memory".
	KVBackend     string
	SQLiteDSN     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Cache policy.
	CacheDefaultTTL time.Duration
	CacheIgnoreTTL  bool

	// Upstream origins and credentials.
	HiroBaseURL       string
	HiroAPIKey        string
	StxCityBaseURL    string
	SupabaseURL       string
	SupabaseKey       string
	SupabaseStatsPath string

	// Network the contract caller validates addresses against.
	Network string

	// Upstream queue tuning, shared by every fetcher.
	UpstreamQueue queue.Config

	// Periodic cache warming.
	CacheWarmEnabled  bool
	CacheWarmInterval time.Duration

	// Per-client inbound rate limiting. Zero disables the front-door
	// limiter.
	ClientRateLimit    int
	ClientRateInterval time.Duration

	// Webhook event retention (0 = sink default).
	EventRetention time.Duration

	// Opt-in OpenTelemetry tracing.
	OTelEnabled  bool
	OTelEndpoint string
}

// LoadConfig reads configuration from the environment and validates it.
func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("PROXY_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("PROXY_LOG_LEVEL", "info"),

		KVBackend:     getEnv("PROXY_KV_BACKEND", "sqlite"),
		SQLiteDSN:     getEnv("PROXY_SQLITE_DSN", "file:/data/edge-proxy.sqlite"),
		RedisAddr:     getEnv("PROXY_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("PROXY_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("PROXY_REDIS_DB", 0),

		CacheDefaultTTL: getEnvDuration("PROXY_CACHE_DEFAULT_TTL_SECS", 60*time.Second),
		CacheIgnoreTTL:  getEnvBool("PROXY_CACHE_IGNORE_TTL", false),

		HiroBaseURL:       getEnv("PROXY_HIRO_BASE_URL", "https://api.hiro.so"),
		HiroAPIKey:        getEnv("PROXY_HIRO_API_KEY", ""),
		StxCityBaseURL:    getEnv("PROXY_STXCITY_BASE_URL", "https://stx.city/api"),
		SupabaseURL:       getEnv("PROXY_SUPABASE_URL", ""),
		SupabaseKey:       getEnv("PROXY_SUPABASE_KEY", ""),
		SupabaseStatsPath: getEnv("PROXY_SUPABASE_STATS_PATH", "/rest/v1/rpc/stats"),

		Network: getEnv("PROXY_NETWORK", "mainnet"),

		UpstreamQueue: queue.Config{
			MaxRequestsPerInterval: getEnvInt("PROXY_UPSTREAM_MAX_PER_INTERVAL", 30),
			Interval:               getEnvDuration("PROXY_UPSTREAM_INTERVAL_SECS", time.Minute),
			MaxRetries:             getEnvInt("PROXY_UPSTREAM_MAX_RETRIES", 3),
			RetryDelay:             getEnvDuration("PROXY_UPSTREAM_RETRY_DELAY_SECS", time.Second),
			RequestTimeout:         getEnvDuration("PROXY_UPSTREAM_REQUEST_TIMEOUT_SECS", 5*time.Second),
		},

		CacheWarmEnabled:  getEnvBool("PROXY_CACHE_WARM_ENABLED", false),
		CacheWarmInterval: getEnvDuration("PROXY_CACHE_WARM_INTERVAL_SECS", 5*time.Minute),

		ClientRateLimit:    getEnvInt("PROXY_CLIENT_RATE_LIMIT", 0),
		ClientRateInterval: getEnvDuration("PROXY_CLIENT_RATE_INTERVAL_SECS", time.Minute),

		EventRetention: getEnvDuration("PROXY_EVENT_RETENTION_SECS", 0),

		OTelEnabled:  getEnvBool("PROXY_OTEL_ENABLED", false),
		OTelEndpoint: getEnv("PROXY_OTEL_ENDPOINT", "localhost:4318"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	switch c.KVBackend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("PROXY_KV_BACKEND must be sqlite, redis, or memory, got %q", c.KVBackend)
	}
	switch c.Network {
	case "mainnet", "testnet":
	default:
		return fmt.Errorf("PROXY_NETWORK must be mainnet or testnet, got %q", c.Network)
	}
	if c.UpstreamQueue.MaxRequestsPerInterval <= 0 {
		return fmt.Errorf("PROXY_UPSTREAM_MAX_PER_INTERVAL must be > 0, got %d", c.UpstreamQueue.MaxRequestsPerInterval)
	}
	if c.UpstreamQueue.Interval <= 0 {
		return fmt.Errorf("PROXY_UPSTREAM_INTERVAL_SECS must be > 0")
	}
	if c.UpstreamQueue.MaxRetries < 0 {
		return fmt.Errorf("PROXY_UPSTREAM_MAX_RETRIES must be >= 0, got %d", c.UpstreamQueue.MaxRetries)
	}
	if c.ClientRateLimit < 0 {
		return fmt.Errorf("PROXY_CLIENT_RATE_LIMIT must be >= 0, got %d", c.ClientRateLimit)
	}
	if c.ClientRateLimit > 0 && c.ClientRateInterval <= 0 {
		return fmt.Errorf("PROXY_CLIENT_RATE_INTERVAL_SECS must be > 0 when rate limiting is enabled")
	}
	if c.CacheWarmEnabled && c.CacheWarmInterval <= 0 {
		return fmt.Errorf("PROXY_CACHE_WARM_INTERVAL_SECS must be > 0 when warming is enabled")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration reads a whole-seconds env var.
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return def
}
