package app

import (
	"os"
	"testing"
	"time"
)

func clearProxyEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"PROXY_LISTEN_ADDR",
		"PROXY_LOG_LEVEL",
		"PROXY_KV_BACKEND",
		"PROXY_SQLITE_DSN",
		"PROXY_HIRO_BASE_URL",
		"PROXY_HIRO_API_KEY",
		"PROXY_NETWORK",
		"PROXY_UPSTREAM_MAX_PER_INTERVAL",
		"PROXY_CACHE_WARM_ENABLED",
		"PROXY_CLIENT_RATE_LIMIT",
	}
	for _, key := range envVars {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearProxyEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.KVBackend != "sqlite" {
		t.Errorf("KVBackend = %q, want %q", cfg.KVBackend, "sqlite")
	}
	if cfg.HiroBaseURL != "https://api.hiro.so" {
		t.Errorf("HiroBaseURL = %q, want %q", cfg.HiroBaseURL, "https://api.hiro.so")
	}
	if cfg.Network != "mainnet" {
		t.Errorf("Network = %q, want %q", cfg.Network, "mainnet")
	}
	if cfg.UpstreamQueue.MaxRequestsPerInterval != 30 {
		t.Errorf("UpstreamQueue.MaxRequestsPerInterval = %d, want 30", cfg.UpstreamQueue.MaxRequestsPerInterval)
	}
	if cfg.UpstreamQueue.Interval != time.Minute {
		t.Errorf("UpstreamQueue.Interval = %v, want 1m", cfg.UpstreamQueue.Interval)
	}
	if cfg.CacheWarmEnabled {
		t.Error("CacheWarmEnabled = true, want false by default")
	}
	if cfg.ClientRateLimit != 0 {
		t.Errorf("ClientRateLimit = %d, want 0 (disabled by default)", cfg.ClientRateLimit)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PROXY_LISTEN_ADDR", ":9090")
	t.Setenv("PROXY_LOG_LEVEL", "debug")
	t.Setenv("PROXY_KV_BACKEND", "memory")
	t.Setenv("PROXY_NETWORK", "testnet")
	t.Setenv("PROXY_UPSTREAM_MAX_PER_INTERVAL", "10")
	t.Setenv("PROXY_UPSTREAM_INTERVAL_SECS", "30")
	t.Setenv("PROXY_CACHE_WARM_ENABLED", "true")
	t.Setenv("PROXY_CACHE_WARM_INTERVAL_SECS", "120")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.KVBackend != "memory" {
		t.Errorf("KVBackend = %q, want %q", cfg.KVBackend, "memory")
	}
	if cfg.Network != "testnet" {
		t.Errorf("Network = %q, want %q", cfg.Network, "testnet")
	}
	if cfg.UpstreamQueue.MaxRequestsPerInterval != 10 {
		t.Errorf("UpstreamQueue.MaxRequestsPerInterval = %d, want 10", cfg.UpstreamQueue.MaxRequestsPerInterval)
	}
	if cfg.UpstreamQueue.Interval != 30*time.Second {
		t.Errorf("UpstreamQueue.Interval = %v, want 30s", cfg.UpstreamQueue.Interval)
	}
	if !cfg.CacheWarmEnabled {
		t.Error("CacheWarmEnabled = false, want true")
	}
	if cfg.CacheWarmInterval != 2*time.Minute {
		t.Errorf("CacheWarmInterval = %v, want 2m", cfg.CacheWarmInterval)
	}
}

func TestLoadConfigInvalidEnvFallsBackToDefaults(t *testing.T) {
	clearProxyEnv(t)
	t.Setenv("PROXY_CACHE_WARM_ENABLED", "notabool")
	t.Setenv("PROXY_UPSTREAM_MAX_PER_INTERVAL", "notanint")
	t.Setenv("PROXY_CLIENT_RATE_LIMIT", "notanint")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.CacheWarmEnabled {
		t.Error("CacheWarmEnabled = true, want false (default on invalid input)")
	}
	if cfg.UpstreamQueue.MaxRequestsPerInterval != 30 {
		t.Errorf("UpstreamQueue.MaxRequestsPerInterval = %d, want 30 (default on invalid input)", cfg.UpstreamQueue.MaxRequestsPerInterval)
	}
	if cfg.ClientRateLimit != 0 {
		t.Errorf("ClientRateLimit = %d, want 0 (default on invalid input)", cfg.ClientRateLimit)
	}
}

func TestConfigValidate(t *testing.T) {
	base := newTestConfig()

	bad := base
	bad.KVBackend = "postgres"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown KV backend")
	}

	bad = base
	bad.Network = "devnet"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown network")
	}

	bad = base
	bad.ClientRateLimit = -1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative client rate limit")
	}

	bad = base
	bad.ClientRateLimit = 10
	bad.ClientRateInterval = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for rate limiting without an interval")
	}

	bad = base
	bad.CacheWarmEnabled = true
	bad.CacheWarmInterval = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for warming without an interval")
	}
}

func newTestConfig() Config {
	cfg := Config{
		ListenAddr:         ":0",
		LogLevel:           "error",
		KVBackend:          "memory",
		HiroBaseURL:        "http://localhost:0",
		StxCityBaseURL:     "http://localhost:0",
		Network:            "mainnet",
		ClientRateLimit:    120,
		ClientRateInterval: time.Minute,
	}
	cfg.UpstreamQueue.MaxRequestsPerInterval = 30
	cfg.UpstreamQueue.Interval = time.Minute
	return cfg
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(newTestConfig())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if srv.Router() == nil {
		t.Fatal("expected non-nil Router()")
	}
}

func TestServerClose(t *testing.T) {
	srv, err := NewServer(newTestConfig())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestServerReload(t *testing.T) {
	srv, err := NewServer(newTestConfig())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	newCfg := srv.cfg
	newCfg.LogLevel = "debug"
	srv.Reload(newCfg)

	if srv.cfg.LogLevel != "debug" {
		t.Errorf("after Reload LogLevel = %q, want %q", srv.cfg.LogLevel, "debug")
	}
}
