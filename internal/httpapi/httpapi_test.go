package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibtcdev/edge-proxy/internal/actors"
	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/events"
	"github.com/aibtcdev/edge-proxy/internal/fetcher"
	"github.com/aibtcdev/edge-proxy/internal/kv"
	"github.com/aibtcdev/edge-proxy/internal/queue"
)

const bootAddr = "SP000000000000000000002Q6VF78"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		ID      string         `json:"id"`
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newTestRouter(t *testing.T, upstreamURL string) (http.Handler, *events.Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := cache.New(kv.NewMemory(), cache.Options{DefaultTTL: time.Minute})
	f, err := fetcher.New(fetcher.Config{
		BaseURL: upstreamURL,
		Service: "hiro-api",
		Queue: queue.Config{
			MaxRequestsPerInterval: 100,
			Interval:               time.Second,
			RetryDelay:             time.Millisecond,
			RequestTimeout:         5 * time.Second,
		},
	}, store, nil, logger, nil)
	require.NoError(t, err)

	bus := events.NewBus()
	sink := events.NewSink(store, bus, 0)

	r := chi.NewRouter()
	MountRoutes(r, Dependencies{
		Runtime:    NewRuntime(logger, nil),
		EventBus:   bus,
		KV:         store.KV(),
		Hiro:       actors.NewHiro(f, cache.NewKeyBuilder("hiroapi"), logger, bus, nil),
		Chainhooks: actors.NewChainhooks(sink, logger, bus, nil),
		Accounts:   actors.NewAccountRegistry(f, logger, bus, nil),
	})
	return r, bus
}

func doReq(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestWelcomeDescriptor(t *testing.T) {
	h, _ := newTestRouter(t, "http://unreachable.invalid")

	rec, env := doReq(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), "/hiro-api")
	assert.Contains(t, string(env.Data), "/stacks-account")
	assertCORS(t, rec)
}

func TestSuccessEnvelopeProxiesUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"network_id":1}`))
	}))
	defer srv.Close()
	h, _ := newTestRouter(t, srv.URL)

	rec, env := doReq(t, h, http.MethodGet, "/hiro-api/v2/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"network_id":1}`, string(env.Data))
	assertCORS(t, rec)
}

func TestErrorEnvelopeCarriesCORS(t *testing.T) {
	h, _ := newTestRouter(t, "http://unreachable.invalid")

	// Unknown endpoint under a known actor.
	rec, env := doReq(t, h, http.MethodGet, "/hiro-api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assert.NotEmpty(t, env.Error.ID)
	assert.Contains(t, env.Error.Details, "supportedEndpoints")
	assertCORS(t, rec)

	// Unknown prefix entirely: the router-level fallback.
	rec, env = doReq(t, h, http.MethodGet, "/no/such/service", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assertCORS(t, rec)
}

func TestMethodMismatchIsBadRequest(t *testing.T) {
	h, _ := newTestRouter(t, "http://unreachable.invalid")

	rec, env := doReq(t, h, http.MethodGet, "/chainhooks/post-event", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
	assertCORS(t, rec)
}

func TestPreflight(t *testing.T) {
	h, _ := newTestRouter(t, "http://unreachable.invalid")

	req := httptest.NewRequest(http.MethodOptions, "/hiro-api/v2/info", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Plain OPTIONS without preflight headers still answers 200 with the
	// default CORS set.
	rec, _ = doReq(t, h, http.MethodOptions, "/hiro-api/v2/info", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assertCORS(t, rec)
}

func TestHealthz(t *testing.T) {
	h, _ := newTestRouter(t, "http://unreachable.invalid")

	rec, _ := doReq(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assertCORS(t, rec)
}

func TestAccountRouting(t *testing.T) {
	h, _ := newTestRouter(t, "http://unreachable.invalid")

	rec, env := doReq(t, h, http.MethodPost, "/stacks-account/"+bootAddr+"/nonce/update", `{"nonce":7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"nonce":7}`, string(env.Data))

	rec, env = doReq(t, h, http.MethodGet, "/stacks-account/"+bootAddr+"/nonce", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"nonce":7}`, string(env.Data))

	// Malformed addresses are rejected before an actor is created.
	rec, env = doReq(t, h, http.MethodGet, "/stacks-account/not-an-address/nonce", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_CONTRACT_ADDRESS", env.Error.Code)
	assertCORS(t, rec)
}

func TestSSEStream(t *testing.T) {
	h, bus := newTestRouter(t, "http://unreachable.invalid")
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/chainhooks/events/stream", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	rd := bufio.NewReader(res.Body)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	// Wait for the subscriber to register before publishing.
	require.Eventually(t, func() bool { return bus.SubscriberCount() > 0 }, time.Second, 5*time.Millisecond)
	bus.Publish(events.Event{Type: events.EventCacheWarmed, Service: "hiro-api"})

	for {
		line, err = rd.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: cache_warmed") {
			return
		}
	}
}
