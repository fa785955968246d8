package contracts

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/cache"
	"github.com/aibtcdev/edge-proxy/internal/fetcher"
	"github.com/aibtcdev/edge-proxy/internal/kv"
	"github.com/aibtcdev/edge-proxy/internal/queue"
)

const (
	mainnetAddr = "SP000000000000000000002Q6VF78"
	testnetAddr = "ST000000000000000000002AMW42H"
)

const testABI = `{
	"functions": [
		{"name": "get-count", "access": "read_only", "args": []},
		{"name": "get-item", "access": "read_only", "args": [{"name": "id", "type": "uint128"}]},
		{"name": "increment", "access": "public", "args": []},
		{"name": "internal-helper", "access": "private", "args": []}
	]
}`

type upstream struct {
	srv           *httptest.Server
	abiRequests   atomic.Int64
	callRequests  atomic.Int64
	callResult    string
	callOkay      bool
	callCause     string
	abiStatusCode int
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{callResult: "0x0703", callOkay: true, abiStatusCode: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/contracts/interface/", func(w http.ResponseWriter, r *http.Request) {
		u.abiRequests.Add(1)
		if u.abiStatusCode != http.StatusOK {
			w.WriteHeader(u.abiStatusCode)
			return
		}
		_, _ = w.Write([]byte(testABI))
	})
	mux.HandleFunc("/v2/contracts/call-read/", func(w http.ResponseWriter, r *http.Request) {
		u.callRequests.Add(1)
		require.Equal(t, http.MethodPost, r.Method)
		if u.callOkay {
			_, _ = w.Write([]byte(`{"okay": true, "result": "` + u.callResult + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{"okay": false, "cause": "` + u.callCause + `"}`))
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func newTestFetcher(t *testing.T, baseURL string) *fetcher.Fetcher {
	t.Helper()
	store := cache.New(kv.NewMemory(), cache.Options{DefaultTTL: time.Minute})
	return newTestFetcherWithStore(t, baseURL, store)
}

func newTestFetcherWithStore(t *testing.T, baseURL string, store *cache.Store) *fetcher.Fetcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f, err := fetcher.New(fetcher.Config{
		BaseURL: baseURL,
		Service: "contract-calls",
		Queue: queue.Config{
			MaxRequestsPerInterval: 100,
			Interval:               time.Second,
			MaxRetries:             0,
			RetryDelay:             time.Millisecond,
			RequestTimeout:         5 * time.Second,
		},
	}, store, nil, logger, nil)
	require.NoError(t, err)
	return f
}

func TestAbiStoreCachesForever(t *testing.T) {
	up := newUpstream(t)
	f := newTestFetcher(t, up.srv.URL)
	abis := NewAbiStore(f)
	ctx := context.Background()

	abi, err := abis.Get(ctx, mainnetAddr, "counter")
	require.NoError(t, err)
	require.NotNil(t, abi.Function("get-count"))
	assert.True(t, abi.Function("get-count").Callable())
	assert.True(t, abi.Function("increment").Callable())
	assert.False(t, abi.Function("internal-helper").Callable())
	assert.Nil(t, abi.Function("missing"))

	// Second lookup is served from the cache.
	_, err = abis.Get(ctx, mainnetAddr, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), up.abiRequests.Load())

	known, err := abis.Known(ctx)
	require.NoError(t, err)
	assert.Equal(t, []KnownContract{{ContractAddress: mainnetAddr, ContractName: "counter"}}, known)
}

func TestAbiStoreForget(t *testing.T) {
	up := newUpstream(t)
	f := newTestFetcher(t, up.srv.URL)
	abis := NewAbiStore(f)
	ctx := context.Background()

	_, err := abis.Get(ctx, mainnetAddr, "counter")
	require.NoError(t, err)
	require.NoError(t, abis.Forget(ctx, mainnetAddr, "counter"))

	known, err := abis.Known(ctx)
	require.NoError(t, err)
	assert.Empty(t, known)

	_, err = abis.Get(ctx, mainnetAddr, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), up.abiRequests.Load())
}

func TestAbiStoreValidation(t *testing.T) {
	f := newTestFetcher(t, "http://unreachable.invalid")
	abis := NewAbiStore(f)
	ctx := context.Background()

	_, err := abis.Get(ctx, "not-an-address", "counter")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidContractAddress, apperr.From(err).Code)

	_, err = abis.Get(ctx, mainnetAddr, "9bad")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidationError, apperr.From(err).Code)
}

func TestCallerHappyPath(t *testing.T) {
	up := newUpstream(t)
	f := newTestFetcher(t, up.srv.URL)
	caller := NewCaller(f, NewAbiStore(f), cache.NewKeyBuilder("contract_calls"), "mainnet")
	ctx := context.Background()

	got, err := caller.Call(ctx, CallRequest{
		ContractAddress: mainnetAddr,
		ContractName:    "counter",
		FunctionName:    "get-count",
	})
	require.NoError(t, err)
	// (ok true) unwraps to true.
	assert.Equal(t, true, got)
	assert.Equal(t, int64(1), up.callRequests.Load())

	// Second identical call hits the result cache.
	got, err = caller.Call(ctx, CallRequest{
		ContractAddress: mainnetAddr,
		ContractName:    "counter",
		FunctionName:    "get-count",
	})
	require.NoError(t, err)
	assert.Equal(t, true, got)
	assert.Equal(t, int64(1), up.callRequests.Load())
}

func TestCallerDecodeFlagsServeFromCache(t *testing.T) {
	up := newUpstream(t)
	f := newTestFetcher(t, up.srv.URL)
	caller := NewCaller(f, NewAbiStore(f), cache.NewKeyBuilder("contract_calls"), "mainnet")
	ctx := context.Background()

	req := CallRequest{
		ContractAddress: mainnetAddr,
		ContractName:    "counter",
		FunctionName:    "get-count",
	}
	_, err := caller.Call(ctx, req)
	require.NoError(t, err)

	// Same call with different decode flags reuses the cached wire value.
	req.PreserveContainers = true
	got, err := caller.Call(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": "ok", "value": true}, got)
	assert.Equal(t, int64(1), up.callRequests.Load())
}

func TestCallerBustCache(t *testing.T) {
	up := newUpstream(t)
	f := newTestFetcher(t, up.srv.URL)
	caller := NewCaller(f, NewAbiStore(f), cache.NewKeyBuilder("contract_calls"), "mainnet")
	ctx := context.Background()

	req := CallRequest{
		ContractAddress: mainnetAddr,
		ContractName:    "counter",
		FunctionName:    "get-count",
	}
	_, err := caller.Call(ctx, req)
	require.NoError(t, err)

	req.CacheControl.BustCache = true
	_, err = caller.Call(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), up.callRequests.Load())
}

func TestCallerArgumentValidation(t *testing.T) {
	up := newUpstream(t)
	f := newTestFetcher(t, up.srv.URL)
	caller := NewCaller(f, NewAbiStore(f), cache.NewKeyBuilder("contract_calls"), "mainnet")
	ctx := context.Background()

	// Wrong arity.
	_, err := caller.Call(ctx, CallRequest{
		ContractAddress: mainnetAddr,
		ContractName:    "counter",
		FunctionName:    "get-count",
		FunctionArgs:    []any{map[string]any{"type": "uint", "value": "1"}},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidArguments, apperr.From(err).Code)

	// Unconvertible argument.
	_, err = caller.Call(ctx, CallRequest{
		ContractAddress: mainnetAddr,
		ContractName:    "counter",
		FunctionName:    "get-item",
		FunctionArgs:    []any{map[string]any{"type": "mystery", "value": "1"}},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidArguments, apperr.From(err).Code)

	// No upstream call happened for either.
	assert.Equal(t, int64(0), up.callRequests.Load())
}

func TestCallerFunctionValidation(t *testing.T) {
	up := newUpstream(t)
	f := newTestFetcher(t, up.srv.URL)
	caller := NewCaller(f, NewAbiStore(f), cache.NewKeyBuilder("contract_calls"), "mainnet")
	ctx := context.Background()

	_, err := caller.Call(ctx, CallRequest{
		ContractAddress: mainnetAddr,
		ContractName:    "counter",
		FunctionName:    "no-such-fn",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidFunction, apperr.From(err).Code)

	_, err = caller.Call(ctx, CallRequest{
		ContractAddress: mainnetAddr,
		ContractName:    "counter",
		FunctionName:    "internal-helper",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidFunction, apperr.From(err).Code)
	assert.Equal(t, int64(0), up.callRequests.Load())
}

func TestCallerNetworkMismatch(t *testing.T) {
	up := newUpstream(t)
	f := newTestFetcher(t, up.srv.URL)
	caller := NewCaller(f, NewAbiStore(f), cache.NewKeyBuilder("contract_calls"), "mainnet")
	ctx := context.Background()

	_, err := caller.Call(ctx, CallRequest{
		ContractAddress: testnetAddr,
		ContractName:    "counter",
		FunctionName:    "get-count",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidContractAddress, apperr.From(err).Code)

	_, err = caller.Call(ctx, CallRequest{
		ContractAddress: mainnetAddr,
		ContractName:    "counter",
		FunctionName:    "get-count",
		Network:         "devnet",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidationError, apperr.From(err).Code)
}

func TestTTLFromSeconds(t *testing.T) {
	secs := func(n int) *int { return &n }

	assert.Equal(t, cache.UseDefaultTTL, ttlFromSeconds(nil), "absent ttl keeps the store default")
	assert.Equal(t, time.Duration(0), ttlFromSeconds(secs(0)), "explicit 0 caches without expiration")
	assert.Equal(t, time.Duration(0), ttlFromSeconds(secs(-5)))
	assert.Equal(t, 90*time.Second, ttlFromSeconds(secs(90)))
}

func TestCallerExplicitZeroTTLOutlivesDefault(t *testing.T) {
	up := newUpstream(t)
	store := cache.New(kv.NewMemory(), cache.Options{DefaultTTL: 20 * time.Millisecond})
	f := newTestFetcherWithStore(t, up.srv.URL, store)
	caller := NewCaller(f, NewAbiStore(f), cache.NewKeyBuilder("contract_calls"), "mainnet")
	ctx := context.Background()

	zero := 0
	req := CallRequest{
		ContractAddress: mainnetAddr,
		ContractName:    "counter",
		FunctionName:    "get-count",
		CacheControl:    CacheControl{TTLSeconds: &zero},
	}
	_, err := caller.Call(ctx, req)
	require.NoError(t, err)

	// Past the default TTL the result is still served from the cache.
	time.Sleep(40 * time.Millisecond)
	_, err = caller.Call(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), up.callRequests.Load())
}

func TestCallerContractRejection(t *testing.T) {
	up := newUpstream(t)
	up.callOkay = false
	up.callCause = "Unchecked(UndefinedVariable)"
	f := newTestFetcher(t, up.srv.URL)
	caller := NewCaller(f, NewAbiStore(f), cache.NewKeyBuilder("contract_calls"), "mainnet")

	_, err := caller.Call(context.Background(), CallRequest{
		ContractAddress: mainnetAddr,
		ContractName:    "counter",
		FunctionName:    "get-count",
	})
	require.Error(t, err)
	ae := apperr.From(err)
	assert.Equal(t, apperr.CodeValidationError, ae.Code)
	assert.Equal(t, up.callCause, ae.Details["cause"])
}
