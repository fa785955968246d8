// Package httpapi is the proxy's HTTP front door: the handler runtime
// that converts typed errors into JSON envelopes, the chi route mounting
// for every route actor, CORS, and the SSE event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aibtcdev/edge-proxy/internal/actors"
	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/metrics"
)

// maxBodyBytes bounds inbound request bodies (webhook payloads included).
const maxBodyBytes = 1 << 20

// defaultSlowThreshold is the handler duration above which completion is
// logged at WARN instead of DEBUG.
const defaultSlowThreshold = time.Second

// successEnvelope is the uniform success response shape.
type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// errorEnvelope is the uniform error response shape.
type errorEnvelope struct {
	Success bool          `json:"success"`
	Error   *apperr.Error `json:"error"`
}

// DispatchFunc is the actor-facing handler signature the runtime wraps.
type DispatchFunc func(ctx context.Context, req *actors.Request) (any, error)

// Runtime is the single place that turns handler outcomes into HTTP
// responses. Handlers return values or typed errors; nothing below this
// layer writes a response body.
type Runtime struct {
	logger        *slog.Logger
	metrics       *metrics.Registry
	slowThreshold time.Duration
}

// NewRuntime builds a Runtime. metrics may be nil.
func NewRuntime(logger *slog.Logger, m *metrics.Registry) *Runtime {
	return &Runtime{
		logger:        logger,
		metrics:       m,
		slowThreshold: defaultSlowThreshold,
	}
}

// Wrap adapts an actor dispatch into an http.HandlerFunc with request
// correlation, slow-request detection, and envelope serialization.
func (rt *Runtime) Wrap(service string, dispatch DispatchFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		started := time.Now()

		rt.logger.Info("request started",
			slog.String("request_id", requestID),
			slog.String("service", service),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))

		defer func() {
			if rec := recover(); rec != nil {
				rt.logger.Error("handler panicked",
					slog.String("request_id", requestID),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())))
				rt.writeError(w, service, apperr.New(apperr.CodeInternal, "internal error"))
			}
		}()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			rt.writeError(w, service, apperr.New(apperr.CodeInvalidRequest, "unreadable request body").WithCause(err))
			return
		}

		result, err := dispatch(r.Context(), &actors.Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Body:   body,
		})
		elapsed := time.Since(started)

		if err != nil {
			ae := apperr.From(err)
			level := slog.LevelWarn
			if ae.Code == apperr.CodeInternal {
				level = slog.LevelError
			}
			rt.logger.Log(r.Context(), level, "request failed",
				slog.String("request_id", requestID),
				slog.String("service", service),
				slog.String("path", r.URL.Path),
				slog.String("code", string(ae.Code)),
				slog.String("error_id", ae.ID),
				slog.String("error", ae.Message),
				slog.Duration("duration", elapsed))
			rt.writeError(w, service, ae)
			return
		}

		if elapsed > rt.slowThreshold {
			rt.logger.Warn("slow request",
				slog.String("request_id", requestID),
				slog.String("service", service),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", elapsed))
		} else {
			rt.logger.Debug("request completed",
				slog.String("request_id", requestID),
				slog.String("service", service),
				slog.Duration("duration", elapsed))
		}
		rt.observe(service, http.StatusOK, elapsed)
		writeJSON(w, http.StatusOK, successEnvelope{Success: true, Data: result})
	}
}

// WriteError serializes ae as the standard error envelope. Exported for
// route-level fallbacks (unknown prefix, unmatched path).
func (rt *Runtime) WriteError(w http.ResponseWriter, ae *apperr.Error) {
	rt.writeError(w, "router", ae)
}

func (rt *Runtime) writeError(w http.ResponseWriter, service string, ae *apperr.Error) {
	status := ae.HTTPStatus()
	rt.observe(service, status, 0)
	writeJSON(w, status, errorEnvelope{Success: false, Error: ae})
}

func (rt *Runtime) observe(service string, status int, elapsed time.Duration) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RequestsTotal.WithLabelValues(service, strconv.Itoa(status)).Inc()
	if elapsed > 0 {
		rt.metrics.RequestLatency.WithLabelValues(service).Observe(float64(elapsed.Milliseconds()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
