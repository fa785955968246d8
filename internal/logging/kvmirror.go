package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aibtcdev/edge-proxy/internal/kv"
)

// mirrorTTL is how long mirrored WARN/ERROR records stay in the KV.
const mirrorTTL = 7 * 24 * time.Hour

// KVMirrorHandler tees WARN and ERROR records into the shared KV under
// logs_{iso}_{rand} so operators can inspect recent failures without
// shell access. Writes are fire-and-forget; the KV must never slow the
// request path down.
type KVMirrorHandler struct {
	base  slog.Handler
	store kv.Store
}

// NewKVMirror wraps base with the KV mirror.
func NewKVMirror(base slog.Handler, store kv.Store) *KVMirrorHandler {
	return &KVMirrorHandler{base: base, store: store}
}

// mirrorRecord is the persisted shape of one log entry.
type mirrorRecord struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}

func (h *KVMirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *KVMirrorHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		rec := mirrorRecord{
			ID:        uuid.NewString(),
			Timestamp: r.Time.UTC().Format(time.RFC3339Nano),
			Level:     r.Level.String(),
			Message:   r.Message,
			Context:   map[string]any{},
		}
		r.Attrs(func(a slog.Attr) bool {
			rec.Context[a.Key] = a.Value.String()
			return true
		})
		key := "logs_" + rec.Timestamp + "_" + rec.ID[:8]
		if data, err := json.Marshal(rec); err == nil {
			go func() {
				putCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = h.store.Put(putCtx, key, data, mirrorTTL)
			}()
		}
	}
	return h.base.Handle(ctx, r)
}

func (h *KVMirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &KVMirrorHandler{base: h.base.WithAttrs(attrs), store: h.store}
}

func (h *KVMirrorHandler) WithGroup(name string) slog.Handler {
	return &KVMirrorHandler{base: h.base.WithGroup(name), store: h.store}
}

// SetupWithKV builds the full handler chain: redaction over a JSON stderr
// handler, with WARN/ERROR mirrored to the KV.
func SetupWithKV(level string, store kv.Store) *slog.Logger {
	logger := Setup(level)
	if store == nil {
		return logger
	}
	mirrored := slog.New(NewKVMirror(logger.Handler(), store))
	slog.SetDefault(mirrored)
	return mirrored
}
