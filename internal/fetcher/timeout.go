package fetcher

import (
	"context"
	"time"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
)

// WithTimeout runs fn under a deadline derived from ctx. On expiry it
// returns a TIMEOUT_ERROR carrying the configured duration and message;
// fn keeps running in its goroutine but its result is dropped. Deadline
// propagation is native: fn receives the bounded context and should pass
// it to any blocking call.
func WithTimeout[T any](ctx context.Context, d time.Duration, msg string, fn func(context.Context) (T, error)) (T, error) {
	bounded, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(bounded)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-bounded.Done():
		var zero T
		if ctx.Err() != nil {
			// The parent was cancelled, not our timer.
			return zero, apperr.New(apperr.CodeTimeout, "%s", msg).WithCause(ctx.Err())
		}
		return zero, apperr.New(apperr.CodeTimeout, "%s", msg).
			WithDetails(map[string]any{"ms": d.Milliseconds(), "message": msg})
	}
}
