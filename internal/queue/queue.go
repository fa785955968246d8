// Package queue implements the single-consumer FIFO that serializes all
// traffic to one upstream. Work is admitted only when the paired token
// bucket has budget and the minimum inter-request spacing has elapsed;
// transient failures are retried with exponential backoff, and retries
// requeue to the tail so one flaky request cannot starve the rest.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aibtcdev/edge-proxy/internal/apperr"
	"github.com/aibtcdev/edge-proxy/internal/ratelimit"
)

// slowThreshold is the execution duration above which a task is logged as
// slow.
const slowThreshold = time.Second

// minSpacingFloor is the lower bound on inter-request spacing regardless
// of configuration.
const minSpacingFloor = 250 * time.Millisecond

// Config tunes a Queue to one upstream's rate limit.
type Config struct {
	MaxRequestsPerInterval int
	Interval               time.Duration
	MaxRetries             int
	RetryDelay             time.Duration
	RequestTimeout         time.Duration
}

// DefaultConfig returns conservative defaults suitable for public APIs.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerInterval: 30,
		Interval:               time.Minute,
		MaxRetries:             3,
		RetryDelay:             time.Second,
		RequestTimeout:         5 * time.Second,
	}
}

// Task is one unit of upstream work. The context carries the per-request
// execution deadline.
type Task[T any] func(ctx context.Context) (T, error)

type result[T any] struct {
	value T
	err   error
}

type item[T any] struct {
	id         string
	task       Task[T]
	resultCh   chan result[T]
	retryCount int
	enqueuedAt time.Time
}

// Queue is a single-consumer FIFO paired with a token bucket. The worker
// is cooperative: Enqueue starts it when idle, and it exits once the
// queue drains.
type Queue[T any] struct {
	cfg     Config
	spacing time.Duration
	bucket  *ratelimit.TokenBucket
	logger  *slog.Logger

	mu            sync.Mutex
	items         []*item[T]
	running       bool
	lastRequestAt time.Time
}

// New creates a Queue with its own token bucket sized from cfg.
func New[T any](cfg Config, logger *slog.Logger) *Queue[T] {
	if cfg.MaxRequestsPerInterval <= 0 {
		cfg.MaxRequestsPerInterval = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	spacing := cfg.Interval / time.Duration(cfg.MaxRequestsPerInterval)
	if spacing < minSpacingFloor {
		spacing = minSpacingFloor
	}
	return &Queue[T]{
		cfg:     cfg,
		spacing: spacing,
		bucket:  ratelimit.NewTokenBucket(cfg.MaxRequestsPerInterval, cfg.Interval),
		logger:  logger,
	}
}

// Bucket exposes the paired token bucket (read-side observability).
func (q *Queue[T]) Bucket() *ratelimit.TokenBucket { return q.bucket }

// Depth returns the number of queued requests.
func (q *Queue[T]) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// MinSpacing returns the derived minimum inter-request spacing.
func (q *Queue[T]) MinSpacing() time.Duration { return q.spacing }

// Enqueue appends task and blocks until it resolves or rejects. Admission
// order equals enqueue order; a retried task requeues to the tail.
func (q *Queue[T]) Enqueue(ctx context.Context, task Task[T]) (T, error) {
	it := &item[T]{
		id:         uuid.NewString(),
		task:       task,
		resultCh:   make(chan result[T], 1),
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	q.items = append(q.items, it)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.run()
	}

	select {
	case res := <-it.resultCh:
		return res.value, res.err
	case <-ctx.Done():
		// The task still runs to completion inside the queue; only the
		// caller stops waiting. Matches the no-external-cancellation model.
		var zero T
		return zero, apperr.New(apperr.CodeTimeout, "caller abandoned queued request").WithCause(ctx.Err())
	}
}

// run is the admission loop. Exactly one instance runs at a time.
func (q *Queue[T]) run() {
	for {
		it := q.peek()
		if it == nil {
			// Re-check under the lock so an Enqueue racing with shutdown
			// of the loop cannot strand an item.
			q.mu.Lock()
			if len(q.items) == 0 {
				q.running = false
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			continue
		}

		if !q.bucket.TryAcquire() {
			// Out of budget: wait roughly one token's worth of refill.
			time.Sleep(q.spacing)
			continue
		}

		q.waitSpacing()
		q.execute(it)
	}
}

// waitSpacing sleeps until the minimum spacing since the last admitted
// request has elapsed.
func (q *Queue[T]) waitSpacing() {
	q.mu.Lock()
	last := q.lastRequestAt
	q.mu.Unlock()
	if last.IsZero() {
		return
	}
	if wait := q.spacing - time.Since(last); wait > 0 {
		time.Sleep(wait)
	}
}

func (q *Queue[T]) peek() *item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// pop removes the head. The head is only ever touched by the single
// worker, so it is still the same item observed by peek.
func (q *Queue[T]) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
}

func (q *Queue[T]) pushTail(it *item[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, it)
}

// execute runs the head item under the request timeout and settles it.
func (q *Queue[T]) execute(it *item[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.RequestTimeout)
	started := time.Now()
	value, err := runWithDeadline(ctx, q.cfg.RequestTimeout, it.task)
	cancel()
	elapsed := time.Since(started)

	if err == nil {
		q.pop()
		q.mu.Lock()
		q.lastRequestAt = time.Now()
		q.mu.Unlock()
		if elapsed > slowThreshold {
			q.logger.Warn("slow queued request",
				slog.String("request_id", it.id),
				slog.Duration("duration", elapsed))
		}
		it.resultCh <- result[T]{value: value}
		return
	}

	q.pop()
	q.mu.Lock()
	q.lastRequestAt = time.Now()
	q.mu.Unlock()

	if apperr.IsRetryable(err) && it.retryCount < q.cfg.MaxRetries {
		it.retryCount++
		q.pushTail(it)
		backoff := q.cfg.RetryDelay * (1 << (it.retryCount - 1))
		q.logger.Debug("retrying queued request",
			slog.String("request_id", it.id),
			slog.Int("attempt", it.retryCount),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))
		time.Sleep(backoff)
		return
	}

	// Wrap untyped failures so callers always see the taxonomy.
	ae := apperr.From(err)
	if ae.Code == apperr.CodeInternal {
		ae = apperr.New(apperr.CodeUpstreamAPIError, "upstream request failed").WithCause(err)
	}
	q.logger.Warn("queued request rejected",
		slog.String("request_id", it.id),
		slog.Int("retries", it.retryCount),
		slog.String("code", string(ae.Code)),
		slog.String("error", err.Error()))
	it.resultCh <- result[T]{err: ae}
}

// runWithDeadline executes task and enforces ctx's deadline even when the
// task itself ignores the context. A timed-out task keeps running in its
// goroutine; its eventual result is dropped.
func runWithDeadline[T any](ctx context.Context, timeout time.Duration, task Task[T]) (T, error) {
	done := make(chan result[T], 1)
	go func() {
		v, err := task(ctx)
		done <- result[T]{value: v, err: err}
	}()
	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, apperr.New(apperr.CodeTimeout, "queued request exceeded %s deadline", timeout)
	}
}
