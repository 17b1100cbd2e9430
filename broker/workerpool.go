package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var errWorkerPanic = errors.New("broker worker panicked")

// workerPool bounds the number of native client calls in flight.
// Each call runs in its own goroutine holding one slot until the native call returns, even when the
// caller already gave up on it, so an unresponsive broker can never consume more than size slots.
type workerPool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newWorkerPool(size int, logger *slog.Logger) *workerPool {
	if size < 1 {
		size = 1
	}
	return &workerPool{
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger,
	}
}

type callResult[T any] struct {
	value T
	err   error
}

// call runs fn on the pool and waits for its result for at most timeout. The wait for a free slot
// counts against the timeout. A call that does not finish in time yields ErrCallTimeout, a call
// abandoned because ctx ended yields the context error. A closed pool refuses calls with ErrDisconnected.
func call[T any](ctx context.Context, wp *workerPool, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !wp.enter() {
		return zero, ErrDisconnected
	}
	if err := wp.sem.Acquire(cctx, 1); err != nil {
		wp.wg.Done()
		return zero, wp.timeoutErr(ctx)
	}

	result := make(chan callResult[T], 1)
	go func() {
		defer wp.wg.Done()
		defer wp.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				wp.logger.Error("broker worker panic", slog.Any("panic", r))
				result <- callResult[T]{err: fmt.Errorf("%w: %v", errWorkerPanic, r)}
			}
		}()

		v, err := fn(cctx)
		result <- callResult[T]{value: v, err: err}
	}()

	select {
	case r := <-result:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%w: %w", ErrCallTimeout, r.err)
		}
		return r.value, r.err
	case <-cctx.Done():
		return zero, wp.timeoutErr(ctx)
	}
}

func (wp *workerPool) timeoutErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrCallTimeout
}

// enter registers a call unless the pool is closed.
func (wp *workerPool) enter() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.closed {
		return false
	}
	wp.wg.Add(1)
	return true
}

// open lets a closed pool take calls again.
func (wp *workerPool) open() {
	wp.mu.Lock()
	wp.closed = false
	wp.mu.Unlock()
}

// wait closes the pool and blocks until every in-flight call has returned or ctx ends.
func (wp *workerPool) wait(ctx context.Context) error {
	wp.mu.Lock()
	wp.closed = true
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
