package strix

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/casualjim/strix/pkg/stdx"
)

// Awaitable is a deferred result. A handler may return one, or a chain of them, and the engine
// keeps awaiting until a concrete value is produced.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

type Future[T any] interface {
	Get(ctx context.Context) (T, error)
}

type CompletableFuture[T any] interface {
	Future[T]
	Awaitable
	Complete(T)
	Error(error)
}

type futResult[T any] struct {
	result T
	err    error
}

type promise[T any] struct {
	done   chan struct{}
	result atomic.Pointer[futResult[T]]
	once   sync.Once
}

// NewPromise creates a future that is completed exactly once, by Complete or Error.
func NewPromise[T any]() CompletableFuture[T] {
	return &promise[T]{done: make(chan struct{})}
}

// Go runs fn in a new goroutine and returns a future for its result. Panics in fn fail the future.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) CompletableFuture[T] {
	p := NewPromise[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.Error(panicError(r))
			}
		}()
		v, err := fn(ctx)
		if err != nil {
			p.Error(err)
			return
		}
		p.Complete(v)
	}()
	return p
}

func (p *promise[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		res := p.result.Load()
		return res.result, res.err
	case <-ctx.Done():
		return stdx.Zero[T](), ctx.Err()
	}
}

func (p *promise[T]) Await(ctx context.Context) (any, error) {
	v, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (p *promise[T]) Complete(v T) {
	p.once.Do(func() {
		p.result.Store(&futResult[T]{result: v})
		close(p.done)
	})
}

func (p *promise[T]) Error(err error) {
	p.once.Do(func() {
		p.result.Store(&futResult[T]{result: stdx.Zero[T](), err: err})
		close(p.done)
	})
}

// Then chains fn after f, producing a future of the chained result.
func Then[T, R any](ctx context.Context, f Future[T], fn func(context.Context, T) (R, error)) CompletableFuture[R] {
	return Go(ctx, func(ctx context.Context) (R, error) {
		v, err := f.Get(ctx)
		if err != nil {
			return stdx.Zero[R](), err
		}
		return fn(ctx, v)
	})
}
