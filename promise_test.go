package strix

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromise(t *testing.T) {
	ctx := context.Background()

	t.Run("completes once", func(t *testing.T) {
		p := NewPromise[string]()
		p.Complete("first")
		p.Complete("second")
		p.Error(errors.New("late"))

		v, err := p.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "first", v)
	})

	t.Run("fails with the first error", func(t *testing.T) {
		boom := errors.New("boom")
		p := NewPromise[int]()
		p.Error(boom)
		p.Complete(1)

		v, err := p.Get(ctx)
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, v)
	})

	t.Run("honors the context", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := NewPromise[int]().Get(cctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("runs work asynchronously", func(t *testing.T) {
		f := Go(ctx, func(context.Context) (int, error) { return 21, nil })
		doubled := Then(ctx, f, func(_ context.Context, v int) (int, error) { return v * 2, nil })

		v, err := doubled.Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("propagates failures through chains", func(t *testing.T) {
		boom := errors.New("boom")
		f := Go(ctx, func(context.Context) (int, error) { return 0, boom })
		called := false
		chained := Then(ctx, f, func(_ context.Context, v int) (int, error) {
			called = true
			return v, nil
		})

		_, err := chained.Get(ctx)
		assert.ErrorIs(t, err, boom)
		assert.False(t, called)
	})

	t.Run("turns panics into errors", func(t *testing.T) {
		f := Go(ctx, func(context.Context) (int, error) { panic("boom") })
		_, err := f.Get(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}
