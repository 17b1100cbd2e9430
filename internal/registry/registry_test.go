package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("add and get", func(t *testing.T) {
		r := New[int]()
		r.Add("a", 1)

		v, ok := r.Get("a")
		require.True(t, ok)
		assert.Equal(t, 1, v)

		_, ok = r.Get("missing")
		assert.False(t, ok)
	})

	t.Run("get or add keeps the first value", func(t *testing.T) {
		r := New[string]()
		v, loaded := r.GetOrAdd("ch", func() string { return "first" })
		assert.False(t, loaded)
		assert.Equal(t, "first", v)

		v, loaded = r.GetOrAdd("ch", func() string { return "second" })
		assert.True(t, loaded)
		assert.Equal(t, "first", v)
	})

	t.Run("keys are sorted", func(t *testing.T) {
		r := New[int]()
		r.Add("c", 3)
		r.Add("a", 1)
		r.Add("b", 2)
		assert.Equal(t, []string{"a", "b", "c"}, r.Keys())
		assert.Equal(t, 3, r.Len())

		r.Del("b")
		assert.Equal(t, []string{"a", "c"}, r.Keys())
	})

	t.Run("range visits every entry", func(t *testing.T) {
		r := New[int]()
		r.Add("x", 1)
		r.Add("y", 2)
		sum := 0
		r.Range(func(_ string, v int) bool {
			sum += v
			return true
		})
		assert.Equal(t, 3, sum)
	})

	t.Run("concurrent get or add", func(t *testing.T) {
		r := New[*int]()
		var wg sync.WaitGroup
		results := make([]*int, 32)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], _ = r.GetOrAdd("shared", func() *int { n := i; return &n })
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, r.Len())
		for _, p := range results {
			assert.NotNil(t, p)
		}
	})
}
