package stdx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZero(t *testing.T) {
	t.Run("numeric types", func(t *testing.T) {
		assert.Equal(t, 0, Zero[int]())
		assert.Equal(t, float64(0), Zero[float64]())
	})

	t.Run("string", func(t *testing.T) {
		assert.Equal(t, "", Zero[string]())
	})

	t.Run("pointer", func(t *testing.T) {
		var expected *int
		assert.Equal(t, expected, Zero[*int]())
	})

	t.Run("interface", func(t *testing.T) {
		assert.Nil(t, Zero[context.Context]())
	})

	t.Run("struct", func(t *testing.T) {
		type payload struct {
			ID   string
			Tags []string
		}
		assert.Equal(t, payload{}, Zero[payload]())
	})
}
