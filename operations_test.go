package strix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualjim/strix/spec"
)

func TestBuildOperations(t *testing.T) {
	t.Run("binds every subscribe operation", func(t *testing.T) {
		ops, err := BuildOperations(usersSpec(t), map[string]any{
			"onSignedUp": func(UserSignedUp) {},
			"onAudit":    func(any) {},
			"unused":     func() {},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, ops.Len())
		assert.Equal(t, []OperationKey{
			{Channel: "audit", OperationID: "onAudit"},
			{Channel: "user/signedup", OperationID: "onSignedUp"},
		}, ops.Keys())

		h, ok := ops.Lookup("user/signedup", "onSignedUp")
		require.True(t, ok)
		assert.NotEmpty(t, h.Name())

		_, ok = ops.Lookup("user/signedup", "onAudit")
		assert.False(t, ok)
	})

	t.Run("requires a handler per operation id", func(t *testing.T) {
		_, err := BuildOperations(usersSpec(t), map[string]any{"onSignedUp": func(UserSignedUp) {}})
		var onf *OperationIDNotFoundError
		require.ErrorAs(t, err, &onf)
		assert.Equal(t, "audit", onf.Channel)
		assert.Equal(t, "onAudit", onf.OperationID)
	})

	t.Run("skips subscribe operations without id", func(t *testing.T) {
		s := spec.New(spec.Info{Title: "audit", Version: "1.0.0"})
		_, err := spec.SubscribeUntyped(s, "audit", "")
		require.NoError(t, err)

		ops, err := BuildOperations(s, nil)
		require.NoError(t, err)
		assert.Zero(t, ops.Len())
	})

	t.Run("rejects invalid handlers", func(t *testing.T) {
		_, err := BuildOperations(usersSpec(t), map[string]any{
			"onSignedUp": "not a function",
			"onAudit":    func(any) {},
		})
		assert.ErrorIs(t, err, ErrInvalidHandler)
	})
}

func TestNewOperations(t *testing.T) {
	_, err := NewOperations(
		Bind("audit", "onAudit", func(any) {}),
		Bind("audit", "onAudit", func(any) {}),
	)
	assert.ErrorIs(t, err, ErrInvalidHandler)

	var nilOps *Operations
	_, ok := nilOps.Lookup("audit", "onAudit")
	assert.False(t, ok)
	assert.Zero(t, nilOps.Len())
	assert.Equal(t, "audit#onAudit", OperationKey{Channel: "audit", OperationID: "onAudit"}.String())
}
