package slogx

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	attr := Error(errors.New("boom"))
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "boom", attr.Value.String())

	assert.Equal(t, "", Error(nil).Value.String())
}

func TestPreview(t *testing.T) {
	t.Run("short payload", func(t *testing.T) {
		attr := Preview("message", []byte("hello"), 10)
		assert.Equal(t, "hello", attr.Value.String())
	})

	t.Run("long payload", func(t *testing.T) {
		attr := Preview("message", []byte("hello world"), 5)
		assert.Equal(t, "hello...", attr.Value.String())
	})

	t.Run("no limit", func(t *testing.T) {
		attr := Preview("message", []byte("hello world"), 0)
		assert.Equal(t, "hello world", attr.Value.String())
	})
}

func TestNamed(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	Named(base, "strix.test").Info("ready", Channel("orders"))

	assert.Contains(t, buf.String(), "logger=strix.test")
	assert.Contains(t, buf.String(), "channel=orders")
	assert.NotNil(t, Named(nil, "strix.default"))
}
