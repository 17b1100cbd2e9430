package slogx

import (
	"log/slog"

	"github.com/casualjim/strix/pkg/jsonx"
)

const (
	// KeyLoggerName is the attribute key carrying the component name of a logger.
	KeyLoggerName = "logger"
	// KeyChannel is the attribute key carrying a channel name.
	KeyChannel = "channel"
)

// Error returns a slog.Attr representing the provided error.
// The attribute key is "error" and the value is the error's message.
// A nil error is rendered as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// LoggerName returns an attribute naming the component that owns a logger.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Channel returns an attribute for a channel name.
func Channel(name string) slog.Attr {
	return slog.String(KeyChannel, name)
}

// Preview renders at most n bytes of a payload as a string attribute.
// Longer payloads are cut and suffixed with "...".
func Preview(key string, payload []byte, n int) slog.Attr {
	return slog.String(key, jsonx.Preview(payload, n))
}

// Named returns a child of base tagged with the given logger name.
// A nil base falls back to slog.Default().
func Named(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(LoggerName(name))
}
