// Package jsonx holds the JSON helpers shared by the dispatch engine and the broker backends.
package jsonx

import (
	"errors"
	"fmt"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned by Decode when the payload is not a well-formed JSON document.
var ErrInvalidJSON = errors.New("invalid json")

// Decode parses a raw wire payload into a dynamic value (map[string]any, []any, string,
// float64, bool or nil). The document is checked with gjson first so that garbage input
// fails fast without allocating.
func Decode(data []byte) (any, error) {
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJSON, Preview(data, 64))
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	return v, nil
}

// DecodeInto unmarshals data into target, which must be a pointer.
func DecodeInto(data []byte, target any) error {
	return json.Unmarshal(data, target)
}

// Encode converts a message into wire bytes. Byte slices, strings and raw messages are
// passed through untouched; anything else is JSON encoded.
func Encode(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case []byte:
		return val, nil
	case json.RawMessage:
		return []byte(val), nil
	case string:
		return []byte(val), nil
	default:
		return json.Marshal(v)
	}
}

// Preview returns at most n bytes of data as a string, suffixed with "..." when cut.
// The cut never splits a UTF-8 sequence.
func Preview(data []byte, n int) string {
	if n <= 0 || len(data) <= n {
		return string(data)
	}
	for n > 0 && !utf8.RuneStart(data[n]) {
		n--
	}
	return string(data[:n]) + "..."
}
