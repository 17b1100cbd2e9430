package jsonx

import (
	"strings"
	"testing"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    any
		wantErr bool
	}{
		{name: "object", input: `{"id":"1","age":30}`, want: map[string]any{"id": "1", "age": float64(30)}},
		{name: "array", input: `[1,2]`, want: []any{float64(1), float64(2)}},
		{name: "string", input: `"hello"`, want: "hello"},
		{name: "invalid", input: `{invalid}`, wantErr: true},
		{name: "plain text", input: `hello`, wantErr: true},
		{name: "empty", input: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode(t *testing.T) {
	type user struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	tests := []struct {
		name  string
		input any
		want  string
	}{
		{name: "bytes pass through", input: []byte("raw"), want: "raw"},
		{name: "string pass through", input: "text", want: "text"},
		{name: "raw message", input: json.RawMessage(`{"a":1}`), want: `{"a":1}`},
		{name: "nil", input: nil, want: "null"},
		{name: "struct", input: user{ID: "1", Name: "alice"}, want: `{"id":"1","name":"alice"}`},
		{name: "map", input: map[string]int{"n": 1}, want: `{"n":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	t.Run("not serializable", func(t *testing.T) {
		_, err := Encode(make(chan int))
		assert.Error(t, err)
	})
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abc", Preview([]byte("abc"), 5))
	assert.Equal(t, "ab...", Preview([]byte("abcdef"), 2))

	t.Run("keeps multi-byte runes whole", func(t *testing.T) {
		// "é" and "€" are 2 and 3 bytes long.
		assert.Equal(t, "a...", Preview([]byte("aé!"), 2))
		assert.Equal(t, "é...", Preview([]byte("é€"), 4))
		assert.Equal(t, "...", Preview([]byte("€€"), 2))
		assert.True(t, utf8.ValidString(Preview([]byte(strings.Repeat("日本語", 40)), 100)))
	})
}
