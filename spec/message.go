package spec

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	validator "github.com/kaptinlin/jsonschema"

	"github.com/casualjim/strix/pkg/jsonx"
)

var ErrInvalidPayload = errors.New("payload does not match message schema")

var payloadReflector = jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
	Anonymous:                 true,
}

// Message describes the payload carried on a channel. Payload is the Go type messages are decoded
// into; when it is nil the message is untyped and passed through as decoded JSON.
type Message struct {
	Name        string
	Title       string
	Summary     string
	ContentType string
	Payload     reflect.Type

	once      sync.Once
	schema    *jsonschema.Schema
	validator *validator.Schema
	err       error
}

// NewMessage creates a message whose payload type is T.
func NewMessage[T any](name string) *Message {
	return &Message{
		Name:        name,
		ContentType: DefaultContentType,
		Payload:     reflect.TypeFor[T](),
	}
}

func (m *Message) Typed() bool { return m != nil && m.Payload != nil }

func (m *Message) resolve() {
	m.once.Do(func() {
		if m.Payload == nil {
			return
		}
		schema := payloadReflector.ReflectFromType(m.Payload)
		schema.Version = ""

		data, err := json.Marshal(schema)
		if err != nil {
			m.err = fmt.Errorf("marshal schema for message %q: %w", m.Name, err)
			return
		}
		compiled, err := validator.NewCompiler().Compile(data)
		if err != nil {
			m.err = fmt.Errorf("compile schema for message %q: %w", m.Name, err)
			return
		}
		m.schema = schema
		m.validator = compiled
	})
}

// Schema returns the JSON schema of the payload type, or nil for untyped messages.
// The schema is generated once and must not be modified by callers.
func (m *Message) Schema() (*jsonschema.Schema, error) {
	if !m.Typed() {
		return nil, nil
	}
	m.resolve()
	return m.schema, m.err
}

// Validate checks a decoded JSON document against the payload schema.
func (m *Message) Validate(doc any) error {
	if !m.Typed() {
		return nil
	}
	m.resolve()
	if m.err != nil {
		return m.err
	}

	result := m.validator.Validate(doc)
	if result.IsValid() {
		return nil
	}

	var details []string
	for _, k := range slices.Sorted(maps.Keys(result.Errors)) {
		details = append(details, fmt.Sprintf("%s: %s", k, result.Errors[k].Error()))
	}
	if len(details) == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, m.Name)
	}
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, m.Name, strings.Join(details, "; "))
}

// Construct validates doc, the decoded form of raw, and decodes raw into a value of the payload type.
// Untyped messages return doc unchanged.
func (m *Message) Construct(raw []byte, doc any) (any, error) {
	if !m.Typed() {
		return doc, nil
	}
	if err := m.Validate(doc); err != nil {
		return nil, err
	}

	ptr := reflect.New(m.Payload)
	if err := jsonx.DecodeInto(raw, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, m.Name, err)
	}
	return ptr.Elem().Interface(), nil
}

// Decode is Construct for a raw JSON document.
func (m *Message) Decode(raw []byte) (any, error) {
	doc, err := jsonx.Decode(raw)
	if err != nil {
		return nil, err
	}
	return m.Construct(raw, doc)
}

// Accepts reports whether v has exactly the payload type. Untyped messages accept anything.
func (m *Message) Accepts(v any) bool {
	if !m.Typed() {
		return true
	}
	return reflect.TypeOf(v) == m.Payload
}

func (m *Message) MarshalJSON() ([]byte, error) {
	schema, err := m.Schema()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Name        string             `json:"name,omitempty"`
		Title       string             `json:"title,omitempty"`
		Summary     string             `json:"summary,omitempty"`
		ContentType string             `json:"contentType,omitempty"`
		Payload     *jsonschema.Schema `json:"payload,omitempty"`
	}{
		Name:        m.Name,
		Title:       m.Title,
		Summary:     m.Summary,
		ContentType: m.ContentType,
		Payload:     schema,
	})
}
