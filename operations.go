package strix

import (
	"fmt"
	"maps"
	"slices"

	"github.com/casualjim/strix/spec"
)

// OperationKey identifies a handler by channel and operation id.
type OperationKey struct {
	Channel     string
	OperationID string
}

func (k OperationKey) String() string { return k.Channel + "#" + k.OperationID }

// Binding associates a handler function with an operation before the registry is built.
type Binding struct {
	Key     OperationKey
	Handler any
}

func Bind(channel, operationID string, handler any) Binding {
	return Binding{Key: OperationKey{Channel: channel, OperationID: operationID}, Handler: handler}
}

// Operations is the immutable operation registry consulted by the engine. It is built once at
// startup and never changes afterwards.
type Operations struct {
	handlers map[OperationKey]*Handler
}

// NewOperations validates every handler and builds the registry. Binding the same key twice is an error.
func NewOperations(bindings ...Binding) (*Operations, error) {
	ops := &Operations{handlers: make(map[OperationKey]*Handler, len(bindings))}
	for _, b := range bindings {
		if _, dup := ops.handlers[b.Key]; dup {
			return nil, fmt.Errorf("%w: %s bound twice", ErrInvalidHandler, b.Key)
		}
		h, err := NewHandler(b.Handler)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Key, err)
		}
		ops.handlers[b.Key] = h
	}
	return ops, nil
}

// BuildOperations binds handlers, keyed by operation id, to every channel of s whose subscribe
// operation names one. An operation id missing from handlers is an OperationIDNotFoundError.
func BuildOperations(s *spec.Specification, handlers map[string]any) (*Operations, error) {
	var bindings []Binding
	for _, name := range s.ChannelNames() {
		ch, _ := s.Channel(name)
		if ch.Subscribe == nil || ch.Subscribe.OperationID == "" {
			continue
		}
		fn, ok := handlers[ch.Subscribe.OperationID]
		if !ok {
			return nil, &OperationIDNotFoundError{Channel: name, OperationID: ch.Subscribe.OperationID}
		}
		bindings = append(bindings, Bind(name, ch.Subscribe.OperationID, fn))
	}
	return NewOperations(bindings...)
}

func (o *Operations) Lookup(channel, operationID string) (*Handler, bool) {
	if o == nil {
		return nil, false
	}
	h, ok := o.handlers[OperationKey{Channel: channel, OperationID: operationID}]
	return h, ok
}

func (o *Operations) Len() int {
	if o == nil {
		return 0
	}
	return len(o.handlers)
}

// Keys returns the registered keys ordered by channel, then operation id.
func (o *Operations) Keys() []OperationKey {
	if o == nil {
		return nil
	}
	return slices.SortedFunc(maps.Keys(o.handlers), func(a, b OperationKey) int {
		if a.Channel != b.Channel {
			if a.Channel < b.Channel {
				return -1
			}
			return 1
		}
		switch {
		case a.OperationID < b.OperationID:
			return -1
		case a.OperationID > b.OperationID:
			return 1
		}
		return 0
	})
}
