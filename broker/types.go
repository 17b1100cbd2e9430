package broker

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDisconnected is returned by blocking reads once the backend has been disconnected and no
	// further events will arrive.
	ErrDisconnected      = errors.New("consumer disconnected")
	ErrPublishTimeout    = errors.New("publish timed out")
	ErrUnsupportedScheme = errors.New("unsupported broker scheme")
	ErrCallTimeout       = errors.New("broker call timed out")
)

// AckFuncKey is the event context key holding the AckFunc of a deferred acknowledgment.
const AckFuncKey = "ack_func"

// AckFunc acknowledges a delivered message. Failures are logged by the backend, never returned.
type AckFunc func(ctx context.Context)

type EventContext map[string]any

// AckFunc returns the acknowledgment callable, present only when acknowledgment is deferred.
func (c EventContext) AckFunc() (AckFunc, bool) {
	fn, ok := c[AckFuncKey].(AckFunc)
	return fn, ok
}

// Event is one message delivered on a channel.
type Event struct {
	Channel string
	Message []byte
	Context EventContext
}

// Ack acknowledges the event when acknowledgment was deferred to the consumer. It is a no-op otherwise.
func (e Event) Ack(ctx context.Context) {
	if fn, ok := e.Context.AckFunc(); ok {
		fn(ctx)
	}
}

// Backend is the contract every broker implementation satisfies.
//
// NextPublished blocks until an event is available on any subscribed channel. After Disconnect it
// returns ErrDisconnected instead of blocking. It never returns an empty event without an error.
type Backend interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	Publish(ctx context.Context, channel string, message []byte) error
	NextPublished(ctx context.Context) (Event, error)
}

// PublishTimeoutError is returned when every publish attempt on a channel timed out.
type PublishTimeoutError struct {
	Channel  string
	Preview  string
	Attempts int
}

func (e *PublishTimeoutError) Error() string {
	return fmt.Sprintf("%s after %d attempts: channel=%s; message=%s", ErrPublishTimeout, e.Attempts, e.Channel, e.Preview)
}

func (e *PublishTimeoutError) Is(target error) bool {
	return target == ErrPublishTimeout
}
