/*
Package strix dispatches broker messages to application handlers as declared by an event-driven
API specification.

A specification (package spec) declares channels. A channel has a publish side, describing what the
application sends, and a subscribe side, naming the operation that consumes it. Operations are bound
to plain Go functions in an immutable registry that is built once at startup:

	s := spec.New(spec.Info{Title: "accounts", Version: "1.0.0"})
	if _, err := spec.Subscribe[UserSignedUp](s, "user/signedup", "onUserSignedUp"); err != nil {
		return err
	}

	ops, err := strix.BuildOperations(s, map[string]any{
		"onUserSignedUp": func(ctx context.Context, user UserSignedUp) error {
			...
		},
	})

The engine publishes typed payloads and runs one listen loop per subscribed channel on top of a
broker.EventsHandler:

	events, err := broker.NewEventsHandler("nats://localhost:4222")
	...
	engine, err := strix.New(s, ops, events, strix.WithRepublishErrors(true))
	...
	go engine.ListenAll(ctx)
	err = engine.Publish(ctx, "user/signedup", UserSignedUp{Name: "Ada"})

# Handlers

Handler parameters are injected by type. context.Context, broker.AckFunc, broker.EventContext and
broker.Event receive the current invocation; the one remaining parameter, if any, receives the
payload. Handlers may return nothing, an error, a value, or a value and an error. A returned Awaitable
or func(context.Context) (any, error) is awaited until a concrete value remains, so handlers can
chain asynchronous steps with Go and Then.

Messages that cannot be decoded or validated are logged and dropped. A failed handler is logged and,
with WithRepublishErrors, its message is published again on the same channel or on the channel set
with WithErrorChannel.
*/
package strix
