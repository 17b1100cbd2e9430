package strix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/casualjim/strix/broker"
	"github.com/casualjim/strix/pkg/jsonx"
	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/spec"
)

const (
	operationSubscribe = "subscribe"
	previewSize        = 100
)

// Engine routes messages between application handlers and a broker, as declared by a specification.
type Engine struct {
	spec    *spec.Specification
	ops     *Operations
	events  *broker.EventsHandler
	options engineOptions
	logger  *slog.Logger
}

// New creates an engine. The events handler is owned by the caller, who connects and
// disconnects it; listen loops end when it disconnects.
func New(s *spec.Specification, ops *Operations, events *broker.EventsHandler, options ...Option) (*Engine, error) {
	if s == nil {
		return nil, errors.New("strix: specification is required")
	}
	if events == nil {
		return nil, errors.New("strix: events handler is required")
	}

	var o engineOptions
	if err := opts.Apply(&o, options); err != nil {
		return nil, err
	}
	if o.operationTimeout < 0 {
		return nil, fmt.Errorf("strix: negative operation timeout %s", o.operationTimeout)
	}
	for from, to := range o.errorChannels {
		if _, ok := s.Channel(to); !ok {
			return nil, fmt.Errorf("error channel for %s: %w", from, &InvalidChannelError{Channel: to})
		}
	}

	return &Engine{
		spec:    s,
		ops:     ops,
		events:  events,
		options: o,
		logger:  slogx.Named(o.logger, "strix.engine"),
	}, nil
}

func (e *Engine) Spec() *spec.Specification     { return e.spec }
func (e *Engine) Events() *broker.EventsHandler { return e.events }

// Publish sends message on channel. When the channel declares a payload type the message must
// have exactly that type and is JSON encoded; otherwise it is passed through as wire bytes.
func (e *Engine) Publish(ctx context.Context, channel string, message any) error {
	ch, ok := e.spec.Channel(channel)
	if !ok {
		return &InvalidChannelError{Channel: channel}
	}

	data, err := encodeMessage(channel, publishMessage(ch), message)
	if err != nil {
		return err
	}
	return e.events.Publish(ctx, channel, data)
}

// publishMessage is the message of the publish operation, or of the subscribe operation for
// channels that only declare that side.
func publishMessage(ch *spec.Channel) *spec.Message {
	if ch.Publish != nil && ch.Publish.Message != nil {
		return ch.Publish.Message
	}
	if ch.Subscribe != nil {
		return ch.Subscribe.Message
	}
	return nil
}

func encodeMessage(channel string, msg *spec.Message, message any) ([]byte, error) {
	if !msg.Typed() {
		return jsonx.Encode(message)
	}
	if !msg.Accepts(message) {
		return nil, &InvalidMessageError{Channel: channel, Value: message, Expected: msg.Payload}
	}
	data, err := json.Marshal(message)
	if err != nil {
		return nil, &InvalidMessageError{Channel: channel, Value: message, Expected: msg.Payload, Err: err}
	}
	return data, nil
}

// listener is a validated subscribe operation, ready to run.
type listener struct {
	channel string
	message *spec.Message
	handler *Handler
}

func (e *Engine) prepare(channel string) (listener, error) {
	ch, ok := e.spec.Channel(channel)
	if !ok {
		return listener{}, &InvalidChannelError{Channel: channel}
	}
	if ch.Subscribe == nil {
		return listener{}, &ChannelOperationNotFoundError{Channel: channel, Operation: operationSubscribe}
	}
	if ch.Subscribe.OperationID == "" {
		return listener{}, &ChannelOperationNotFoundError{Channel: channel, Operation: operationSubscribe, MissingID: true}
	}
	h, ok := e.ops.Lookup(channel, ch.Subscribe.OperationID)
	if !ok {
		return listener{}, &OperationIDNotFoundError{Channel: channel, OperationID: ch.Subscribe.OperationID}
	}
	return listener{channel: channel, message: ch.Subscribe.Message, handler: h}, nil
}

// Listen consumes channel with the handler of its subscribe operation until the events handler
// disconnects, which returns nil, or ctx is done, which returns the context error. Failures of
// single messages are logged and never end the loop.
func (e *Engine) Listen(ctx context.Context, channel string) error {
	l, err := e.prepare(channel)
	if err != nil {
		return err
	}
	return e.listen(ctx, l)
}

func (e *Engine) listen(ctx context.Context, l listener) error {
	sub, err := e.events.Subscribe(ctx, l.channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.channel, err)
	}
	defer func() {
		if err := sub.Close(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("failed to close subscription", slogx.Channel(l.channel), slogx.Error(err))
		}
	}()

	logger := e.logger.With(slogx.Channel(l.channel), slog.String("operation", l.handler.Name()))
	logger.InfoContext(ctx, "listening")
	for {
		evt, err := sub.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, broker.ErrDisconnected), errors.Is(err, broker.ErrSubscriptionClosed):
			logger.InfoContext(ctx, "stopped listening", slogx.Error(err))
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return err
		}
		e.handle(ctx, logger, l, evt)
	}
}

// handle runs one event through decode, construct, invoke and, on handler failure, republish.
func (e *Engine) handle(ctx context.Context, logger *slog.Logger, l listener, evt broker.Event) {
	doc, err := jsonx.Decode(evt.Message)
	if err != nil {
		logger.ErrorContext(ctx, "failed to decode message", slogx.Error(err), slogx.Preview("message", evt.Message, previewSize))
		return
	}

	payload, err := l.message.Construct(evt.Message, doc)
	if err != nil {
		logger.ErrorContext(ctx, "invalid message", slogx.Error(err), slogx.Preview("message", evt.Message, previewSize))
		return
	}
	typed := l.message.Typed()

	args, err := l.handler.arguments(ctx, invocation{event: evt, payload: payload})
	if err != nil {
		logger.ErrorContext(ctx, "invalid message", slogx.Error(err), slogx.Preview("message", evt.Message, previewSize))
		return
	}

	result, err := e.invoke(ctx, l.handler, args)
	switch {
	case err == nil:
		logger.DebugContext(ctx, "handled message", slog.Any("result", result))
		return
	case errors.Is(err, ErrOperationTimeout):
		logger.ErrorContext(ctx, "operation timed out", slogx.Error(err), slog.Duration("timeout", e.options.operationTimeout))
		return
	case ctx.Err() != nil:
		return
	}

	logger.ErrorContext(ctx, "handler failed", slogx.Error(err))
	if !e.options.republishErrors {
		return
	}

	var republished any = json.RawMessage(evt.Message)
	if typed {
		republished = payload
	}
	target := e.options.republishTarget(l.channel)
	if err := e.Publish(ctx, target, republished); err != nil {
		logger.ErrorContext(ctx, "failed to republish message", slog.String("target", target), slogx.Error(err))
		return
	}
	logger.InfoContext(ctx, "republished message", slog.String("target", target))
}

// invoke calls the handler, bounded by the operation timeout when one is configured.
func (e *Engine) invoke(ctx context.Context, h *Handler, args []reflect.Value) (any, error) {
	if e.options.operationTimeout <= 0 {
		return h.call(ctx, args)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.options.operationTimeout)
	defer cancel()
	result, err := Go(callCtx, func(ctx context.Context) (any, error) {
		return h.call(ctx, args)
	}).Get(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s after %s", ErrOperationTimeout, h.Name(), e.options.operationTimeout)
	}
	return result, err
}

// ListenAll runs Listen for every channel with a subscribe operation and waits for all loops to
// end. Every channel is validated before any loop starts. Loop failures, panics included, are
// logged when they happen and returned together.
func (e *Engine) ListenAll(ctx context.Context) error {
	var listeners []listener
	for _, name := range e.spec.ChannelNames() {
		ch, _ := e.spec.Channel(name)
		if ch.Subscribe == nil {
			continue
		}
		l, err := e.prepare(name)
		if err != nil {
			return err
		}
		listeners = append(listeners, l)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		merr *multierror.Error
	)
	for _, l := range listeners {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("listen %s: %w", l.channel, panicError(r))
				}
				if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
					return
				}
				e.logger.Error("listen loop failed", slogx.Channel(l.channel), slogx.Error(err))
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}()
			return e.listen(ctx, l)
		})
	}
	_ = g.Wait()

	if err := merr.ErrorOrNil(); err != nil {
		return err
	}
	return ctx.Err()
}
