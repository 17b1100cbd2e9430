package strix

import (
	"context"
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"

	"github.com/casualjim/strix/broker"
	"github.com/casualjim/strix/pkg/jsonx"
	"github.com/casualjim/strix/pkg/reflectx"
)

type paramKind int

const (
	paramPayload paramKind = iota
	paramContext
	paramAck
	paramEventContext
	paramEvent
)

var rawMessageType = reflect.TypeFor[json.RawMessage]()

// Handler is an operation handler prepared for reflective invocation.
//
// Parameters are injected by type: context.Context, broker.AckFunc, broker.EventContext and
// broker.Event receive the invocation context and event; at most one other parameter receives the
// message payload. A handler returns nothing, a value, an error, or a value and an error. Values
// that are Awaitable, or functions of the form func() (any, error) or
// func(context.Context) (any, error), are resolved until a concrete value remains.
type Handler struct {
	name     string
	fn       reflect.Value
	params   []paramKind
	types    []reflect.Type
	hasError bool
	hasValue bool
	deferred bool
}

// NewHandler validates the signature of fn.
func NewHandler(fn any) (*Handler, error) {
	if !reflectx.IsFunction(fn) {
		return nil, fmt.Errorf("%w: %T is not a function", ErrInvalidHandler, fn)
	}

	name := reflectx.FunctionName(fn)
	val := reflect.ValueOf(fn)
	typ := val.Type()
	if typ.IsVariadic() {
		return nil, fmt.Errorf("%w: %s is variadic", ErrInvalidHandler, name)
	}

	h := &Handler{name: name, fn: val}
	payloadSeen := false
	for _, pt := range reflectx.Params(typ) {
		kind := paramPayload
		switch {
		case reflectx.IsRefinedType[context.Context](pt):
			kind = paramContext
		case reflectx.IsRefinedType[broker.AckFunc](pt):
			kind = paramAck
		case reflectx.IsRefinedType[broker.EventContext](pt):
			kind = paramEventContext
		case reflectx.IsRefinedType[broker.Event](pt):
			kind = paramEvent
		default:
			if payloadSeen {
				return nil, fmt.Errorf("%w: %s declares more than one payload parameter", ErrInvalidHandler, name)
			}
			payloadSeen = true
		}
		h.params = append(h.params, kind)
		h.types = append(h.types, pt)
	}

	switch typ.NumOut() {
	case 0:
	case 1:
		h.hasError = reflectx.LastResultIsError(typ)
		h.hasValue = !h.hasError
	case 2:
		if !reflectx.LastResultIsError(typ) {
			return nil, fmt.Errorf("%w: second result of %s must be an error", ErrInvalidHandler, name)
		}
		h.hasError, h.hasValue = true, true
	default:
		return nil, fmt.Errorf("%w: %s returns more than two values", ErrInvalidHandler, name)
	}
	if h.hasValue {
		switch typ.Out(0).Kind() {
		case reflect.Interface, reflect.Func:
			h.deferred = true
		default:
			h.deferred = reflectx.ResultImplements[Awaitable](typ)
		}
	}
	return h, nil
}

func (h *Handler) Name() string { return h.name }

// Deferred reports whether the handler result may need awaiting. Results of concrete,
// non-awaitable types are returned as is.
func (h *Handler) Deferred() bool { return h.deferred }

// invocation is everything a handler can ask for.
type invocation struct {
	event   broker.Event
	payload any
}

// arguments builds the call arguments. A payload that cannot be shaped into the declared
// parameter type yields an error wrapping ErrInvalidMessage.
func (h *Handler) arguments(ctx context.Context, inv invocation) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(h.params))
	for i, kind := range h.params {
		pt := h.types[i]
		switch kind {
		case paramContext:
			args[i] = reflect.ValueOf(&ctx).Elem()
		case paramAck:
			ack, ok := inv.event.Context.AckFunc()
			if !ok {
				ack = func(context.Context) {}
			}
			args[i] = reflect.ValueOf(ack)
		case paramEventContext:
			args[i] = reflect.ValueOf(inv.event.Context)
		case paramEvent:
			args[i] = reflect.ValueOf(inv.event)
		default:
			v, err := payloadArgument(pt, inv)
			if err != nil {
				return nil, &InvalidMessageError{Channel: inv.event.Channel, Value: inv.payload, Expected: pt, Err: err}
			}
			args[i] = v
		}
	}
	return args, nil
}

func payloadArgument(pt reflect.Type, inv invocation) (reflect.Value, error) {
	if pt == reflect.TypeFor[[]byte]() || pt == rawMessageType {
		return reflect.ValueOf(inv.event.Message).Convert(pt), nil
	}
	if inv.payload == nil {
		return reflect.Zero(pt), nil
	}

	pv := reflect.ValueOf(inv.payload)
	if pv.Type().AssignableTo(pt) {
		return pv, nil
	}
	if pt.Kind() == reflect.Pointer && pv.Type().AssignableTo(pt.Elem()) {
		ptr := reflect.New(pt.Elem())
		ptr.Elem().Set(pv)
		return ptr, nil
	}

	ptr := reflect.New(pt)
	if err := jsonx.DecodeInto(inv.event.Message, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

// call invokes the handler and resolves its result. Panics become errors.
func (h *Handler) call(ctx context.Context, args []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("handler %s: %w", h.name, panicError(r))
		}
	}()

	out := h.fn.Call(args)
	if h.hasError {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
	}
	if !h.hasValue {
		return nil, nil
	}
	if !h.deferred {
		return out[0].Interface(), nil
	}
	return resolve(ctx, out[0].Interface())
}

// resolve awaits v until it is no longer a deferred computation.
func resolve(ctx context.Context, v any) (any, error) {
	for {
		var err error
		switch d := v.(type) {
		case Awaitable:
			v, err = d.Await(ctx)
		case func(context.Context) (any, error):
			v, err = d(ctx)
		case func() (any, error):
			v, err = d()
		default:
			return v, nil
		}
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

type panicErr struct {
	value any
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return &panicErr{value: r}
}
