package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alphadose/haxmap"

	"github.com/casualjim/strix/internal/registry"
	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/pkg/uuidx"
)

// ErrSubscriptionClosed is returned by Subscription.Next after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

const listenerBackoff = 100 * time.Millisecond

// EventsHandler owns one backend and multicasts the events it yields to every subscriber of the
// event's channel. Each subscriber gets its own queue; a full queue blocks the listener, which
// applies backpressure to the backend instead of dropping events.
type EventsHandler struct {
	backend   Backend
	logger    *slog.Logger
	queueSize int

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	stopped   chan struct{}
	channels  registry.Registry[*haxmap.Map[string, *Subscription]]
}

// NewEventsHandler selects the backend for rawURL by scheme.
func NewEventsHandler(rawURL string, options ...Option) (*EventsHandler, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	c, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(u, c)
	if err != nil {
		return nil, err
	}
	return newEventsHandler(backend, c), nil
}

// NewEventsHandlerWithBackend wraps an already constructed backend.
func NewEventsHandlerWithBackend(backend Backend, options ...Option) (*EventsHandler, error) {
	c, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	return newEventsHandler(backend, c), nil
}

func newEventsHandler(backend Backend, c config) *EventsHandler {
	return &EventsHandler{
		backend:   backend,
		logger:    slogx.Named(c.logger, "strix.broker.events"),
		queueSize: c.queueSize,
		channels:  registry.New[*haxmap.Map[string, *Subscription]](),
	}
}

func (h *EventsHandler) Backend() Backend { return h.backend }

// Connect connects the backend and starts the listener that fans events out.
func (h *EventsHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connected {
		return nil
	}

	if err := h.backend.Connect(ctx); err != nil {
		return err
	}

	lctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.stopped = make(chan struct{})
	h.connected = true
	go h.listen(lctx, h.stopped)
	return nil
}

// Disconnect disconnects the backend and waits for the listener to close every subscriber queue.
func (h *EventsHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	if !h.connected {
		h.mu.Unlock()
		return nil
	}
	cancel, stopped := h.cancel, h.stopped
	h.mu.Unlock()

	err := h.backend.Disconnect(ctx)
	cancel()

	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (h *EventsHandler) Publish(ctx context.Context, channel string, message []byte) error {
	return h.backend.Publish(ctx, channel, message)
}

// Subscribe registers a new subscriber queue for channel. The backend subscription is opened with
// the first subscriber of a channel and closed with the last.
func (h *EventsHandler) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return nil, ErrDisconnected
	}

	subs, loaded := h.channels.GetOrAdd(channel, func() *haxmap.Map[string, *Subscription] {
		return haxmap.New[string, *Subscription]()
	})
	if !loaded {
		if err := h.backend.Subscribe(ctx, channel); err != nil {
			h.channels.Del(channel)
			return nil, err
		}
	}

	sub := &Subscription{
		id:      uuidx.Prefixed("sub"),
		channel: channel,
		handler: h,
		queue:   make(chan Event, h.queueSize),
		done:    make(chan struct{}),
	}
	subs.Set(sub.id, sub)
	h.logger.DebugContext(ctx, "subscribed", slogx.Channel(channel), slog.String("subscription", sub.id))
	return sub, nil
}

func (h *EventsHandler) remove(ctx context.Context, sub *Subscription) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels.Get(sub.channel)
	if !ok {
		return nil
	}
	subs.Del(sub.id)
	if subs.Len() > 0 {
		return nil
	}
	h.channels.Del(sub.channel)
	if !h.connected {
		return nil
	}
	return h.backend.Unsubscribe(ctx, sub.channel)
}

func (h *EventsHandler) listen(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	defer h.closeAll()

	for {
		evt, err := h.backend.NextPublished(ctx)
		if err != nil {
			if errors.Is(err, ErrDisconnected) || ctx.Err() != nil {
				h.logger.Debug("listener stopped", slogx.Error(err))
				return
			}
			h.logger.Error("failed to read next event", slogx.Error(err))
			select {
			case <-time.After(listenerBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		subs, ok := h.channels.Get(evt.Channel)
		if !ok {
			h.logger.Debug("dropping event without subscribers", slogx.Channel(evt.Channel))
			continue
		}
		subs.ForEach(func(_ string, sub *Subscription) bool {
			select {
			case sub.queue <- evt:
				return true
			case <-sub.done:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}
}

// closeAll ends the stream of every subscriber. It runs on the listener goroutine, the only
// writer of subscriber queues.
func (h *EventsHandler) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connected = false
	for _, channel := range h.channels.Keys() {
		if subs, ok := h.channels.Get(channel); ok {
			subs.ForEach(func(_ string, sub *Subscription) bool {
				close(sub.queue)
				return true
			})
		}
		h.channels.Del(channel)
	}
}

// Subscription is one subscriber's queue of events for a channel.
type Subscription struct {
	id      string
	channel string
	handler *EventsHandler
	queue   chan Event
	done    chan struct{}
	once    sync.Once
}

func (s *Subscription) ID() string      { return s.id }
func (s *Subscription) Channel() string { return s.channel }

// Next blocks for the next event. Events still queued when the handler disconnects are delivered
// before ErrDisconnected.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case evt, ok := <-s.queue:
		if !ok {
			return Event{}, ErrDisconnected
		}
		return evt, nil
	case <-s.done:
		return Event{}, ErrSubscriptionClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close removes the subscriber. It is safe to call more than once.
func (s *Subscription) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.handler.remove(ctx, s)
	})
	return err
}
