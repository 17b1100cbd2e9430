package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/casualjim/strix/internal/registry"
	"github.com/casualjim/strix/pkg/natsx"
	"github.com/casualjim/strix/pkg/slogx"
)

// NATS is a push backend over core NATS subjects. Delivery is at most once: messages published
// while nobody is subscribed are lost.
type NATS struct {
	servers   string
	logger    *slog.Logger
	queueSize int
	options   []nats.Option
	subs      registry.Registry[*nats.Subscription]

	mu   sync.Mutex
	conn *nats.Conn
	msgs chan *nats.Msg
	done chan struct{}
}

// NewNATS creates a backend for the comma separated server urls in servers.
func NewNATS(servers string, queueSize int, logger *slog.Logger, options ...nats.Option) *NATS {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slogx.Named(slog.Default(), "strix.broker.nats")
	}
	done := make(chan struct{})
	close(done)
	return &NATS{
		servers:   servers,
		logger:    logger,
		queueSize: queueSize,
		options:   options,
		subs:      registry.New[*nats.Subscription](),
		msgs:      make(chan *nats.Msg),
		done:      done,
	}
}

func (b *NATS) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}

	conn, err := natsx.Connect(b.servers, natsx.DefaultName, b.options...)
	if err != nil {
		return err
	}
	b.conn = conn
	b.msgs = make(chan *nats.Msg, b.queueSize)
	b.done = make(chan struct{})
	b.logger.InfoContext(ctx, "connected to nats", slog.String("servers", b.servers))
	return nil
}

func (b *NATS) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}

	b.subs.Range(func(channel string, sub *nats.Subscription) bool {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.WarnContext(ctx, "failed to unsubscribe", slogx.Channel(channel), slogx.Error(err))
		}
		return true
	})
	for _, channel := range b.subs.Keys() {
		b.subs.Del(channel)
	}

	b.conn.Close()
	b.conn = nil
	close(b.done)
	return nil
}

func (b *NATS) connection() (*nats.Conn, chan *nats.Msg, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn, b.msgs, b.done
}

func (b *NATS) Subscribe(ctx context.Context, channel string) error {
	conn, msgs, _ := b.connection()
	if conn == nil {
		return ErrDisconnected
	}
	if _, ok := b.subs.Get(channel); ok {
		return nil
	}

	sub, err := conn.ChanSubscribe(channel, msgs)
	if err != nil {
		return fmt.Errorf("nats: subscribe %s: %w", channel, err)
	}
	if _, loaded := b.subs.GetOrAdd(channel, func() *nats.Subscription { return sub }); loaded {
		return sub.Unsubscribe()
	}
	// make sure the server registered interest before anyone publishes
	if err := conn.FlushWithContext(ctx); err != nil {
		b.logger.WarnContext(ctx, "flush after subscribe failed", slogx.Channel(channel), slogx.Error(err))
	}
	return nil
}

func (b *NATS) Unsubscribe(_ context.Context, channel string) error {
	sub, ok := b.subs.Get(channel)
	if !ok {
		return nil
	}
	b.subs.Del(channel)
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats: unsubscribe %s: %w", channel, err)
	}
	return nil
}

func (b *NATS) Publish(_ context.Context, channel string, message []byte) error {
	conn, _, _ := b.connection()
	if conn == nil {
		return ErrDisconnected
	}
	if err := conn.Publish(channel, message); err != nil {
		return fmt.Errorf("nats: publish %s: %w", channel, err)
	}
	return nil
}

func (b *NATS) NextPublished(ctx context.Context) (Event, error) {
	_, msgs, done := b.connection()
	select {
	case msg := <-msgs:
		channel := msg.Subject
		if msg.Sub != nil {
			channel = msg.Sub.Subject
		}
		return Event{Channel: channel, Message: msg.Data, Context: EventContext{}}, nil
	case <-done:
		return Event{}, ErrDisconnected
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
