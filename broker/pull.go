package broker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casualjim/strix/internal/registry"
	"github.com/casualjim/strix/pkg/jsonx"
	"github.com/casualjim/strix/pkg/slogx"
)

// PullClient is a broker whose native client only offers blocking, synchronous calls.
// PullBackend runs every one of these calls on its worker pool.
type PullClient interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	// Consumer opens the pull handle for a channel.
	Consumer(ctx context.Context, channel string) (Consumer, error)
	// Producer opens the publish handle for a channel.
	Producer(ctx context.Context, channel string) (Producer, error)
}

type Consumer interface {
	// Pull fetches at most one message without waiting for one to arrive.
	// It returns a nil message when the channel is empty.
	Pull(ctx context.Context) (PulledMessage, error)
}

type Producer interface {
	Publish(ctx context.Context, data []byte) error
}

type PulledMessage interface {
	Data() []byte
	Ack(ctx context.Context) error
}

// PullBackend adapts a PullClient to the Backend contract.
//
// NextPublished polls the subscribed channels round-robin, one message per pull, starting from a
// random channel after every Connect. Polling is serialized: the rotating index belongs to whichever
// call of NextPublished currently holds the poll lock.
type PullBackend struct {
	client PullClient
	config PullConfig
	logger *slog.Logger

	pool      *workerPool
	consumers registry.Registry[Consumer]
	producers registry.Registry[Producer]

	pollMu sync.Mutex
	index  int
	reseed atomic.Bool

	lifecycle    sync.Mutex
	connected    atomic.Bool
	disconnected chan struct{}
}

func NewPullBackend(client PullClient, config PullConfig, logger *slog.Logger) *PullBackend {
	config.normalize()
	if logger == nil {
		logger = slogx.Named(slog.Default(), "strix.broker.pull")
	}
	closed := make(chan struct{})
	close(closed)
	return &PullBackend{
		client:       client,
		config:       config,
		logger:       logger,
		pool:         newWorkerPool(config.MaxWorkers, logger),
		consumers:    registry.New[Consumer](),
		producers:    registry.New[Producer](),
		disconnected: closed,
	}
}

func (b *PullBackend) Config() PullConfig { return b.config }

func (b *PullBackend) Connect(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.connected.Load() {
		return nil
	}

	if err := b.client.Connect(ctx); err != nil {
		return err
	}
	b.pool.open()
	b.disconnected = make(chan struct{})
	b.reseed.Store(true)
	b.connected.Store(true)
	return nil
}

func (b *PullBackend) Disconnect(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if !b.connected.Load() {
		return nil
	}

	b.connected.Store(false)
	close(b.disconnected)

	for _, channel := range b.consumers.Keys() {
		b.consumers.Del(channel)
	}
	for _, channel := range b.producers.Keys() {
		b.producers.Del(channel)
	}

	wctx, cancel := context.WithTimeout(ctx, max(b.config.PublishTimeout, b.config.AckTimeout, b.config.PullTimeout))
	defer cancel()
	if err := b.pool.wait(wctx); err != nil {
		b.logger.WarnContext(ctx, "pull workers still busy at disconnect", slogx.Error(err))
	}
	return b.client.Close(ctx)
}

func (b *PullBackend) done() <-chan struct{} {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	return b.disconnected
}

func (b *PullBackend) Subscribe(ctx context.Context, channel string) error {
	if !b.connected.Load() {
		return ErrDisconnected
	}
	if _, ok := b.consumers.Get(channel); ok {
		return nil
	}

	consumer, err := call(ctx, b.pool, b.config.PullTimeout, func(ctx context.Context) (Consumer, error) {
		return b.client.Consumer(ctx, channel)
	})
	if err != nil {
		return err
	}
	b.consumers.GetOrAdd(channel, func() Consumer { return consumer })
	b.logger.DebugContext(ctx, "subscribed", slogx.Channel(channel))
	return nil
}

func (b *PullBackend) Unsubscribe(ctx context.Context, channel string) error {
	b.consumers.Del(channel)
	b.logger.DebugContext(ctx, "unsubscribed", slogx.Channel(channel))
	return nil
}

// NextPublished blocks until a message is pulled from one of the subscribed channels.
func (b *PullBackend) NextPublished(ctx context.Context) (Event, error) {
	done := b.done()

	b.pollMu.Lock()
	defer b.pollMu.Unlock()

	for b.connected.Load() {
		channels := b.consumers.Keys()
		if len(channels) == 0 {
			if err := b.sleep(ctx, done, b.config.WaitTime); err != nil {
				return Event{}, err
			}
			continue
		}

		if b.reseed.Swap(false) {
			b.index = rand.IntN(len(channels))
		}
		idx := b.index % len(channels)
		channel := channels[idx]
		b.index = (idx + 1) % len(channels)

		consumer, ok := b.consumers.Get(channel)
		if !ok {
			continue
		}

		msg, err := b.pull(ctx, channel, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			b.logger.ErrorContext(ctx, "pull failed", slogx.Channel(channel), slogx.Error(err))
		}
		if msg == nil {
			if err := b.sleep(ctx, done, b.config.WaitTime); err != nil {
				return Event{}, err
			}
			continue
		}

		if b.config.SettleTime > 0 {
			if err := b.sleep(ctx, done, b.config.SettleTime); err != nil {
				return Event{}, err
			}
		}
		return b.event(ctx, channel, msg), nil
	}
	return Event{}, ErrDisconnected
}

func (b *PullBackend) pull(ctx context.Context, channel string, consumer Consumer) (PulledMessage, error) {
	for attempt := 1; attempt <= b.config.PullRetries; attempt++ {
		msg, err := call(ctx, b.pool, b.config.PullTimeout, consumer.Pull)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, ErrCallTimeout) {
			return nil, err
		}
		b.logger.DebugContext(ctx, "pull timed out", slogx.Channel(channel), slog.Int("attempt", attempt))
	}
	return nil, nil
}

func (b *PullBackend) event(ctx context.Context, channel string, msg PulledMessage) Event {
	evt := Event{
		Channel: channel,
		Message: msg.Data(),
		Context: EventContext{},
	}
	if b.config.AckMessages {
		b.waitAck(ctx, channel, msg)
		return evt
	}

	var once sync.Once
	evt.Context[AckFuncKey] = AckFunc(func(ctx context.Context) {
		once.Do(func() { b.waitAck(ctx, channel, msg) })
	})
	return evt
}

// waitAck acknowledges msg, retrying on timeouts. Giving up is logged, never returned: the broker
// redelivers unacknowledged messages.
func (b *PullBackend) waitAck(ctx context.Context, channel string, msg PulledMessage) {
	var err error
	for attempt := 1; attempt <= b.config.AckRetries; attempt++ {
		_, err = call(ctx, b.pool, b.config.AckTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, msg.Ack(ctx)
		})
		if err == nil {
			return
		}
		if ctx.Err() != nil || errors.Is(err, ErrDisconnected) {
			break
		}
		b.logger.WarnContext(ctx, "ack failed", slogx.Channel(channel), slog.Int("attempt", attempt), slogx.Error(err))
	}
	b.logger.ErrorContext(ctx, "giving up on ack", slogx.Channel(channel), slogx.Error(err))
}

func (b *PullBackend) Publish(ctx context.Context, channel string, message []byte) error {
	if !b.connected.Load() {
		return ErrDisconnected
	}

	producer, err := b.producer(ctx, channel)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= b.config.PublishRetries; attempt++ {
		_, err := call(ctx, b.pool, b.config.PublishTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, producer.Publish(ctx, message)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrCallTimeout) {
			return err
		}
		b.logger.WarnContext(ctx, "publish timed out", slogx.Channel(channel), slog.Int("attempt", attempt))
	}

	return &PublishTimeoutError{
		Channel:  channel,
		Preview:  jsonx.Preview(message, 100),
		Attempts: b.config.PublishRetries,
	}
}

func (b *PullBackend) producer(ctx context.Context, channel string) (Producer, error) {
	if p, ok := b.producers.Get(channel); ok {
		return p, nil
	}
	p, err := call(ctx, b.pool, b.config.PublishTimeout, func(ctx context.Context) (Producer, error) {
		return b.client.Producer(ctx, channel)
	})
	if err != nil {
		return nil, err
	}
	p, _ = b.producers.GetOrAdd(channel, func() Producer { return p })
	return p, nil
}

func (b *PullBackend) sleep(ctx context.Context, done <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}
