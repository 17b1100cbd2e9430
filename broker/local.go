package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/casualjim/strix/internal/registry"
	"github.com/casualjim/strix/pkg/slogx"
)

const defaultQueueSize = 64

// Memory is an in-process push backend. Messages published to a channel nobody subscribed to
// are dropped, the same way a core pub/sub broker behaves.
//
// The inbox grows as needed, so Publish never waits for NextPublished. A handler that publishes to
// a channel it consumes therefore cannot stall behind its own undelivered events.
type Memory struct {
	logger   *slog.Logger
	channels registry.Registry[struct{}]

	mu        sync.Mutex
	inbox     []Event
	ready     chan struct{}
	done      chan struct{}
	connected bool
	queueSize int
}

// NewMemory creates a disconnected memory backend. queueSize is the initial inbox capacity.
func NewMemory(queueSize int, logger *slog.Logger) *Memory {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slogx.Named(slog.Default(), "strix.broker.memory")
	}
	done := make(chan struct{})
	close(done)
	return &Memory{
		logger:    logger,
		channels:  registry.New[struct{}](),
		ready:     make(chan struct{}, 1),
		done:      done,
		queueSize: queueSize,
	}
}

func (m *Memory) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil
	}
	m.inbox = make([]Event, 0, m.queueSize)
	m.done = make(chan struct{})
	m.connected = true
	return nil
}

func (m *Memory) Disconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.connected = false
	m.inbox = nil
	close(m.done)
	for _, ch := range m.channels.Keys() {
		m.channels.Del(ch)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string) error {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if !connected {
		return ErrDisconnected
	}
	m.channels.Add(channel, struct{}{})
	return nil
}

func (m *Memory) Unsubscribe(_ context.Context, channel string) error {
	m.channels.Del(channel)
	return nil
}

func (m *Memory) Publish(ctx context.Context, channel string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, subscribed := m.channels.Get(channel); !subscribed {
		m.mu.Lock()
		connected := m.connected
		m.mu.Unlock()
		if !connected {
			return ErrDisconnected
		}
		m.logger.DebugContext(ctx, "dropping message without subscribers", slogx.Channel(channel))
		return nil
	}

	evt := Event{Channel: channel, Message: append([]byte(nil), message...), Context: EventContext{}}
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrDisconnected
	}
	m.inbox = append(m.inbox, evt)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return nil
}

// pop takes the oldest event from the inbox.
func (m *Memory) pop() (Event, <-chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbox) == 0 {
		return Event{}, m.done, false
	}
	evt := m.inbox[0]
	m.inbox[0] = Event{}
	m.inbox = m.inbox[1:]
	return evt, m.done, true
}

func (m *Memory) NextPublished(ctx context.Context) (Event, error) {
	for {
		evt, done, ok := m.pop()
		if ok {
			return evt, nil
		}
		select {
		case <-m.ready:
		case <-done:
			return Event{}, ErrDisconnected
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
