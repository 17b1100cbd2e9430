package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	data  []byte
	acks  atomic.Int32
	ackFn func(ctx context.Context) error
}

func (m *fakeMessage) Data() []byte { return m.data }

func (m *fakeMessage) Ack(ctx context.Context) error {
	m.acks.Add(1)
	if m.ackFn != nil {
		return m.ackFn(ctx)
	}
	return nil
}

type fakeClient struct {
	mu        sync.Mutex
	queues    map[string][]*fakeMessage
	delivered []*fakeMessage
	pullFn    func(ctx context.Context, channel string) error

	producer      Producer
	producerCalls atomic.Int32
	closed        atomic.Bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{queues: map[string][]*fakeMessage{}}
}

func (c *fakeClient) push(channel string, payloads ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range payloads {
		c.queues[channel] = append(c.queues[channel], &fakeMessage{data: []byte(p)})
	}
}

func (c *fakeClient) Connect(context.Context) error { return nil }

func (c *fakeClient) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

func (c *fakeClient) Consumer(_ context.Context, channel string) (Consumer, error) {
	return &fakeConsumer{client: c, channel: channel}, nil
}

func (c *fakeClient) Producer(_ context.Context, channel string) (Producer, error) {
	c.producerCalls.Add(1)
	if c.producer != nil {
		return c.producer, nil
	}
	return &fakeProducer{client: c, channel: channel}, nil
}

type fakeConsumer struct {
	client  *fakeClient
	channel string
}

func (f *fakeConsumer) Pull(ctx context.Context) (PulledMessage, error) {
	if f.client.pullFn != nil {
		if err := f.client.pullFn(ctx, f.channel); err != nil {
			return nil, err
		}
	}

	f.client.mu.Lock()
	defer f.client.mu.Unlock()
	q := f.client.queues[f.channel]
	if len(q) == 0 {
		return nil, nil
	}
	msg := q[0]
	f.client.queues[f.channel] = q[1:]
	f.client.delivered = append(f.client.delivered, msg)
	return msg, nil
}

type fakeProducer struct {
	client  *fakeClient
	channel string
}

func (f *fakeProducer) Publish(_ context.Context, data []byte) error {
	f.client.push(f.channel, string(data))
	return nil
}

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Publish(ctx context.Context, data []byte) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

func testPullConfig() PullConfig {
	return PullConfig{
		WaitTime:       5 * time.Millisecond,
		AckTimeout:     100 * time.Millisecond,
		AckRetries:     3,
		MaxWorkers:     16,
		PullTimeout:    100 * time.Millisecond,
		PullRetries:    2,
		PublishTimeout: 50 * time.Millisecond,
		PublishRetries: 3,
	}
}

func connectedPullBackend(t *testing.T, client PullClient, cfg PullConfig, channels ...string) *PullBackend {
	t.Helper()
	b := NewPullBackend(client, cfg, slog.Default())
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })
	for _, ch := range channels {
		require.NoError(t, b.Subscribe(context.Background(), ch))
	}
	return b
}

func nextWithin(t *testing.T, b Backend, d time.Duration) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	evt, err := b.NextPublished(ctx)
	require.NoError(t, err)
	return evt
}

func TestPullBackend_RoundRobin(t *testing.T) {
	t.Run("one event per channel with none repeated", func(t *testing.T) {
		client := newFakeClient()
		channels := []string{"a", "b", "c", "d"}
		for _, ch := range channels {
			client.push(ch, fmt.Sprintf(`{"from":%q}`, ch))
		}
		b := connectedPullBackend(t, client, testPullConfig(), channels...)

		seen := map[string]int{}
		for range channels {
			evt := nextWithin(t, b, 2*time.Second)
			seen[evt.Channel]++
			assert.JSONEq(t, fmt.Sprintf(`{"from":%q}`, evt.Channel), string(evt.Message))
		}
		assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, seen)
	})

	t.Run("rotates while every channel has backlog", func(t *testing.T) {
		client := newFakeClient()
		channels := []string{"x", "y", "z"}
		for _, ch := range channels {
			client.push(ch, "1", "2", "3")
		}
		b := connectedPullBackend(t, client, testPullConfig(), channels...)

		var order []string
		for range 9 {
			order = append(order, nextWithin(t, b, 2*time.Second).Channel)
		}
		for i := 3; i < len(order); i++ {
			assert.Equal(t, order[i-3], order[i], "round %d breaks the rotation: %v", i/3, order)
		}
		assert.ElementsMatch(t, channels, order[:3])
	})

	t.Run("skips empty channels", func(t *testing.T) {
		client := newFakeClient()
		client.push("busy", "1", "2")
		b := connectedPullBackend(t, client, testPullConfig(), "idle-1", "busy", "idle-2")

		for range 2 {
			assert.Equal(t, "busy", nextWithin(t, b, 2*time.Second).Channel)
		}
	})

	t.Run("unsubscribed channels are no longer polled", func(t *testing.T) {
		client := newFakeClient()
		client.push("keep", "1")
		client.push("drop", "1")
		b := connectedPullBackend(t, client, testPullConfig(), "keep", "drop")
		require.NoError(t, b.Unsubscribe(context.Background(), "drop"))

		assert.Equal(t, "keep", nextWithin(t, b, 2*time.Second).Channel)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := b.NextPublished(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestPullBackend_Ack(t *testing.T) {
	t.Run("eager ack acknowledges before delivery", func(t *testing.T) {
		client := newFakeClient()
		client.push("orders", `{}`, `{}`)
		cfg := testPullConfig()
		cfg.AckMessages = true
		b := connectedPullBackend(t, client, cfg, "orders")

		for range 2 {
			evt := nextWithin(t, b, 2*time.Second)
			_, ok := evt.Context[AckFuncKey]
			assert.False(t, ok)
		}
		for _, msg := range client.delivered {
			assert.EqualValues(t, 1, msg.acks.Load())
		}
	})

	t.Run("deferred ack attaches an ack func", func(t *testing.T) {
		client := newFakeClient()
		client.push("orders", `{}`, `{}`)
		b := connectedPullBackend(t, client, testPullConfig(), "orders")

		for range 2 {
			evt := nextWithin(t, b, 2*time.Second)
			ack, ok := evt.Context.AckFunc()
			require.True(t, ok)
			require.NotNil(t, ack)
		}
		for _, msg := range client.delivered {
			assert.Zero(t, msg.acks.Load())
		}
	})

	t.Run("ack func acknowledges once", func(t *testing.T) {
		client := newFakeClient()
		client.push("orders", `{}`)
		b := connectedPullBackend(t, client, testPullConfig(), "orders")

		evt := nextWithin(t, b, 2*time.Second)
		evt.Ack(context.Background())
		evt.Ack(context.Background())
		require.Len(t, client.delivered, 1)
		assert.EqualValues(t, 1, client.delivered[0].acks.Load())
	})

	t.Run("gives up after the configured ack retries", func(t *testing.T) {
		client := newFakeClient()
		client.push("orders", `{}`)
		cfg := testPullConfig()
		cfg.AckTimeout = 20 * time.Millisecond
		cfg.AckRetries = 2
		b := connectedPullBackend(t, client, cfg, "orders")

		evt := nextWithin(t, b, 2*time.Second)
		require.Len(t, client.delivered, 1)
		client.delivered[0].ackFn = func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}

		evt.Ack(context.Background())
		assert.Eventually(t, func() bool {
			return client.delivered[0].acks.Load() == 2
		}, time.Second, 10*time.Millisecond)
	})
}

func TestPullBackend_PullTimeouts(t *testing.T) {
	client := newFakeClient()
	client.push("slow", "never")
	client.push("fast", "1")

	var slowPulls atomic.Int32
	client.pullFn = func(ctx context.Context, channel string) error {
		if channel != "slow" {
			return nil
		}
		slowPulls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}

	cfg := testPullConfig()
	cfg.PullTimeout = 20 * time.Millisecond
	b := connectedPullBackend(t, client, cfg, "slow", "fast")

	assert.Equal(t, "fast", nextWithin(t, b, 2*time.Second).Channel)
	assert.LessOrEqual(t, slowPulls.Load(), int32(cfg.PullRetries))
}

func TestPullBackend_Publish(t *testing.T) {
	t.Run("caches producers", func(t *testing.T) {
		client := newFakeClient()
		b := connectedPullBackend(t, client, testPullConfig(), "events")

		require.NoError(t, b.Publish(context.Background(), "events", []byte(`{"n":1}`)))
		require.NoError(t, b.Publish(context.Background(), "events", []byte(`{"n":2}`)))
		assert.EqualValues(t, 1, client.producerCalls.Load())

		assert.Equal(t, `{"n":1}`, string(nextWithin(t, b, 2*time.Second).Message))
		assert.Equal(t, `{"n":2}`, string(nextWithin(t, b, 2*time.Second).Message))
	})

	t.Run("succeeds on the last attempt", func(t *testing.T) {
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })

		producer := new(mockProducer)
		payload := []byte(`{"retry":true}`)
		producer.On("Publish", mock.Anything, payload).Run(func(mock.Arguments) { <-release }).Return(nil).Times(2)
		producer.On("Publish", mock.Anything, payload).Return(nil).Once()

		client := newFakeClient()
		client.producer = producer
		b := connectedPullBackend(t, client, testPullConfig())

		require.NoError(t, b.Publish(context.Background(), "events", payload))
		producer.AssertNumberOfCalls(t, "Publish", 3)
	})

	t.Run("raises after exactly publish_retries attempts", func(t *testing.T) {
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })

		producer := new(mockProducer)
		payload := []byte(`{"retry":"forever"}`)
		var attempts atomic.Int32
		producer.On("Publish", mock.Anything, payload).Run(func(mock.Arguments) {
			attempts.Add(1)
			<-release
		}).Return(nil)

		client := newFakeClient()
		client.producer = producer
		cfg := testPullConfig()
		cfg.PublishRetries = 4
		b := connectedPullBackend(t, client, cfg)

		err := b.Publish(context.Background(), "events", payload)
		require.ErrorIs(t, err, ErrPublishTimeout)

		var pte *PublishTimeoutError
		require.ErrorAs(t, err, &pte)
		assert.Equal(t, "events", pte.Channel)
		assert.Equal(t, 4, pte.Attempts)
		assert.Equal(t, string(payload), pte.Preview)
		assert.Contains(t, err.Error(), "channel=events")

		assert.Eventually(t, func() bool {
			return attempts.Load() == 4
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("preview is truncated", func(t *testing.T) {
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })

		producer := new(mockProducer)
		producer.On("Publish", mock.Anything, mock.Anything).Run(func(mock.Arguments) { <-release }).Return(nil)
		client := newFakeClient()
		client.producer = producer
		cfg := testPullConfig()
		cfg.PublishRetries = 1
		b := connectedPullBackend(t, client, cfg)

		long := make([]byte, 500)
		for i := range long {
			long[i] = 'x'
		}
		var pte *PublishTimeoutError
		require.ErrorAs(t, b.Publish(context.Background(), "events", long), &pte)
		assert.Len(t, pte.Preview, 103)
	})

	t.Run("requires a connection", func(t *testing.T) {
		b := NewPullBackend(newFakeClient(), testPullConfig(), slog.Default())
		require.ErrorIs(t, b.Publish(context.Background(), "events", []byte(`{}`)), ErrDisconnected)
		require.ErrorIs(t, b.Subscribe(context.Background(), "events"), ErrDisconnected)
	})
}

func TestPullBackend_Disconnect(t *testing.T) {
	t.Run("terminates a blocked poll", func(t *testing.T) {
		client := newFakeClient()
		b := NewPullBackend(client, testPullConfig(), slog.Default())
		require.NoError(t, b.Connect(context.Background()))
		require.NoError(t, b.Subscribe(context.Background(), "quiet"))

		errs := make(chan error, 1)
		go func() {
			_, err := b.NextPublished(context.Background())
			errs <- err
		}()

		time.Sleep(30 * time.Millisecond)
		require.NoError(t, b.Disconnect(context.Background()))

		select {
		case err := <-errs:
			require.ErrorIs(t, err, ErrDisconnected)
		case <-time.After(2 * time.Second):
			t.Fatal("NextPublished did not return after disconnect")
		}
		assert.True(t, client.closed.Load())
	})

	t.Run("terminates a poll without subscriptions", func(t *testing.T) {
		b := NewPullBackend(newFakeClient(), testPullConfig(), slog.Default())
		require.NoError(t, b.Connect(context.Background()))

		errs := make(chan error, 1)
		go func() {
			_, err := b.NextPublished(context.Background())
			errs <- err
		}()
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, b.Disconnect(context.Background()))

		select {
		case err := <-errs:
			require.ErrorIs(t, err, ErrDisconnected)
		case <-time.After(2 * time.Second):
			t.Fatal("NextPublished did not return after disconnect")
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		b := NewPullBackend(newFakeClient(), testPullConfig(), slog.Default())
		require.NoError(t, b.Disconnect(context.Background()))
		require.NoError(t, b.Connect(context.Background()))
		require.NoError(t, b.Connect(context.Background()))
		require.NoError(t, b.Disconnect(context.Background()))
		require.NoError(t, b.Disconnect(context.Background()))

		_, err := b.NextPublished(context.Background())
		require.ErrorIs(t, err, ErrDisconnected)
	})
}
