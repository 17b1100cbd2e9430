package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/casualjim/strix/pkg/natsx"
	"github.com/casualjim/strix/pkg/slogx"
)

const (
	BindingStream         = "stream"
	BindingStreamSubjects = "stream_subjects"

	DefaultStreamName = "STRIX"
)

var durableNameReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", "/", "_", " ", "_", "\\", "_")

// JetStreamClient pulls from durable JetStream consumers, one per channel, all bound to one stream.
// Channels are added to the stream subjects on first use.
type JetStreamClient struct {
	servers  string
	stream   string
	subjects []string
	logger   *slog.Logger
	options  []nats.Option

	mu     sync.Mutex
	conn   *nats.Conn
	js     jetstream.JetStream
	handle jetstream.Stream
}

// NewJetStreamClient creates a client for the nats servers in servers (comma separated urls).
func NewJetStreamClient(servers string, bindings map[string]string, logger *slog.Logger, options ...nats.Option) *JetStreamClient {
	if logger == nil {
		logger = slogx.Named(slog.Default(), "strix.broker.jetstream")
	}
	stream := bindings[BindingStream]
	if stream == "" {
		stream = DefaultStreamName
	}
	var subjects []string
	for s := range strings.SplitSeq(bindings[BindingStreamSubjects], ",") {
		if s = strings.TrimSpace(s); s != "" {
			subjects = append(subjects, s)
		}
	}
	return &JetStreamClient{
		servers:  servers,
		stream:   stream,
		subjects: subjects,
		logger:   logger,
		options:  options,
	}
}

func (c *JetStreamClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := natsx.Connect(c.servers, natsx.DefaultName, c.options...)
	if err != nil {
		return err
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("jetstream: %w", err)
	}
	handle, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.stream,
		Subjects: c.subjects,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("jetstream: create stream %s: %w", c.stream, err)
	}

	c.conn, c.js, c.handle = conn, js, handle
	c.logger.InfoContext(ctx, "connected to jetstream", slog.String("stream", c.stream), slog.String("servers", c.servers))
	return nil
}

func (c *JetStreamClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Drain()
	c.conn, c.js, c.handle = nil, nil, nil
	if errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

// bind makes sure the stream captures the channel subject.
func (c *JetStreamClient) bind(ctx context.Context, channel string) (jetstream.JetStream, jetstream.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return nil, nil, ErrDisconnected
	}

	info, err := c.handle.Info(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("jetstream: stream info %s: %w", c.stream, err)
	}
	if slices.Contains(info.Config.Subjects, channel) {
		return c.js, c.handle, nil
	}

	cfg := info.Config
	if len(cfg.Subjects) == 0 {
		cfg.Subjects = []string{c.stream}
	}
	cfg.Subjects = append(cfg.Subjects, channel)
	handle, err := c.js.UpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("jetstream: add subject %s to stream %s: %w", channel, c.stream, err)
	}
	c.handle = handle
	return c.js, handle, nil
}

func (c *JetStreamClient) Consumer(ctx context.Context, channel string) (Consumer, error) {
	_, handle, err := c.bind(ctx, channel)
	if err != nil {
		return nil, err
	}
	cons, err := handle.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durableName(channel),
		FilterSubject: channel,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream: consumer for %s: %w", channel, err)
	}
	return &jetStreamConsumer{consumer: cons}, nil
}

func (c *JetStreamClient) Producer(ctx context.Context, channel string) (Producer, error) {
	js, _, err := c.bind(ctx, channel)
	if err != nil {
		return nil, err
	}
	return &jetStreamProducer{js: js, subject: channel}, nil
}

func durableName(channel string) string {
	return "strix_" + durableNameReplacer.Replace(channel)
}

type jetStreamConsumer struct {
	consumer jetstream.Consumer
}

func (c *jetStreamConsumer) Pull(context.Context) (PulledMessage, error) {
	batch, err := c.consumer.FetchNoWait(1)
	if err != nil {
		return nil, err
	}
	for msg := range batch.Messages() {
		return &jetStreamMessage{msg: msg}, nil
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return nil, err
	}
	return nil, nil
}

type jetStreamMessage struct {
	msg jetstream.Msg
}

func (m *jetStreamMessage) Data() []byte { return m.msg.Data() }

func (m *jetStreamMessage) Ack(ctx context.Context) error {
	return m.msg.DoubleAck(ctx)
}

type jetStreamProducer struct {
	js      jetstream.JetStream
	subject string
}

func (p *jetStreamProducer) Publish(ctx context.Context, data []byte) error {
	_, err := p.js.Publish(ctx, p.subject, data)
	return err
}
