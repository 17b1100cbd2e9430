package broker

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fogfish/opts"
	"github.com/nats-io/nats.go"

	"github.com/casualjim/strix/pkg/slogx"
)

type config struct {
	logger      *slog.Logger
	queueSize   int
	natsOptions []nats.Option
}

type Option = opts.Option[config]

var (
	// WithLogger sets the logger the handler and its backend log to.
	WithLogger = opts.ForName[config, *slog.Logger]("logger")
	// WithQueueSize sets the buffer size of subscriber queues and the NATS inbox, and the initial memory inbox capacity.
	WithQueueSize = opts.ForName[config, int]("queueSize")
)

// WithNATSOptions adds connection options for the nats and jetstream schemes.
func WithNATSOptions(options ...nats.Option) Option {
	return opts.Type[config](func(c *config) error {
		c.natsOptions = append(c.natsOptions, options...)
		return nil
	})
}

func newConfig(options []Option) (config, error) {
	c := config{queueSize: defaultQueueSize}
	if err := opts.Apply(&c, options); err != nil {
		return config{}, err
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.queueSize <= 0 {
		c.queueSize = defaultQueueSize
	}
	return c, nil
}

// NewBackend selects the backend for a connection URL by its scheme.
func NewBackend(rawURL string, options ...Option) (Backend, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	c, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	return newBackend(u, c)
}

func newBackend(u ConnectionURL, c config) (Backend, error) {
	logger := func(name string) *slog.Logger { return slogx.Named(c.logger, "strix.broker."+name) }

	switch u.Scheme {
	case "memory":
		return NewMemory(c.queueSize, logger("memory")), nil
	case "nats":
		return NewNATS(natsServers(u), c.queueSize, logger("nats"), c.natsOptions...), nil
	case "jetstream":
		cfg, err := ParsePullConfig(u.Bindings)
		if err != nil {
			return nil, err
		}
		client := NewJetStreamClient(natsServers(u), u.Bindings, logger("jetstream"), c.natsOptions...)
		return NewPullBackend(client, cfg, logger("pull")), nil
	case "postgres", "postgresql":
		cfg, err := ParsePullConfig(u.Bindings)
		if err != nil {
			return nil, err
		}
		client, err := NewPostgresClient(u, logger("postgres"))
		if err != nil {
			return nil, err
		}
		return NewPullBackend(client, cfg, logger("pull")), nil
	case "mongodb":
		cfg, err := ParsePullConfig(u.Bindings)
		if err != nil {
			return nil, err
		}
		client, err := NewMongoClient(u, logger("mongodb"))
		if err != nil {
			return nil, err
		}
		return NewPullBackend(client, cfg, logger("pull")), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

func natsServers(u ConnectionURL) string {
	hosts := u.Hosts()
	servers := make([]string, len(hosts))
	for i, h := range hosts {
		servers[i] = "nats://" + h
	}
	return strings.Join(servers, ",")
}
