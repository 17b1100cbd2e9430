package natsx

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultName is the client name announced to the server when none is configured.
const DefaultName = "strix"

// Connect dials the comma separated server list in urls. The connection is named, compressed,
// and reconnects forever with a short wait, which keeps long running listen loops alive across
// broker restarts. Extra options are applied after the defaults.
func Connect(urls, name string, opts ...nats.Option) (*nats.Conn, error) {
	if name == "" {
		name = DefaultName
	}
	defaults := []nats.Option{
		nats.Name(name),
		nats.Compression(true),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}

	nc, err := nats.Connect(urls, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", urls, err)
	}
	slog.Debug("connected to nats", slog.String("url", nc.ConnectedUrlRedacted()), slog.String("name", name))
	return nc, nil
}
