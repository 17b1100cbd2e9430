package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cast"

	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/pkg/uuidx"
)

const (
	BindingTable = "table"
	BindingLease = "lease"

	DefaultQueueTable = "strix_messages"
	DefaultLease      = 30 * time.Second
)

// PostgresClient pulls from a queue table. A pulled row is leased, not removed: it becomes visible
// again when the lease expires without an ack, and an ack deletes it.
type PostgresClient struct {
	dsn    string
	table  string
	lease  time.Duration
	logger *slog.Logger

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

// NewPostgresClient creates a client from a connection URL. Bindings that are not pull or queue
// settings are passed on to pgx as connection parameters.
func NewPostgresClient(u ConnectionURL, logger *slog.Logger) (*PostgresClient, error) {
	if logger == nil {
		logger = slogx.Named(slog.Default(), "strix.broker.postgres")
	}
	table := u.Bindings[BindingTable]
	if table == "" {
		table = DefaultQueueTable
	}
	lease, err := parseLease(u.Bindings)
	if err != nil {
		return nil, err
	}

	dsn := u.Native("postgres", func(key string) bool {
		return !IsPullBinding(key) && key != BindingTable && key != BindingLease
	})
	return &PostgresClient{
		dsn:    dsn,
		table:  pgx.Identifier{table}.Sanitize(),
		lease:  lease,
		logger: logger,
	}, nil
}

func parseLease(bindings map[string]string) (time.Duration, error) {
	raw, ok := bindings[BindingLease]
	if !ok {
		return DefaultLease, nil
	}
	secs, err := cast.ToFloat64E(raw)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected positive seconds", BindingLease, raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (c *PostgresClient) Connect(ctx context.Context) error {
	config, err := pgxpool.ParseConfig(c.dsn)
	if err != nil {
		return fmt.Errorf("postgres: failed to parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id uuid PRIMARY KEY,
	channel text NOT NULL,
	payload bytea NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	leased_until timestamptz
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (channel, created_at)`, c.table, pgx.Identifier{c.indexName()}.Sanitize())
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return fmt.Errorf("postgres: failed to create queue table: %w", err)
	}

	c.mu.Lock()
	c.pool = pool
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "connected to postgres queue", slog.String("table", c.table))
	return nil
}

func (c *PostgresClient) indexName() string {
	name := c.table
	if len(name) >= 2 && name[0] == '"' {
		name = name[1 : len(name)-1]
	}
	return name + "_channel_idx"
}

func (c *PostgresClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	return nil
}

func (c *PostgresClient) db() (*pgxpool.Pool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pool == nil {
		return nil, ErrDisconnected
	}
	return c.pool, nil
}

func (c *PostgresClient) Consumer(_ context.Context, channel string) (Consumer, error) {
	return &postgresQueue{client: c, channel: channel}, nil
}

func (c *PostgresClient) Producer(_ context.Context, channel string) (Producer, error) {
	return &postgresQueue{client: c, channel: channel}, nil
}

type postgresQueue struct {
	client  *PostgresClient
	channel string
}

func (q *postgresQueue) Pull(ctx context.Context) (PulledMessage, error) {
	pool, err := q.client.db()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`UPDATE %[1]s SET leased_until = now() + make_interval(secs => $2)
WHERE id = (
	SELECT id FROM %[1]s
	WHERE channel = $1 AND (leased_until IS NULL OR leased_until < now())
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, payload`, q.client.table)

	var (
		id      uuid.UUID
		payload []byte
	)
	err = pool.QueryRow(ctx, query, q.channel, q.client.lease.Seconds()).Scan(&id, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: pull from %s: %w", q.channel, err)
	}
	return &postgresMessage{client: q.client, id: id, data: payload}, nil
}

func (q *postgresQueue) Publish(ctx context.Context, data []byte) error {
	pool, err := q.client.db()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, channel, payload) VALUES ($1, $2, $3)`, q.client.table),
		uuidx.New(), q.channel, data)
	if err != nil {
		return fmt.Errorf("postgres: publish to %s: %w", q.channel, err)
	}
	return nil
}

type postgresMessage struct {
	client *PostgresClient
	id     uuid.UUID
	data   []byte
}

func (m *postgresMessage) Data() []byte { return m.data }

func (m *postgresMessage) Ack(ctx context.Context) error {
	pool, err := m.client.db()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, m.client.table), m.id)
	return err
}
