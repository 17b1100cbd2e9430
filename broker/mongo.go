package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/pkg/uuidx"
)

const (
	BindingDatabase   = "database"
	BindingCollection = "collection"

	DefaultDatabase        = "strix"
	DefaultQueueCollection = "strix_messages"
)

type mongoDocument struct {
	ID          string    `bson:"_id"`
	Channel     string    `bson:"channel"`
	Payload     []byte    `bson:"payload"`
	CreatedAt   time.Time `bson:"created_at"`
	LeasedUntil time.Time `bson:"leased_until"`
}

// MongoClient pulls from a queue collection with the same lease semantics as PostgresClient.
type MongoClient struct {
	uri        string
	database   string
	collection string
	lease      time.Duration
	logger     *slog.Logger

	mu     sync.RWMutex
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoClient(u ConnectionURL, logger *slog.Logger) (*MongoClient, error) {
	if logger == nil {
		logger = slogx.Named(slog.Default(), "strix.broker.mongodb")
	}
	lease, err := parseLease(u.Bindings)
	if err != nil {
		return nil, err
	}
	database := u.Bindings[BindingDatabase]
	if database == "" {
		database = DefaultDatabase
	}
	collection := u.Bindings[BindingCollection]
	if collection == "" {
		collection = DefaultQueueCollection
	}

	uri := u.Native("mongodb", func(key string) bool {
		switch key {
		case BindingDatabase, BindingCollection, BindingLease:
			return false
		}
		return !IsPullBinding(key)
	})
	return &MongoClient{
		uri:        uri,
		database:   database,
		collection: collection,
		lease:      lease,
		logger:     logger,
	}, nil
}

func (c *MongoClient) Connect(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.uri))
	if err != nil {
		return fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("mongodb: ping: %w", err)
	}

	coll := client.Database(c.database).Collection(c.collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "channel", Value: 1}, {Key: "leased_until", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("mongodb: create queue index: %w", err)
	}

	c.mu.Lock()
	c.client, c.coll = client, coll
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "connected to mongodb queue", slog.String("database", c.database), slog.String("collection", c.collection))
	return nil
}

func (c *MongoClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client, c.coll = nil, nil
	return err
}

func (c *MongoClient) queue() (*mongo.Collection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.coll == nil {
		return nil, ErrDisconnected
	}
	return c.coll, nil
}

func (c *MongoClient) Consumer(_ context.Context, channel string) (Consumer, error) {
	return &mongoQueue{client: c, channel: channel}, nil
}

func (c *MongoClient) Producer(_ context.Context, channel string) (Producer, error) {
	return &mongoQueue{client: c, channel: channel}, nil
}

type mongoQueue struct {
	client  *MongoClient
	channel string
}

func (q *mongoQueue) Pull(ctx context.Context) (PulledMessage, error) {
	coll, err := q.client.queue()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	filter := bson.M{
		"channel":      q.channel,
		"leased_until": bson.M{"$lt": now},
	}
	update := bson.M{"$set": bson.M{"leased_until": now.Add(q.client.lease)}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var doc mongoDocument
	err = coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: pull from %s: %w", q.channel, err)
	}
	return &mongoMessage{client: q.client, id: doc.ID, data: doc.Payload}, nil
}

func (q *mongoQueue) Publish(ctx context.Context, data []byte) error {
	coll, err := q.client.queue()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = coll.InsertOne(ctx, mongoDocument{
		ID:        uuidx.NewString(),
		Channel:   q.channel,
		Payload:   data,
		CreatedAt: now,
		// the unix epoch marks a row that was never leased
		LeasedUntil: time.Unix(0, 0).UTC(),
	})
	if err != nil {
		return fmt.Errorf("mongodb: publish to %s: %w", q.channel, err)
	}
	return nil
}

type mongoMessage struct {
	client *MongoClient
	id     string
	data   []byte
}

func (m *mongoMessage) Data() []byte { return m.data }

func (m *mongoMessage) Ack(ctx context.Context) error {
	coll, err := m.client.queue()
	if err != nil {
		return err
	}
	_, err = coll.DeleteOne(ctx, bson.M{"_id": m.id})
	return err
}
