// Package mongo implements source.Connector on top of the MongoDB driver.
package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/follower/internal/source"
	"github.com/syntrixbase/follower/pkg/model"
)

// SortField orders every snapshot.
const SortField = "updatedAt"

// Connector dials MongoDB.
type Connector struct {
	// ConnectTimeout applies when the URL does not set one. Defaults to 10s.
	ConnectTimeout time.Duration
}

// NewConnector creates a Connector with default settings.
func NewConnector() *Connector {
	return &Connector{ConnectTimeout: 10 * time.Second}
}

// Connect implements source.Connector.
func (c *Connector) Connect(ctx context.Context, url string) (source.Client, error) {
	clientOpts := options.Client().ApplyURI(url)
	if err := clientOpts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}

	// Set some reasonable defaults if not provided in URI
	if clientOpts.ConnectTimeout == nil {
		timeout := c.ConnectTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		clientOpts.SetConnectTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", model.WrapError(err))
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping: %w", model.WrapError(err))
	}

	return &Client{client: client}, nil
}

// Client wraps a connected *mongo.Client.
type Client struct {
	client *mongo.Client
}

// NewClient wraps an existing driver client.
func NewClient(client *mongo.Client) *Client {
	return &Client{client: client}
}

// Collection implements source.Client.
func (c *Client) Collection(db, name string) source.Collection {
	return &Collection{
		db:   c.client.Database(db),
		coll: c.client.Database(db).Collection(name),
	}
}

// Disconnect implements source.Client.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Collection reads counters and snapshots from one collection.
type Collection struct {
	db   *mongo.Database
	coll *mongo.Collection
}

// collStats is the part of the collStats reply the follower reads.
type collStats struct {
	Count      int64 `bson:"count"`
	WiredTiger struct {
		Cursor bson.M `bson:"cursor"`
	} `bson:"wiredTiger"`
}

// Counters implements source.Collection using the WiredTiger cursor statistics.
func (c *Collection) Counters(ctx context.Context) (source.Counters, error) {
	var stats collStats
	cmd := bson.D{{Key: "collStats", Value: c.coll.Name()}}
	if err := c.db.RunCommand(ctx, cmd).Decode(&stats); err != nil {
		return source.Counters{}, fmt.Errorf("failed to read collection stats: %w", model.WrapError(err))
	}
	return countersFromStats(stats), nil
}

// countersFromStats falls back to the document count on storage engines that
// do not report cursor statistics.
func countersFromStats(stats collStats) source.Counters {
	cursor := stats.WiredTiger.Cursor
	if len(cursor) == 0 {
		return source.Counters{Insert: stats.Count}
	}
	return source.Counters{
		Insert: toInt64(cursor["insert calls"]),
		Create: toInt64(cursor["create calls"]),
		Remove: toInt64(cursor["remove calls"]),
	}
}

// Snapshot implements source.Collection.
func (c *Collection) Snapshot(ctx context.Context) ([]model.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: SortField, Value: 1}})
	cursor, err := c.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", model.WrapError(err))
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", model.WrapError(err))
	}

	docs := make([]model.Document, 0, len(raw))
	for _, m := range raw {
		doc, err := toDocument(m)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// toDocument renders a BSON document as relaxed extended JSON, so ObjectIDs
// become {"$oid": ...} and dates {"$date": ...}.
func toDocument(m bson.M) (model.Document, error) {
	data, err := bson.MarshalExtJSON(m, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to render document: %w", err)
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to render document: %w", err)
	}
	return doc, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
