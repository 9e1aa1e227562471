package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig holds MongoDB connection configuration
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Mongo wraps the MongoDB client and the call database handle
type Mongo struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// NewMongo connects to MongoDB and verifies the connection
func NewMongo(ctx context.Context, cfg *MongoConfig) (*Mongo, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.URI).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout).
		SetMaxPoolSize(10).
		SetMinPoolSize(1)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}

	return &Mongo{
		Client: client,
		DB:     client.Database(cfg.Database),
	}, nil
}

// EnsureIndexes creates the indexes the call store queries rely on
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	calls := m.DB.Collection("group_calls")

	_, err := calls.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// One live call per room lookup
		{
			Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("by_room_status"),
		},
		// Reaper scan over stale ringing calls
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
			Options: options.Index().SetName("by_status_updated"),
		},
	})
	return err
}

// Close disconnects from MongoDB
func (m *Mongo) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
