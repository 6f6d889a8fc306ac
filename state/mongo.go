package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/config"
)

type mongoDoc struct {
	ID         string    `bson:"_id"`
	FlowType   string    `bson:"flow_type"`
	InstanceID string    `bson:"instance_id"`
	Version    int64     `bson:"version"`
	Blob       []byte    `bson:"blob"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

// MongoStore keeps one document per key.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStore connects to MongoDB.
func NewMongoStore(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Database == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("mongo state store requires database and collection")
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Timeout > 0 {
		opts.SetTimeout(cfg.Timeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		logger: logger.With(zap.String("component", "state_mongo")),
	}, nil
}

func docID(key Key) string {
	return key.FlowType + "/" + key.InstanceID
}

// Save implements Store.
func (s *MongoStore) Save(ctx context.Context, key Key, expected Version, blob []byte) (Version, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}

	next := expected + 1
	now := time.Now().UTC()

	if expected == 0 {
		_, err := s.coll.InsertOne(ctx, mongoDoc{
			ID:         docID(key),
			FlowType:   key.FlowType,
			InstanceID: key.InstanceID,
			Version:    int64(next),
			Blob:       cloneBlob(blob),
			UpdatedAt:  now,
		})
		if mongo.IsDuplicateKeyError(err) {
			return 0, s.conflictFor(ctx, key, expected)
		}
		if err != nil {
			return 0, fmt.Errorf("save state %s: %w", key, err)
		}
		return next, nil
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: docID(key)}, {Key: "version", Value: int64(expected)}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "version", Value: int64(next)},
			{Key: "blob", Value: cloneBlob(blob)},
			{Key: "updated_at", Value: now},
		}}},
	)
	if err != nil {
		return 0, fmt.Errorf("save state %s: %w", key, err)
	}
	if res.MatchedCount == 0 {
		return 0, s.conflictFor(ctx, key, expected)
	}
	return next, nil
}

func (s *MongoStore) conflictFor(ctx context.Context, key Key, expected Version) error {
	_, actual, err := s.Load(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("save state %s: %w", key, err)
	}
	return conflict(key, expected, actual)
}

// Load implements Store.
func (s *MongoStore) Load(ctx context.Context, key Key) ([]byte, Version, error) {
	if err := key.Validate(); err != nil {
		return nil, 0, err
	}

	var doc mongoDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: docID(key)}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load state %s: %w", key, err)
	}
	return doc.Blob, Version(doc.Version), nil
}

// Delete implements Store.
func (s *MongoStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: docID(key)}}); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

// Close implements Store.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
