package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/pkg/uid"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoAnomalySink implements AnomalyRepository on a MongoDB collection so
// operators can query anomalies alongside other audit data.
type MongoAnomalySink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoAnomalySink connects and ensures the dedupe index.
func NewMongoAnomalySink(uri, dbName, collectionName string) (*MongoAnomalySink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(dbName).Collection(collectionName)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tx_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "subject", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create anomaly indexes: %w", err)
	}

	log.Printf("[MongoAnomalySink] Initialized: %s.%s", dbName, collectionName)
	return &MongoAnomalySink{client: client, collection: collection}, nil
}

// RecordAnomaly inserts an anomaly; duplicates of (tx_id, kind, subject) are ignored.
func (r *MongoAnomalySink) RecordAnomaly(ctx context.Context, a *model.Anomaly) error {
	if a.ID == "" {
		a.ID = uid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := r.collection.InsertOne(ctx, a)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to record anomaly: %w", err)
	}
	return nil
}

// ListAnomalies returns anomalies newest first with the total count.
func (r *MongoAnomalySink) ListAnomalies(ctx context.Context, limit, offset int) ([]model.Anomaly, int64, error) {
	findOptions := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.collection.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer cursor.Close(ctx)

	var anomalies []model.Anomaly
	if err := cursor.All(ctx, &anomalies); err != nil {
		return nil, 0, fmt.Errorf("failed to decode anomalies: %w", err)
	}

	// Ensure not nil slice for JSON
	if anomalies == nil {
		anomalies = []model.Anomaly{}
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count anomalies: %w", err)
	}

	return anomalies, count, nil
}

// Ping checks the MongoDB connection.
func (r *MongoAnomalySink) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection.
func (r *MongoAnomalySink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// Ensure MongoAnomalySink implements AnomalyRepository
var _ AnomalyRepository = (*MongoAnomalySink)(nil)
