package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

// CounterStore implements scheduler.CounterStore with one document per
// user and calendar day.
type CounterStore struct {
	collection *mongo.Collection
}

// NewCounterStore wraps a daily counts collection.
func NewCounterStore(collection *mongo.Collection) *CounterStore {
	return &CounterStore{collection: collection}
}

type countDocument struct {
	XUserID string `bson:"xUserId"`
	Date    string `bson:"date"`
	Count   int    `bson:"count"`
}

// EnsureIndexes makes (xUserId, date) unique so concurrent upserts converge.
func (s *CounterStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "xUserId", Value: 1}, {Key: "date", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create count index: %w", err)
	}
	return nil
}

// Increment implements scheduler.CounterStore.
func (s *CounterStore) Increment(ctx context.Context, ownerID, dayKey string) (int, error) {
	filter := bson.M{"xUserId": ownerID, "date": dayKey}
	update := bson.M{"$inc": bson.M{"count": 1}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc countDocument
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts raced to create the row; the loser retries as an update.
		err = s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return 0, fmt.Errorf("increment count %s/%s: %w", ownerID, dayKey, err)
	}
	return doc.Count, nil
}

// Count implements scheduler.CounterStore.
func (s *CounterStore) Count(ctx context.Context, ownerID, dayKey string) (int, error) {
	var doc countDocument
	err := s.collection.FindOne(ctx, bson.M{"xUserId": ownerID, "date": dayKey}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("count %s/%s: %w", ownerID, dayKey, err)
	}
	return doc.Count, nil
}

var _ scheduler.CounterStore = (*CounterStore)(nil)
