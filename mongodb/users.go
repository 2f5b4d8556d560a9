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

// UserStore reads and writes posting preferences kept on user documents.
type UserStore struct {
	collection *mongo.Collection
}

// NewUserStore wraps a users collection.
func NewUserStore(collection *mongo.Collection) *UserStore {
	return &UserStore{collection: collection}
}

// GetPreferences implements scheduler.PreferenceStore.
func (s *UserStore) GetPreferences(ctx context.Context, ownerID string) (*scheduler.PostingPreferences, error) {
	opts := options.FindOne().SetProjection(bson.M{"postingPreferences": 1})

	var doc userDocument
	err := s.collection.FindOne(ctx, bson.M{"xUserId": ownerID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user %s: %w", ownerID, err)
	}
	return doc.PostingPreferences.toPreferences(), nil
}

// SavePreferences replaces a user's posting preferences.
// It returns ErrNotFound when no user has ownerID.
func (s *UserStore) SavePreferences(ctx context.Context, ownerID string, prefs *scheduler.PostingPreferences) error {
	update := bson.M{"$set": bson.M{"postingPreferences": fromPreferences(prefs)}}
	result, err := s.collection.UpdateOne(ctx, bson.M{"xUserId": ownerID}, update)
	if err != nil {
		return fmt.Errorf("save preferences %s: %w", ownerID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("user %s: %w", ownerID, scheduler.ErrNotFound)
	}
	return nil
}

var _ scheduler.PreferenceStore = (*UserStore)(nil)
