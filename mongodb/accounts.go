package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

// AccountStore implements scheduler.AccountStore over the accounts collection.
type AccountStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewAccountStore wraps an accounts collection.
func NewAccountStore(collection *mongo.Collection) *AccountStore {
	return &AccountStore{collection: collection, now: time.Now}
}

// EnsureIndexes keeps at most one account per external user id.
func (s *AccountStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "xUserId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create account index: %w", err)
	}
	return nil
}

// GetAccount implements scheduler.AccountStore.
func (s *AccountStore) GetAccount(ctx context.Context, ownerID string) (*scheduler.Account, error) {
	var doc accountDocument
	err := s.collection.FindOne(ctx, bson.M{"xUserId": ownerID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("account %s: %w", ownerID, scheduler.ErrNotFound)
		}
		return nil, fmt.Errorf("find account %s: %w", ownerID, err)
	}
	return doc.toAccount(), nil
}

// UpdateTokens implements scheduler.AccountStore. An empty refresh token
// leaves the stored one in place.
func (s *AccountStore) UpdateTokens(ctx context.Context, ownerID string, update scheduler.TokenUpdate) error {
	set := bson.M{
		"oauth.accessTokenEnc": update.AccessTokenEnc,
		"updatedAt":            s.now(),
	}
	if update.RefreshTokenEnc != "" {
		set["oauth.refreshTokenEnc"] = update.RefreshTokenEnc
	}
	// No expiry from the provider is stored as null, not the stale value.
	if update.ExpiresAt != nil {
		set["oauth.expiresAt"] = *update.ExpiresAt
	} else {
		set["oauth.expiresAt"] = nil
	}

	result, err := s.collection.UpdateOne(ctx, bson.M{"xUserId": ownerID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update tokens %s: %w", ownerID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("account %s: %w", ownerID, scheduler.ErrNotFound)
	}
	return nil
}

var _ scheduler.AccountStore = (*AccountStore)(nil)
