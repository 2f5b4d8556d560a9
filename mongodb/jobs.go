package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

// JobStoreConfig holds the configuration for the MongoDB job store.
type JobStoreConfig struct {
	// Collection is the MongoDB collection where jobs are stored.
	// Required.
	Collection *mongo.Collection

	// Condition is an optional additional filter to apply when selecting due jobs.
	// This allows a worker to process only a subset of the collection.
	// Example: bson.M{"xUserId": "123"} to only dispatch one user's posts.
	Condition bson.M

	// Pinger answers Ping. When nil the collection's client is pinged.
	Pinger scheduler.Pinger

	// Now stamps updatedAt. Default: time.Now.
	Now func() time.Time
}

// JobStore implements scheduler.JobStore for MongoDB.
type JobStore struct {
	collection *mongo.Collection
	condition  bson.M
	pinger     scheduler.Pinger
	now        func() time.Time
}

// NewJobStore creates a new MongoDB job store with the given configuration.
func NewJobStore(config JobStoreConfig) (*JobStore, error) {
	if config.Collection == nil {
		return nil, fmt.Errorf("collection is required")
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &JobStore{
		collection: config.Collection,
		condition:  config.Condition,
		pinger:     config.Pinger,
		now:        config.Now,
	}, nil
}

// Ping implements scheduler.Pinger.
func (s *JobStore) Ping(ctx context.Context) error {
	if s.pinger != nil {
		return s.pinger.Ping(ctx)
	}
	return s.collection.Database().Client().Ping(ctx, nil)
}

// EnsureIndexes creates the indexes used by selection and listing.
func (s *JobStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduledAt", Value: 1}}},
		{Keys: bson.D{{Key: "xUserId", Value: 1}, {Key: "scheduledAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create job indexes: %w", err)
	}
	return nil
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("job %s: %w", id, scheduler.ErrNotFound)
	}
	return oid, nil
}

// FindDue implements scheduler.JobStore.
func (s *JobStore) FindDue(ctx context.Context, now time.Time, limit int) ([]*scheduler.Job, error) {
	filter := bson.M{
		"$and": []bson.M{
			{"status": bson.M{"$in": []string{string(scheduler.StatusPending), string(scheduler.StatusFailed)}}},
			{"scheduledAt": bson.M{"$lte": now}},
			{"$expr": bson.M{"$lt": bson.A{"$attempts", "$maxAttempts"}}},
		},
	}

	// Add custom condition if provided
	if s.condition != nil {
		filter["$and"] = append(filter["$and"].([]bson.M), s.condition)
	}

	opts := options.Find().SetSort(bson.D{{Key: "scheduledAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find due jobs: %w", err)
	}
	return decodeJobs(ctx, cursor)
}

func decodeJobs(ctx context.Context, cursor *mongo.Cursor) ([]*scheduler.Job, error) {
	defer cursor.Close(ctx)

	var jobs []*scheduler.Job
	for cursor.Next(ctx) {
		var doc jobDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, doc.toJob())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	return jobs, nil
}

// Claim atomically moves a job from the observed status to queued.
func (s *JobStore) Claim(ctx context.Context, id string, observed scheduler.Status, claimedBy string, at time.Time) (bool, error) {
	oid, err := objectID(id)
	if err != nil {
		return false, nil
	}

	filter := bson.M{"_id": oid, "status": string(observed)}
	update := bson.M{
		"$set": bson.M{
			"status":    string(scheduler.StatusQueued),
			"claimedBy": claimedBy,
			"claimedAt": at,
			"updatedAt": at,
		},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"_id": 1})

	var result bson.M
	err = s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Another worker won the race.
			return false, nil
		}
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return true, nil
}

// ReleaseStale implements scheduler.JobStore.
func (s *JobStore) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	filter := bson.M{
		"status":    string(scheduler.StatusQueued),
		"claimedAt": bson.M{"$lt": cutoff},
	}
	update := bson.M{
		"$set": bson.M{
			"status":    string(scheduler.StatusPending),
			"lastError": scheduler.ReasonClaimExpired,
			"updatedAt": s.now(),
		},
	}
	result, err := s.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return int(result.ModifiedCount), nil
}

func (s *JobStore) updateByID(ctx context.Context, id string, update bson.M) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("job %s: %w", id, scheduler.ErrNotFound)
	}
	return nil
}

// Defer implements scheduler.JobStore.
func (s *JobStore) Defer(ctx context.Context, id string, scheduledAt time.Time, reason string, consumeAttempt bool) error {
	update := bson.M{
		"$set": bson.M{
			"status":      string(scheduler.StatusPending),
			"scheduledAt": scheduledAt,
			"lastError":   reason,
			"updatedAt":   s.now(),
		},
	}
	if consumeAttempt {
		update["$inc"] = bson.M{"attempts": 1}
	}
	return s.updateByID(ctx, id, update)
}

// MarkPosting implements scheduler.JobStore.
func (s *JobStore) MarkPosting(ctx context.Context, id string) error {
	return s.updateByID(ctx, id, bson.M{
		"$set": bson.M{"status": string(scheduler.StatusPosting), "updatedAt": s.now()},
	})
}

// MarkFailed implements scheduler.JobStore.
func (s *JobStore) MarkFailed(ctx context.Context, id string, reason string, retryAt *time.Time) error {
	set := bson.M{
		"status":    string(scheduler.StatusFailed),
		"lastError": reason,
		"updatedAt": s.now(),
	}
	if retryAt != nil {
		set["scheduledAt"] = *retryAt
	}
	return s.updateByID(ctx, id, bson.M{"$set": set, "$inc": bson.M{"attempts": 1}})
}

// MarkPosted implements scheduler.JobStore.
func (s *JobStore) MarkPosted(ctx context.Context, id string, postedAt time.Time, response map[string]interface{}) error {
	return s.updateByID(ctx, id, bson.M{
		"$set": bson.M{
			"status":    string(scheduler.StatusPosted),
			"postedAt":  postedAt,
			"response":  response,
			"updatedAt": postedAt,
		},
	})
}

// Create implements scheduler.JobStore.
func (s *JobStore) Create(ctx context.Context, job *scheduler.Job) (string, error) {
	doc := fromJob(job)
	now := s.now()
	doc.CreatedAt, doc.UpdatedAt = now, now

	result, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	oid, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", result.InsertedID)
	}
	return oid.Hex(), nil
}

// Get returns a job by id.
func (s *JobStore) Get(ctx context.Context, id string) (*scheduler.Job, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var doc jobDocument
	if err := s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("job %s: %w", id, scheduler.ErrNotFound)
		}
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return doc.toJob(), nil
}

// ListByOwner returns an owner's jobs ordered by scheduledAt.
func (s *JobStore) ListByOwner(ctx context.Context, ownerID string) ([]*scheduler.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scheduledAt", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{"xUserId": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return decodeJobs(ctx, cursor)
}

// DeleteOwned removes a job if it belongs to ownerID.
func (s *JobStore) DeleteOwned(ctx context.Context, id, ownerID string) (bool, error) {
	oid, err := objectID(id)
	if err != nil {
		return false, nil
	}
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": oid, "xUserId": ownerID})
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	return result.DeletedCount > 0, nil
}

// CancelOwned moves an owned pending or failed job to cancelled.
func (s *JobStore) CancelOwned(ctx context.Context, id, ownerID string) (bool, error) {
	oid, err := objectID(id)
	if err != nil {
		return false, nil
	}
	filter := bson.M{
		"_id":     oid,
		"xUserId": ownerID,
		"status":  bson.M{"$in": []string{string(scheduler.StatusPending), string(scheduler.StatusFailed)}},
	}
	update := bson.M{"$set": bson.M{"status": string(scheduler.StatusCancelled), "updatedAt": s.now()}}
	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", id, err)
	}
	return result.ModifiedCount > 0, nil
}

var _ scheduler.JobStore = (*JobStore)(nil)
