package mongodb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	scheduler "github.com/DEEJ4Y/postscheduler"
	"github.com/DEEJ4Y/postscheduler/vault"
)

// countingPoster records how often each text was sent.
type countingPoster struct {
	mu    sync.Mutex
	sends map[string]int
}

func (p *countingPoster) Post(_ context.Context, _, text string) (*scheduler.PostResult, error) {
	p.mu.Lock()
	p.sends[text]++
	p.mu.Unlock()
	return &scheduler.PostResult{Success: true, StatusCode: 201, Body: []byte(`{"data":{"id":"1"}}`)}, nil
}

// TestDistributedClaiming validates that each job is sent exactly once when
// many workers poll the same collection.
func TestDistributedClaiming(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrency test in short mode")
	}

	const (
		numWorkers = 20
		numJobs    = 500
	)

	db := testDatabase(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	v, err := vault.New("test-secret")
	require.NoError(t, err)
	accessEnc, err := v.Encrypt("access-token")
	require.NoError(t, err)

	_, err = db.Collection(AccountsCollection).InsertOne(ctx, accountDocument{
		XUserID: "u1",
		OAuth:   oauthDocument{AccessTokenEnc: accessEnc},
	})
	require.NoError(t, err)

	jobs := newTestJobStore(t, db)
	past := time.Now().Add(-time.Minute)
	for i := 0; i < numJobs; i++ {
		_, err := jobs.Create(ctx, &scheduler.Job{
			OwnerID:     "u1",
			Text:        fmt.Sprintf("post %d", i),
			ScheduledAt: past,
			MaxAttempts: 3,
		})
		require.NoError(t, err)
	}

	poster := &countingPoster{sends: make(map[string]int)}
	accounts := NewAccountStore(db.Collection(AccountsCollection))
	counts := NewCounterStore(db.Collection(CountsCollection))
	require.NoError(t, counts.EnsureIndexes(ctx))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		store, err := NewJobStore(JobStoreConfig{Collection: db.Collection(JobsCollection)})
		require.NoError(t, err)

		sched, err := scheduler.New(scheduler.Config{
			Jobs:        store,
			Accounts:    accounts,
			Counters:    counts,
			Vault:       v,
			Poster:      poster,
			BatchSize:   50,
			Concurrency: 4,
			WorkerID:    fmt.Sprintf("worker-%d", i),
			OnError: func(_ context.Context, err error) {
				t.Errorf("worker error: %v", err)
			},
		})
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				stats, err := sched.PollOnce(ctx)
				if err != nil || stats.Selected == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	poster.mu.Lock()
	defer poster.mu.Unlock()
	require.Len(t, poster.sends, numJobs)
	for text, n := range poster.sends {
		if n != 1 {
			t.Errorf("%q sent %d times", text, n)
		}
	}

	remaining, err := db.Collection(JobsCollection).CountDocuments(ctx, bson.M{"status": bson.M{"$ne": string(scheduler.StatusPosted)}})
	require.NoError(t, err)
	require.Zero(t, remaining)

	cursor, err := db.Collection(CountsCollection).Find(ctx, bson.M{"xUserId": "u1"})
	require.NoError(t, err)
	var rows []countDocument
	require.NoError(t, cursor.All(ctx, &rows))
	total := 0
	for _, row := range rows {
		total += row.Count
	}
	require.Equal(t, numJobs, total)
}
