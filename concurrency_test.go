package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	scheduler "github.com/DEEJ4Y/postscheduler"
	"github.com/DEEJ4Y/postscheduler/memstore"
	"github.com/DEEJ4Y/postscheduler/vault"
)

// sendTracker counts how many times each text was sent.
type sendTracker struct {
	mu    sync.Mutex
	sends map[string]int
}

func (s *sendTracker) Post(_ context.Context, _ string, text string) (*scheduler.PostResult, error) {
	s.mu.Lock()
	s.sends[text]++
	s.mu.Unlock()
	// Widen the window in which another worker could race for the same job.
	time.Sleep(time.Millisecond)
	return &scheduler.PostResult{Success: true, StatusCode: 201, Body: []byte(`{}`)}, nil
}

func TestConcurrentSchedulers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency test in short mode")
	}

	const (
		numSchedulers = 8
		numJobs       = 200
	)

	store := memstore.New()
	store.SetClock(func() time.Time { return testNow })
	v, err := vault.New("concurrency-secret")
	if err != nil {
		t.Fatal(err)
	}
	enc, _ := v.Encrypt("token")
	store.PutAccount(&scheduler.Account{OwnerID: "u1", AccessTokenEnc: enc})

	ctx := context.Background()
	for i := 0; i < numJobs; i++ {
		_, err := store.Create(ctx, &scheduler.Job{
			OwnerID:     "u1",
			Text:        fmt.Sprintf("post-%d", i),
			ScheduledAt: testNow.Add(-time.Duration(i) * time.Second),
			MaxAttempts: 3,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	tracker := &sendTracker{sends: make(map[string]int)}
	schedulers := make([]*scheduler.Scheduler, numSchedulers)
	for i := range schedulers {
		s, err := scheduler.New(scheduler.Config{
			Jobs:        store,
			Accounts:    store,
			Preferences: store,
			Counters:    store,
			Vault:       v,
			Poster:      tracker,
			BatchSize:   25,
			Concurrency: 4,
			WorkerID:    fmt.Sprintf("worker-%d", i),
			Now:         func() time.Time { return testNow },
		})
		if err != nil {
			t.Fatalf("scheduler %d: %v", i, err)
		}
		schedulers[i] = s
	}

	// Poll from every scheduler at once until nothing is due.
	for round := 0; round < 50; round++ {
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			selected int
		)
		for _, s := range schedulers {
			wg.Add(1)
			go func(s *scheduler.Scheduler) {
				defer wg.Done()
				stats, err := s.PollOnce(ctx)
				if err != nil {
					t.Errorf("PollOnce: %v", err)
					return
				}
				mu.Lock()
				selected += stats.Selected
				mu.Unlock()
			}(s)
		}
		wg.Wait()
		if selected == 0 {
			break
		}
	}

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.sends) != numJobs {
		t.Errorf("expected %d distinct posts, got %d", numJobs, len(tracker.sends))
	}
	for text, n := range tracker.sends {
		if n != 1 {
			t.Errorf("%s sent %d times", text, n)
		}
	}

	for _, job := range store.Jobs() {
		if job.Status != scheduler.StatusPosted {
			t.Errorf("job %s ended in %s", job.ID, job.Status)
		}
	}
	count, _ := store.Count(ctx, "u1", "2024-05-01")
	if count != numJobs {
		t.Errorf("expected daily count %d, got %d", numJobs, count)
	}
}
