// Package memstore provides in-memory implementations of the scheduler stores.
// It is NOT suitable for production use - it has no persistence and only
// coordinates workers within a single process.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

// Store keeps jobs, accounts, preferences and daily counts in memory.
// All methods are safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	jobs        map[string]*scheduler.Job
	accounts    map[string]*scheduler.Account
	preferences map[string]*scheduler.PostingPreferences
	counts      map[string]int
	idCounter   int
	now         func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*scheduler.Job),
		accounts:    make(map[string]*scheduler.Account),
		preferences: make(map[string]*scheduler.PostingPreferences),
		counts:      make(map[string]int),
		now:         time.Now,
	}
}

// SetClock overrides the clock used for bookkeeping timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func copyJob(j *scheduler.Job) *scheduler.Job {
	c := *j
	return &c
}

// FindDue implements scheduler.JobStore.
func (s *Store) FindDue(_ context.Context, now time.Time, limit int) ([]*scheduler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*scheduler.Job
	for _, job := range s.jobs {
		if job.Eligible(now) {
			due = append(due, copyJob(job))
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].ScheduledAt.Before(due[k].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Claim implements scheduler.JobStore.
func (s *Store) Claim(_ context.Context, id string, observed scheduler.Status, claimedBy string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != observed {
		return false, nil
	}
	job.Status = scheduler.StatusQueued
	job.ClaimedBy = claimedBy
	job.ClaimedAt = &at
	job.UpdatedAt = at
	return true, nil
}

// ReleaseStale implements scheduler.JobStore.
func (s *Store) ReleaseStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, job := range s.jobs {
		if job.Status == scheduler.StatusQueued && job.ClaimedAt != nil && job.ClaimedAt.Before(cutoff) {
			job.Status = scheduler.StatusPending
			job.LastError = scheduler.ReasonClaimExpired
			job.UpdatedAt = s.now()
			released++
		}
	}
	return released, nil
}

func (s *Store) lookup(id string) (*scheduler.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, scheduler.ErrNotFound)
	}
	return job, nil
}

// Defer implements scheduler.JobStore.
func (s *Store) Defer(_ context.Context, id string, scheduledAt time.Time, reason string, consumeAttempt bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookup(id)
	if err != nil {
		return err
	}
	job.Status = scheduler.StatusPending
	job.ScheduledAt = scheduledAt
	job.LastError = reason
	if consumeAttempt {
		job.Attempts++
	}
	job.UpdatedAt = s.now()
	return nil
}

// MarkPosting implements scheduler.JobStore.
func (s *Store) MarkPosting(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookup(id)
	if err != nil {
		return err
	}
	job.Status = scheduler.StatusPosting
	job.UpdatedAt = s.now()
	return nil
}

// MarkFailed implements scheduler.JobStore.
func (s *Store) MarkFailed(_ context.Context, id string, reason string, retryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookup(id)
	if err != nil {
		return err
	}
	job.Status = scheduler.StatusFailed
	job.Attempts++
	job.LastError = reason
	if retryAt != nil {
		job.ScheduledAt = *retryAt
	}
	job.UpdatedAt = s.now()
	return nil
}

// MarkPosted implements scheduler.JobStore.
func (s *Store) MarkPosted(_ context.Context, id string, postedAt time.Time, response map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookup(id)
	if err != nil {
		return err
	}
	job.Status = scheduler.StatusPosted
	job.PostedAt = &postedAt
	job.Response = response
	job.UpdatedAt = postedAt
	return nil
}

// Create implements scheduler.JobStore.
func (s *Store) Create(_ context.Context, job *scheduler.Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idCounter++
	c := copyJob(job)
	c.ID = fmt.Sprintf("%024x", s.idCounter)
	if c.Status == "" {
		c.Status = scheduler.StatusPending
	}
	if c.Repeat == "" {
		c.Repeat = scheduler.RepeatNone
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.jobs[c.ID] = c
	return c.ID, nil
}

// Get returns a copy of a job.
func (s *Store) Get(_ context.Context, id string) (*scheduler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return copyJob(job), nil
}

// Jobs returns copies of all jobs ordered by scheduledAt.
func (s *Store) Jobs() []*scheduler.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*scheduler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, copyJob(job))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ScheduledAt.Before(out[k].ScheduledAt) })
	return out
}

// ListByOwner returns an owner's jobs ordered by scheduledAt.
func (s *Store) ListByOwner(_ context.Context, ownerID string) ([]*scheduler.Job, error) {
	var out []*scheduler.Job
	for _, job := range s.Jobs() {
		if job.OwnerID == ownerID {
			out = append(out, job)
		}
	}
	return out, nil
}

// DeleteOwned removes a job if it belongs to ownerID.
func (s *Store) DeleteOwned(_ context.Context, id, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}

// CancelOwned moves an owned pending or failed job to cancelled.
func (s *Store) CancelOwned(_ context.Context, id, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.OwnerID != ownerID || !job.Status.Selectable() {
		return false, nil
	}
	job.Status = scheduler.StatusCancelled
	job.UpdatedAt = s.now()
	return true, nil
}

// PutAccount stores or replaces an account.
func (s *Store) PutAccount(acct *scheduler.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *acct
	s.accounts[acct.OwnerID] = &c
}

// GetAccount implements scheduler.AccountStore.
func (s *Store) GetAccount(_ context.Context, ownerID string) (*scheduler.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[ownerID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", ownerID, scheduler.ErrNotFound)
	}
	c := *acct
	return &c, nil
}

// UpdateTokens implements scheduler.AccountStore.
func (s *Store) UpdateTokens(_ context.Context, ownerID string, update scheduler.TokenUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[ownerID]
	if !ok {
		return fmt.Errorf("account %s: %w", ownerID, scheduler.ErrNotFound)
	}
	acct.AccessTokenEnc = update.AccessTokenEnc
	if update.RefreshTokenEnc != "" {
		acct.RefreshTokenEnc = update.RefreshTokenEnc
	}
	acct.ExpiresAt = update.ExpiresAt
	acct.UpdatedAt = s.now()
	return nil
}

// GetPreferences implements scheduler.PreferenceStore.
func (s *Store) GetPreferences(_ context.Context, ownerID string) (*scheduler.PostingPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, ok := s.preferences[ownerID]
	if !ok {
		return nil, nil
	}
	c := *prefs
	return &c, nil
}

// SavePreferences replaces an owner's preferences.
func (s *Store) SavePreferences(_ context.Context, ownerID string, prefs *scheduler.PostingPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *prefs
	s.preferences[ownerID] = &c
	return nil
}

func countKey(ownerID, dayKey string) string {
	return ownerID + "|" + dayKey
}

// Increment implements scheduler.CounterStore.
func (s *Store) Increment(_ context.Context, ownerID, dayKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := countKey(ownerID, dayKey)
	s.counts[k]++
	return s.counts[k], nil
}

// Count implements scheduler.CounterStore.
func (s *Store) Count(_ context.Context, ownerID, dayKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counts[countKey(ownerID, dayKey)], nil
}
