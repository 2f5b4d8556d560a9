package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// DeferralPolicy controls whether a constraint deferral consumes a retry attempt.
type DeferralPolicy string

const (
	// DeferralConsumesAttempt bounds repeated deferrals by the attempt ceiling.
	DeferralConsumesAttempt DeferralPolicy = "consume"
	// DeferralFree leaves attempts untouched on deferral.
	DeferralFree DeferralPolicy = "free"
)

// Config holds the configuration for a Scheduler.
type Config struct {
	// Stores. Jobs, Accounts and Counters are required.
	Jobs        JobStore
	Accounts    AccountStore
	Preferences PreferenceStore
	Counters    CounterStore

	// Collaborators. Vault and Poster are required; without Generator only
	// literal text can be sent, without Exchanger expired tokens are not refreshed.
	Vault     Vault
	Poster    Poster
	Generator Generator
	Exchanger TokenExchanger

	Logger *slog.Logger

	// Event Handlers (all optional)

	// OnStart is called when the scheduler starts.
	OnStart func(ctx context.Context) error

	// OnStop is called when the scheduler stops.
	OnStop func(ctx context.Context) error

	// OnIdle is called once when a poll finds no due jobs after one that did.
	OnIdle func(ctx context.Context) error

	// OnPoll is called after every poll with its statistics.
	OnPoll func(ctx context.Context, stats PollStats)

	// OnError is called for errors that do not belong to a single job outcome,
	// such as a store failure while recording a result.
	OnError func(ctx context.Context, err error)

	// Timing Configuration

	// PollInterval is the delay between polls. Default: 60s.
	PollInterval time.Duration

	// PollSchedule is an optional cron spec that replaces PollInterval.
	PollSchedule string

	// ClaimTimeout is how long a job may sit in queued before a poll releases it.
	// If a worker crashes after claiming, the job becomes available again.
	// Default: 10 minutes. Negative disables release.
	ClaimTimeout time.Duration

	// RetryBackoff is the base delay before a failed job is retried, doubled per
	// attempt. Zero retries on the next poll.
	RetryBackoff time.Duration

	// Dispatch Configuration

	// BatchSize bounds the jobs selected per poll. Default: 20.
	BatchSize int

	// MaxAttempts is applied to successors created without a ceiling. Default: 3.
	MaxAttempts int

	// Concurrency is the number of claimed jobs processed in parallel. Default: 1.
	Concurrency int

	// DeferralPolicy defaults to DeferralConsumesAttempt.
	DeferralPolicy DeferralPolicy

	// ExpiryMargin is passed to the token refresher. Default: 5s.
	ExpiryMargin time.Duration

	// MaxPostLength bounds generated text. Default: 280.
	MaxPostLength int

	// WorkerID is stamped on claims. Default: a random UUID.
	WorkerID string

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// PollStats summarizes one poll.
type PollStats struct {
	Selected int `json:"selected"`
	Claimed  int `json:"claimed"`
	Skipped  int `json:"skipped"`
	Deferred int `json:"deferred"`
	Failed   int `json:"failed"`
	Posted   int `json:"posted"`
	Released int `json:"released"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDeferred
	outcomeFailed
	outcomePosted
)

func (s *PollStats) record(o outcome) {
	if o == outcomeSkipped {
		s.Skipped++
		return
	}
	s.Claimed++
	switch o {
	case outcomeDeferred:
		s.Deferred++
	case outcomeFailed:
		s.Failed++
	case outcomePosted:
		s.Posted++
	}
}

// Scheduler polls the job store and dispatches due posts.
type Scheduler struct {
	config   Config
	schedule cron.Schedule
	engine   *ConstraintEngine
	content  *ContentResolver
	tokens   *TokenRefresher
	logger   *slog.Logger
	now      func() time.Time

	// State tracking
	running    atomic.Bool
	processing atomic.Bool
	idle       atomic.Bool

	// Lifecycle management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a new Scheduler with the given configuration.
// Returns an error if the configuration is invalid.
func New(config Config) (*Scheduler, error) {
	if config.Jobs == nil || config.Accounts == nil || config.Counters == nil {
		return nil, ErrMissingStore
	}
	if config.Poster == nil {
		return nil, ErrMissingPoster
	}
	if config.Vault == nil {
		return nil, ErrMissingVault
	}

	// Set defaults
	if config.ClaimTimeout == 0 {
		config.ClaimTimeout = 10 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.DeferralPolicy == "" {
		config.DeferralPolicy = DeferralConsumesAttempt
	}
	if config.WorkerID == "" {
		config.WorkerID = uuid.NewString()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	schedule, err := pollSchedule(config.PollSchedule, config.PollInterval)
	if err != nil {
		return nil, err
	}

	logger := config.Logger.With("worker", config.WorkerID)
	tokens := NewTokenRefresher(config.Accounts, config.Vault, config.Exchanger, config.ExpiryMargin, logger)
	tokens.now = config.Now

	return &Scheduler{
		config:   config,
		schedule: schedule,
		engine:   NewConstraintEngine(config.Counters),
		content:  NewContentResolver(config.Generator, config.MaxPostLength),
		tokens:   tokens,
		logger:   logger,
		now:      config.Now,
	}, nil
}

// Start verifies the store connection and begins polling.
// It's safe to call Start multiple times; subsequent calls are no-ops.
// The scheduler runs until Stop is called or the context is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	// Only start once
	if s.running.Swap(true) {
		return nil
	}

	// An unreachable store at startup is fatal for the caller.
	if p, ok := s.config.Jobs.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			s.running.Store(false)
			return fmt.Errorf("job store unavailable: %w", err)
		}
	}

	// Create a new context for this run
	s.ctx, s.cancel = context.WithCancel(ctx)

	// Call OnStart handler
	if s.config.OnStart != nil {
		if err := s.config.OnStart(s.ctx); err != nil {
			s.running.Store(false)
			s.cancel()
			return fmt.Errorf("OnStart handler failed: %w", err)
		}
	}

	s.logger.Info("scheduler started", "batch_size", s.config.BatchSize, "concurrency", s.config.Concurrency)

	// Start the processing loop
	s.wg.Add(1)
	go s.run()

	return nil
}

// Stop gracefully stops the scheduler.
// It waits for the current poll to finish before returning.
// It's safe to call Stop multiple times.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		// Signal shutdown
		s.running.Store(false)
		if s.cancel != nil {
			s.cancel()
		}

		// Wait for processing to complete
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			// Clean shutdown
		case <-ctx.Done():
			err = ctx.Err()
			return
		}

		// Call OnStop handler
		if s.config.OnStop != nil {
			if stopErr := s.config.OnStop(context.Background()); stopErr != nil && err == nil {
				err = fmt.Errorf("OnStop handler failed: %w", stopErr)
			}
		}
		s.logger.Info("scheduler stopped")
	})
	return err
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// IsProcessing returns true if a poll is in progress.
func (s *Scheduler) IsProcessing() bool {
	return s.processing.Load()
}

// IsIdle returns true if the last poll found no due jobs.
func (s *Scheduler) IsIdle() bool {
	return s.idle.Load()
}

// run is the main polling loop.
func (s *Scheduler) run() {
	defer s.wg.Done()

	for s.running.Load() {
		s.tick()

		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// tick runs one poll and tracks idle transitions.
func (s *Scheduler) tick() {
	s.processing.Store(true)
	defer s.processing.Store(false)

	stats, err := s.PollOnce(s.ctx)
	if err != nil {
		s.handleError(s.ctx, err)
		return
	}

	if stats.Selected > 0 {
		s.idle.Store(false)
		return
	}
	// Trigger OnIdle only once when transitioning to idle state
	if !s.idle.Swap(true) && s.config.OnIdle != nil {
		if err := s.config.OnIdle(s.ctx); err != nil {
			s.handleError(s.ctx, fmt.Errorf("OnIdle handler failed: %w", err))
		}
	}
}

// PollOnce selects a batch of due jobs, claims each and runs its pipeline.
// Only a failure to query the store is returned; per-job failures are
// recorded on the jobs themselves.
func (s *Scheduler) PollOnce(ctx context.Context) (PollStats, error) {
	var stats PollStats
	now := s.now()

	if s.config.ClaimTimeout > 0 {
		released, err := s.config.Jobs.ReleaseStale(ctx, now.Add(-s.config.ClaimTimeout))
		if err != nil {
			s.handleError(ctx, fmt.Errorf("release stale claims: %w", err))
		}
		stats.Released = released
	}

	due, err := s.config.Jobs.FindDue(ctx, now, s.config.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("find due jobs: %w", err)
	}
	stats.Selected = len(due)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.config.Concurrency)
	// One owner's jobs run in order so the daily count and a rotating refresh
	// token are never read by two of its jobs at once.
	for _, jobs := range groupByOwner(due) {
		jobs := jobs
		g.Go(func() error {
			for _, job := range jobs {
				if ctx.Err() != nil {
					return nil
				}
				o := s.dispatch(ctx, job)
				mu.Lock()
				stats.record(o)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if stats.Selected > 0 {
		s.logger.Info("poll complete",
			"selected", stats.Selected,
			"claimed", stats.Claimed,
			"posted", stats.Posted,
			"deferred", stats.Deferred,
			"failed", stats.Failed,
		)
	}
	if s.config.OnPoll != nil {
		s.config.OnPoll(ctx, stats)
	}
	return stats, nil
}

// groupByOwner splits due jobs per owner, keeping selection order.
func groupByOwner(due []*Job) [][]*Job {
	index := make(map[string]int)
	var groups [][]*Job
	for _, job := range due {
		i, ok := index[job.OwnerID]
		if !ok {
			i = len(groups)
			index[job.OwnerID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], job)
	}
	return groups
}

// dispatch claims job and, when the claim wins, drives it to an outcome.
func (s *Scheduler) dispatch(ctx context.Context, job *Job) outcome {
	log := s.logger.With("job_id", job.ID, "owner", job.OwnerID)

	claimed, err := s.config.Jobs.Claim(ctx, job.ID, job.Status, s.config.WorkerID, s.now())
	if err != nil {
		s.handleError(ctx, fmt.Errorf("claim job %s: %w", job.ID, err))
		return outcomeSkipped
	}
	if !claimed {
		log.Debug("job already claimed, skipping")
		return outcomeSkipped
	}

	// A claimed job runs to an outcome even when the scheduler is stopping;
	// the clients' own timeouts still bound each call.
	ctx = context.WithoutCancel(ctx)

	o, err := s.process(ctx, job, log)
	if err != nil {
		s.fail(ctx, job, failureReason(err), log)
		return outcomeFailed
	}
	return o
}

// process runs the pipeline for a claimed job. A returned error means the
// attempt failed and has not been recorded yet.
func (s *Scheduler) process(ctx context.Context, job *Job, log *slog.Logger) (o outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", ReasonUnexpectedFailed, r)
		}
	}()

	prefs, err := s.preferences(ctx, job)
	if err != nil {
		return outcomeFailed, err
	}
	var prefZone string
	if prefs != nil {
		prefZone = prefs.Timezone
	}
	loc := ResolveLocation(job.Timezone, prefZone)

	decision, err := s.engine.Evaluate(ctx, job, prefs, loc)
	if err != nil {
		return outcomeFailed, err
	}
	if !decision.Fire {
		consume := s.config.DeferralPolicy != DeferralFree
		if err := s.config.Jobs.Defer(ctx, job.ID, decision.NextAt, decision.Reason, consume); err != nil {
			return outcomeFailed, fmt.Errorf("defer job: %w", err)
		}
		log.Info("job deferred", "reason", decision.Reason, "next_at", decision.NextAt)
		return outcomeDeferred, nil
	}

	text, err := s.content.Resolve(ctx, job, prefs)
	if err != nil {
		return outcomeFailed, err
	}

	acct, err := s.config.Accounts.GetAccount(ctx, job.OwnerID)
	if errors.Is(err, ErrNotFound) {
		return outcomeFailed, ErrNoAccount
	}
	if err != nil {
		return outcomeFailed, fmt.Errorf("load account: %w", err)
	}
	token, ok := s.tokens.AccessToken(ctx, acct)
	if !ok {
		return outcomeFailed, ErrNoAccessToken
	}

	if err := s.config.Jobs.MarkPosting(ctx, job.ID); err != nil {
		return outcomeFailed, fmt.Errorf("mark posting: %w", err)
	}
	res, err := s.config.Poster.Post(ctx, token, text)
	if err != nil {
		return outcomeFailed, &SendError{Err: err}
	}
	if !res.Success {
		return outcomeFailed, &SendError{StatusCode: res.StatusCode, Body: string(res.Body)}
	}

	s.complete(ctx, job, res, loc, log)
	return outcomePosted, nil
}

// preferences returns live preferences, falling back to the creation snapshot.
func (s *Scheduler) preferences(ctx context.Context, job *Job) (*PostingPreferences, error) {
	if s.config.Preferences != nil {
		prefs, err := s.config.Preferences.GetPreferences(ctx, job.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("load preferences: %w", err)
		}
		if prefs != nil {
			return prefs, nil
		}
	}
	return job.Meta.Preferences, nil
}

// complete records a successful send. The post is already out, so errors here
// are reported but never turn the job into a failure.
func (s *Scheduler) complete(ctx context.Context, job *Job, res *PostResult, loc *time.Location, log *slog.Logger) {
	postedAt := s.now()
	if err := s.config.Jobs.MarkPosted(ctx, job.ID, postedAt, decodeResponse(res.Body)); err != nil {
		s.handleError(ctx, fmt.Errorf("mark job %s posted: %w", job.ID, err))
	}

	dayKey := DayKey(postedAt, loc)
	count, err := s.config.Counters.Increment(ctx, job.OwnerID, dayKey)
	if err != nil {
		s.handleError(ctx, fmt.Errorf("increment daily count %s/%s: %w", job.OwnerID, dayKey, err))
	}
	log.Info("job posted", "day", dayKey, "daily_count", count)

	if job.Repeat != RepeatDaily {
		return
	}
	next := job.Successor(NextOccurrence(job, loc), s.config.MaxAttempts)
	id, err := s.config.Jobs.Create(ctx, next)
	if err != nil {
		s.handleError(ctx, fmt.Errorf("create daily successor of %s: %w", job.ID, err))
		return
	}
	log.Info("daily successor scheduled", "next_id", id, "scheduled_at", next.ScheduledAt)
}

// fail records a failed attempt.
func (s *Scheduler) fail(ctx context.Context, job *Job, reason string, log *slog.Logger) {
	retry := retryAt(s.now(), s.config.RetryBackoff, job.Attempts+1)
	if err := s.config.Jobs.MarkFailed(ctx, job.ID, reason, retry); err != nil {
		s.handleError(ctx, fmt.Errorf("mark job %s failed: %w", job.ID, err))
		return
	}
	log.Warn("job attempt failed", "reason", reason, "attempts", job.Attempts+1)
}

// decodeResponse keeps JSON object bodies as documents and anything else raw.
func decodeResponse(body []byte) map[string]interface{} {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err == nil && doc != nil {
		return doc
	}
	return map[string]interface{}{"raw": string(body)}
}

// handleError calls the OnError handler if configured, and logs otherwise.
func (s *Scheduler) handleError(ctx context.Context, err error) {
	if s.config.OnError != nil {
		s.config.OnError(ctx, err)
		return
	}
	s.logger.Error("scheduler error", "error", err)
}
