package scheduler

import (
	"context"
	"time"
)

// JobStore defines the persistence operations the dispatch loop needs.
//
// Implementations must make Claim atomic: the transition to queued succeeds
// only if the job's status still equals the status observed at selection.
// This is the only concurrency guarantee the scheduler relies on.
type JobStore interface {
	// FindDue returns up to limit jobs that are eligible at now: status pending
	// or failed, scheduledAt <= now and attempts < maxAttempts.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// Claim moves the job from observed to queued and stamps the claim.
	// It returns false, without error, when the status no longer matches.
	Claim(ctx context.Context, id string, observed Status, claimedBy string, at time.Time) (bool, error)

	// ReleaseStale returns queued jobs claimed before cutoff to pending.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)

	// Defer returns the job to pending at scheduledAt with reason as lastError.
	Defer(ctx context.Context, id string, scheduledAt time.Time, reason string, consumeAttempt bool) error

	// MarkPosting records that the external send is in progress.
	MarkPosting(ctx context.Context, id string) error

	// MarkFailed sets status failed, increments attempts and records reason.
	// A non-nil retryAt also moves scheduledAt.
	MarkFailed(ctx context.Context, id string, reason string, retryAt *time.Time) error

	// MarkPosted records a successful send.
	MarkPosted(ctx context.Context, id string, postedAt time.Time, response map[string]interface{}) error

	// Create inserts a new job and returns its id.
	Create(ctx context.Context, job *Job) (string, error)
}

// AccountStore gives access to OAuth material.
type AccountStore interface {
	// GetAccount returns ErrNotFound when the owner has no account.
	GetAccount(ctx context.Context, ownerID string) (*Account, error)
	UpdateTokens(ctx context.Context, ownerID string, update TokenUpdate) error
}

// PreferenceStore returns live posting preferences.
type PreferenceStore interface {
	// GetPreferences returns nil, nil when the owner has none.
	GetPreferences(ctx context.Context, ownerID string) (*PostingPreferences, error)
}

// CounterStore keeps per-owner, per-day send counts.
// Counts are only ever incremented; the day key is fixed by the caller.
type CounterStore interface {
	// Increment atomically adds one, creating the row at 1 on first use.
	Increment(ctx context.Context, ownerID, dayKey string) (int, error)
	// Count returns 0 when no row exists.
	Count(ctx context.Context, ownerID, dayKey string) (int, error)
}

// Vault encrypts OAuth tokens at rest.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Generator produces post text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// PostResult is the outcome of an external send.
type PostResult struct {
	Success    bool
	StatusCode int
	Body       []byte
}

// Poster publishes text on behalf of an access token.
// A non-2xx reply is reported through PostResult, not as an error.
type Poster interface {
	Post(ctx context.Context, accessToken, text string) (*PostResult, error)
}

// TokenGrant is the result of a refresh-token exchange.
// RefreshToken is empty when the provider did not rotate it.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenExchanger trades a refresh token for new credentials.
type TokenExchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)
}

// Pinger is implemented by stores that can verify their backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}
