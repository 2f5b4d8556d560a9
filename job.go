package scheduler

import "time"

// Status is the lifecycle state of a scheduled job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusPosting   Status = "posting"
	StatusPosted    Status = "posted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Selectable reports whether a job in this status may be picked up by a poll.
func (s Status) Selectable() bool {
	return s == StatusPending || s == StatusFailed
}

// Terminal reports whether no further transitions are expected.
// Failed jobs become effectively terminal once their attempts are exhausted,
// which is a property of the job and not of the status alone.
func (s Status) Terminal() bool {
	return s == StatusPosted || s == StatusCancelled
}

// Repeat is the recurrence policy of a job.
type Repeat string

const (
	RepeatNone  Repeat = "none"
	RepeatDaily Repeat = "daily"
)

// Job is a post scheduled for future delivery on behalf of one account.
type Job struct {
	// ID is the store-assigned identifier (hex ObjectID for MongoDB).
	ID string

	// UserID is the local user reference, OwnerID the external platform user id.
	UserID  string
	OwnerID string

	// Text is the literal post. When empty and GenerateWithAI is set, the text
	// is generated at send time from AIPrompt or the owner's preferences.
	Text           string
	AIPrompt       string
	GenerateWithAI bool

	// ScheduledAt is the absolute instant the job becomes eligible.
	// Timezone is only used to evaluate windows, quotas and recurrence.
	ScheduledAt time.Time
	Timezone    string

	Repeat Repeat
	Status Status

	// Attempts counts claims that did not end in a successful send.
	Attempts    int
	MaxAttempts int
	LastError   string

	// ClaimedBy and ClaimedAt are stamped by the claim that moved the job to queued.
	ClaimedBy string
	ClaimedAt *time.Time

	PostedAt *time.Time
	Response map[string]interface{}
	Meta     Meta

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Meta is the audit snapshot stored with a job at creation time.
type Meta struct {
	CreatedBy   string
	Preferences *PostingPreferences
}

// Eligible reports whether the job may be selected by a poll at now.
func (j *Job) Eligible(now time.Time) bool {
	return j.Status.Selectable() && !j.ScheduledAt.After(now) && j.Attempts < j.MaxAttempts
}

// Successor returns the pending job that follows a successful daily send.
func (j *Job) Successor(scheduledAt time.Time, defaultMaxAttempts int) *Job {
	maxAttempts := j.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Job{
		UserID:         j.UserID,
		OwnerID:        j.OwnerID,
		Text:           j.Text,
		AIPrompt:       j.AIPrompt,
		GenerateWithAI: j.GenerateWithAI,
		ScheduledAt:    scheduledAt,
		Timezone:       j.Timezone,
		Repeat:         j.Repeat,
		Status:         StatusPending,
		Attempts:       0,
		MaxAttempts:    maxAttempts,
		Meta: Meta{
			CreatedBy:   "scheduler/recurrence",
			Preferences: j.Meta.Preferences,
		},
	}
}

// Account holds the encrypted OAuth material of one external identity.
type Account struct {
	OwnerID  string
	UserID   string
	Username string

	AccessTokenEnc  string
	RefreshTokenEnc string
	// ExpiresAt is nil when the provider did not report an expiry.
	ExpiresAt *time.Time

	UpdatedAt time.Time
}

// TokenUpdate is written back after a successful refresh.
// An empty RefreshTokenEnc leaves the stored refresh token untouched.
type TokenUpdate struct {
	AccessTokenEnc  string
	RefreshTokenEnc string
	ExpiresAt       *time.Time
}

// Window is a local time-of-day interval in HH:MM form. End before Start wraps midnight.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PostingPreferences is the per-user configuration read at dispatch time.
type PostingPreferences struct {
	Windows []Window
	// DailyLimit is nil for unlimited.
	DailyLimit *int
	Tone       string
	Topics     []string
	Timezone   string
}
