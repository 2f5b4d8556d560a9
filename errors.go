package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a document does not exist.
	ErrNotFound = errors.New("not found")

	ErrEmptyText       = errors.New("empty text")
	ErrNoAccount       = errors.New("no account")
	ErrNoAccessToken   = errors.New("no access token")
	ErrInvalidWindow   = errors.New("invalid window")
	ErrMissingStore    = errors.New("store is required")
	ErrMissingPoster   = errors.New("poster is required")
	ErrMissingVault    = errors.New("vault is required")
	ErrGeneratorAbsent = errors.New("text generation is not configured")
)

// Reasons recorded in a job's lastError.
const (
	ReasonEmptyText        = "empty_text"
	ReasonAIError          = "ai_error"
	ReasonNoAccount        = "no_account"
	ReasonNoAccessToken    = "no_access_token"
	ReasonPostError        = "post_error"
	ReasonDailyLimit       = "daily_limit_postponed"
	ReasonOutsideWindow    = "outside_window_postponed"
	ReasonClaimExpired     = "claim_expired"
	ReasonUnexpectedFailed = "unexpected_error"
)

// GenerationError wraps a failure of the text-generation capability.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return ReasonAIError + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// SendError reports a failed external send. StatusCode is 0 when no
// response was received.
type SendError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ReasonPostError, e.Err)
	}
	return fmt.Sprintf("%s: %d %s", ReasonPostError, e.StatusCode, e.Body)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// failureReason maps a pipeline error to the lastError recorded on the job.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyText):
		return ReasonEmptyText
	case errors.Is(err, ErrNoAccount):
		return ReasonNoAccount
	case errors.Is(err, ErrNoAccessToken):
		return ReasonNoAccessToken
	}
	return err.Error()
}
