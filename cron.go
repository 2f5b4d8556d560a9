package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPollInterval is used when neither an interval nor a schedule is configured.
const DefaultPollInterval = 60 * time.Second

// pollSchedule returns the cadence of the dispatch loop.
// A non-empty spec wins over interval. Specs accept an optional seconds field
// and descriptors such as "@every 30s".
func pollSchedule(spec string, interval time.Duration) (cron.Schedule, error) {
	if spec != "" {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		schedule, err := parser.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid poll schedule %q: %w", spec, err)
		}
		return schedule, nil
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return cron.Every(interval), nil
}

// retryAt calculates when a failed job becomes eligible again.
// Returns nil when backoff is disabled, meaning retry on the next poll.
// attempts is the count after the failure was recorded.
func retryAt(now time.Time, base time.Duration, attempts int) *time.Time {
	if base <= 0 {
		return nil
	}
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 16 {
		shift = 16
	}
	next := now.Add(base * time.Duration(1<<shift))
	return &next
}
