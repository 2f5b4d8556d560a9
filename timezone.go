package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

const dayKeyLayout = "2006-01-02"

// ResolveLocation returns the first zone name that loads, or UTC.
func ResolveLocation(names ...string) *time.Location {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// DayKey formats the calendar day of t in loc as YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayKeyLayout)
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: hour in %q", ErrInvalidWindow, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: minute in %q", ErrInvalidWindow, s)
	}
	return h*60 + m, nil
}

// minuteOfDay returns the local wall-clock minute of t in loc.
func minuteOfDay(t time.Time, loc *time.Location) int {
	local := t.In(loc)
	return local.Hour()*60 + local.Minute()
}

// atMinute returns the instant at minute-of-day on the local calendar day of t,
// shifted by days calendar days. The date is derived in loc, not in t's zone.
func atMinute(t time.Time, loc *time.Location, minute, days int) time.Time {
	day := now.With(now.With(t.In(loc)).BeginningOfDay().AddDate(0, 0, days))
	return day.MustParse(fmt.Sprintf("%02d:%02d", minute/60, minute%60))
}

// NextOccurrence returns the scheduled instant of the daily successor of job:
// one calendar day later at the same wall-clock time in loc.
func NextOccurrence(job *Job, loc *time.Location) time.Time {
	return job.ScheduledAt.In(loc).AddDate(0, 0, 1)
}
