package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Decision is the outcome of evaluating a due job against its owner's constraints.
type Decision struct {
	// Fire is true when the job may be sent now.
	Fire bool
	// Reason and NextAt are set when the job is deferred.
	Reason string
	NextAt time.Time
}

// ConstraintEngine applies daily quotas and posting windows.
type ConstraintEngine struct {
	counters CounterStore
}

// NewConstraintEngine creates an engine reading daily counts from counters.
func NewConstraintEngine(counters CounterStore) *ConstraintEngine {
	return &ConstraintEngine{counters: counters}
}

// clockWindow is a parsed Window in minutes after midnight.
type clockWindow struct {
	start, end int
}

func (w clockWindow) contains(mins int) bool {
	if w.end >= w.start {
		return mins >= w.start && mins <= w.end
	}
	// wraps midnight
	return mins >= w.start || mins <= w.end
}

// parseWindows drops malformed entries; an all-malformed list is unconstrained.
func parseWindows(windows []Window) []clockWindow {
	out := make([]clockWindow, 0, len(windows))
	for _, w := range windows {
		start, err := ParseClock(w.Start)
		if err != nil {
			continue
		}
		end, err := ParseClock(w.End)
		if err != nil {
			continue
		}
		out = append(out, clockWindow{start: start, end: end})
	}
	return out
}

// Evaluate decides whether job may fire now. The daily limit is checked first;
// windows are only consulted when the quota allows the send.
func (e *ConstraintEngine) Evaluate(ctx context.Context, job *Job, prefs *PostingPreferences, loc *time.Location) (Decision, error) {
	if prefs == nil {
		return Decision{Fire: true}, nil
	}
	windows := parseWindows(prefs.Windows)

	if prefs.DailyLimit != nil {
		dayKey := DayKey(job.ScheduledAt, loc)
		count, err := e.counters.Count(ctx, job.OwnerID, dayKey)
		if err != nil {
			return Decision{}, fmt.Errorf("read daily count %s/%s: %w", job.OwnerID, dayKey, err)
		}
		if count >= *prefs.DailyLimit {
			next := job.ScheduledAt.Add(24 * time.Hour)
			if len(windows) > 0 {
				next = atMinute(job.ScheduledAt, loc, earliestStart(windows), 1)
			}
			return Decision{Reason: ReasonDailyLimit, NextAt: next}, nil
		}
	}

	if len(windows) == 0 {
		return Decision{Fire: true}, nil
	}

	mins := minuteOfDay(job.ScheduledAt, loc)
	for _, w := range windows {
		if w.contains(mins) {
			return Decision{Fire: true}, nil
		}
	}
	return Decision{Reason: ReasonOutsideWindow, NextAt: nextWindowStart(job.ScheduledAt, loc, windows, mins)}, nil
}

// nextWindowStart picks the earliest start strictly after mins on the same
// local day, else the earliest start on the following day.
func nextWindowStart(at time.Time, loc *time.Location, windows []clockWindow, mins int) time.Time {
	starts := make([]int, 0, len(windows))
	for _, w := range windows {
		starts = append(starts, w.start)
	}
	sort.Ints(starts)
	for _, s := range starts {
		if s > mins {
			return atMinute(at, loc, s, 0)
		}
	}
	return atMinute(at, loc, starts[0], 1)
}

func earliestStart(windows []clockWindow) int {
	earliest := windows[0].start
	for _, w := range windows[1:] {
		if w.start < earliest {
			earliest = w.start
		}
	}
	return earliest
}
