package scheduler

import (
	"testing"
	"time"
)

func TestPollSchedule(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("interval", func(t *testing.T) {
		schedule, err := pollSchedule("", 30*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := schedule.Next(base); !got.Equal(base.Add(30 * time.Second)) {
			t.Errorf("expected %v, got %v", base.Add(30*time.Second), got)
		}
	})

	t.Run("default interval", func(t *testing.T) {
		schedule, err := pollSchedule("", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := schedule.Next(base); !got.Equal(base.Add(DefaultPollInterval)) {
			t.Errorf("expected %v, got %v", base.Add(DefaultPollInterval), got)
		}
	})

	t.Run("cron spec with seconds wins over interval", func(t *testing.T) {
		schedule, err := pollSchedule("*/15 * * * * *", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := schedule.Next(base); !got.Equal(base.Add(15 * time.Second)) {
			t.Errorf("expected %v, got %v", base.Add(15*time.Second), got)
		}
	})

	t.Run("five field spec", func(t *testing.T) {
		schedule, err := pollSchedule("*/5 * * * *", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := schedule.Next(base); !got.Equal(base.Add(5 * time.Minute)) {
			t.Errorf("expected %v, got %v", base.Add(5*time.Minute), got)
		}
	})

	t.Run("descriptor", func(t *testing.T) {
		schedule, err := pollSchedule("@every 10s", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := schedule.Next(base); !got.Equal(base.Add(10 * time.Second)) {
			t.Errorf("expected %v, got %v", base.Add(10*time.Second), got)
		}
	})

	t.Run("invalid spec returns error", func(t *testing.T) {
		if _, err := pollSchedule("invalid cron", 0); err == nil {
			t.Error("expected error for invalid cron expression")
		}
	})
}

func TestRetryAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("disabled backoff retries next poll", func(t *testing.T) {
		if got := retryAt(now, 0, 1); got != nil {
			t.Errorf("expected nil, got %v", *got)
		}
	})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{0, time.Minute},
	}
	for _, tt := range tests {
		got := retryAt(now, time.Minute, tt.attempts)
		if got == nil {
			t.Fatalf("attempts=%d: expected a retry time", tt.attempts)
		}
		if d := got.Sub(now); d != tt.want {
			t.Errorf("attempts=%d: expected %v, got %v", tt.attempts, tt.want, d)
		}
	}

	t.Run("shift is capped", func(t *testing.T) {
		got := retryAt(now, time.Second, 100)
		if d := got.Sub(now); d != time.Second*(1<<16) {
			t.Errorf("expected capped delay, got %v", d)
		}
	})
}
