package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequiredEnv sets the variables without defaults.
// It uses t.Setenv so values are cleaned up after the test.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("ENCRYPTION_KEY", "test-encryption-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "xaisync", cfg.Mongo.Database)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.PollInterval())
	assert.Equal(t, 20, cfg.Scheduler.PollLimit)
	assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.Scheduler.RetryBackoff())
	assert.Equal(t, 1, cfg.Scheduler.Concurrency)
	assert.Equal(t, "consume", cfg.Scheduler.DeferralPolicy)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.ClaimTimeout())
	assert.Equal(t, "https://api.twitter.com", cfg.X.APIBaseURL)
	assert.Equal(t, 15*time.Second, cfg.X.HTTPTimeout())
	assert.False(t, cfg.X.RefreshEnabled())
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SCHEDULER_POLL_INTERVAL", "5")
	t.Setenv("SCHEDULER_RETRY_BACKOFF", "30")
	t.Setenv("SCHEDULER_DEFERRAL_POLICY", "free")
	t.Setenv("SCHEDULER_CLAIM_TIMEOUT", "0")
	t.Setenv("X_CLIENT_ID", "client")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.RetryBackoff())
	assert.Equal(t, "free", cfg.Scheduler.DeferralPolicy)
	assert.Less(t, cfg.Scheduler.ClaimTimeout(), time.Duration(0))
	assert.True(t, cfg.X.RefreshEnabled())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		wantType ConfigErrorType
	}{
		{
			name:     "missing mongo uri",
			env:      map[string]string{"MONGO_URI": "", "ENCRYPTION_KEY": "k"},
			wantType: ErrValidation,
		},
		{
			name:     "missing encryption key",
			env:      map[string]string{"MONGO_URI": "mongodb://x", "ENCRYPTION_KEY": ""},
			wantType: ErrValidation,
		},
		{
			name:     "bad deferral policy",
			env:      map[string]string{"SCHEDULER_DEFERRAL_POLICY": "sometimes"},
			wantType: ErrValidation,
		},
		{
			name:     "non numeric interval",
			env:      map[string]string{"SCHEDULER_POLL_INTERVAL": "soon"},
			wantType: ErrParsing,
		},
		{
			name:     "zero concurrency",
			env:      map[string]string{"SCHEDULER_CONCURRENCY": "0"},
			wantType: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantType, cfgErr.Type)
		})
	}
}
