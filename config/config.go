// Package config loads process configuration from the environment.
//
// Values are resolved in priority order:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// A missing required value or an invalid format is returned as a *ConfigError
// so that mains can fail fast.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the top-level configuration for the worker and API processes.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Mongo     MongoConfig
	Security  SecurityConfig
	Scheduler SchedulerConfig
	X         XConfig
	OpenAI    OpenAIConfig
	HTTP      HTTPConfig
}

// MongoConfig holds the database location.
type MongoConfig struct {
	URI      string `envconfig:"MONGO_URI" validate:"required"`
	Database string `envconfig:"MONGO_DB_NAME" default:"xaisync"`
}

// SecurityConfig holds secrets shared with the web application.
type SecurityConfig struct {
	EncryptionKey string `envconfig:"ENCRYPTION_KEY" validate:"required"`
	JWTSecret     string `envconfig:"JWT_SECRET"`
	TriggerToken  string `envconfig:"SCHEDULER_TRIGGER_TOKEN"`
}

// SchedulerConfig tunes the dispatch loop. Durations are whole seconds.
type SchedulerConfig struct {
	PollIntervalSeconds int    `envconfig:"SCHEDULER_POLL_INTERVAL" default:"60" validate:"gte=1"`
	PollSchedule        string `envconfig:"SCHEDULER_POLL_SCHEDULE"`
	PollLimit           int    `envconfig:"SCHEDULER_POLL_LIMIT" default:"20" validate:"gte=1"`
	MaxRetries          int    `envconfig:"SCHEDULER_MAX_RETRIES" default:"3" validate:"gte=1"`
	RetryBackoffSeconds int    `envconfig:"SCHEDULER_RETRY_BACKOFF" default:"0" validate:"gte=0"`
	Concurrency         int    `envconfig:"SCHEDULER_CONCURRENCY" default:"1" validate:"gte=1"`
	DeferralPolicy      string `envconfig:"SCHEDULER_DEFERRAL_POLICY" default:"consume" validate:"oneof=consume free"`
	ClaimTimeoutSeconds int    `envconfig:"SCHEDULER_CLAIM_TIMEOUT" default:"600"`
}

// PollInterval returns the delay between polls.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RetryBackoff returns the base retry delay. Zero retries on the next poll.
func (c SchedulerConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// ClaimTimeout returns how long a claim may sit in queued. A non-positive
// setting disables release.
func (c SchedulerConfig) ClaimTimeout() time.Duration {
	if c.ClaimTimeoutSeconds <= 0 {
		return -1
	}
	return time.Duration(c.ClaimTimeoutSeconds) * time.Second
}

// XConfig holds the social platform client settings.
type XConfig struct {
	TokenURL           string `envconfig:"X_OAUTH_TOKEN_URL" validate:"omitempty,url"`
	ClientID           string `envconfig:"X_CLIENT_ID"`
	ClientSecret       string `envconfig:"X_CLIENT_SECRET"`
	APIBaseURL         string `envconfig:"X_API_BASE_URL" default:"https://api.twitter.com" validate:"url"`
	HTTPTimeoutSeconds int    `envconfig:"HTTP_TIMEOUT" default:"15" validate:"gte=1"`
}

// HTTPTimeout returns the timeout applied to outbound platform calls.
func (c XConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// RefreshEnabled reports whether expired tokens can be refreshed.
func (c XConfig) RefreshEnabled() bool {
	return c.ClientID != ""
}

// OpenAIConfig configures text generation. An empty key disables it.
type OpenAIConfig struct {
	APIKey  string `envconfig:"OPENAI_API_KEY"`
	Model   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	BaseURL string `envconfig:"OPENAI_BASE_URL" validate:"omitempty,url"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `envconfig:"HTTP_ADDR" default:":8080"`
}

// ConfigErrorType classifies a configuration failure.
type ConfigErrorType string

const (
	ErrParsing    ConfigErrorType = "parsing"
	ErrValidation ConfigErrorType = "validation"
)

// ConfigError wraps a loading failure with its stage.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load() (*Config, error) {
	// godotenv does not override variables that are already set.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return &cfg, nil
}

// SlogLevel maps LOG_LEVEL to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
