// Package app wires configuration into the stores, clients and dispatch loop
// shared by the worker and API processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	scheduler "github.com/DEEJ4Y/postscheduler"
	"github.com/DEEJ4Y/postscheduler/config"
	"github.com/DEEJ4Y/postscheduler/generate"
	"github.com/DEEJ4Y/postscheduler/mongodb"
	"github.com/DEEJ4Y/postscheduler/platform"
	"github.com/DEEJ4Y/postscheduler/vault"
)

const userAgent = "postscheduler/1.0"

// App holds the long-lived components of a process.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Conn      *mongodb.Connection
	Stores    *mongodb.Stores
	Generator scheduler.Generator
	Poster    scheduler.Poster
	Tokens    *scheduler.TokenRefresher
	Scheduler *scheduler.Scheduler
}

// NewLogger returns the JSON logger used by every process.
func NewLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// New connects to MongoDB, ensures indexes and builds the scheduler.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn := mongodb.NewConnection(cfg.Mongo.URI, cfg.Mongo.Database)
	stores, err := conn.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open mongodb: %w", err)
	}
	if err := stores.EnsureIndexes(ctx); err != nil {
		_ = conn.Disconnect(context.Background())
		return nil, err
	}

	v, err := vault.New(cfg.Security.EncryptionKey)
	if err != nil {
		_ = conn.Disconnect(context.Background())
		return nil, err
	}

	httpClient := platform.NewHTTPClient("x-api", cfg.X.HTTPTimeout(), userAgent)
	poster := platform.NewPoster(httpClient, cfg.X.APIBaseURL)

	var exchanger scheduler.TokenExchanger
	if cfg.X.RefreshEnabled() {
		exchanger = platform.NewOAuthRefresher(platform.OAuthConfig{
			TokenURL:     cfg.X.TokenURL,
			ClientID:     cfg.X.ClientID,
			ClientSecret: cfg.X.ClientSecret,
		}, platform.NewHTTPClient("x-oauth", cfg.X.HTTPTimeout(), userAgent))
	} else {
		logger.Warn("X_CLIENT_ID not set, expired tokens will not be refreshed")
	}

	var generator scheduler.Generator
	gen, err := generate.NewOpenAI(generate.Config{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		BaseURL: cfg.OpenAI.BaseURL,
	})
	switch {
	case errors.Is(err, generate.ErrMissingAPIKey):
		logger.Warn("OPENAI_API_KEY not set, AI generation disabled")
	case err != nil:
		_ = conn.Disconnect(context.Background())
		return nil, err
	default:
		generator = gen
	}

	sched, err := scheduler.New(scheduler.Config{
		Jobs:           stores.Jobs,
		Accounts:       stores.Accounts,
		Preferences:    stores.Users,
		Counters:       stores.Counts,
		Vault:          v,
		Poster:         poster,
		Generator:      generator,
		Exchanger:      exchanger,
		Logger:         logger,
		PollInterval:   cfg.Scheduler.PollInterval(),
		PollSchedule:   cfg.Scheduler.PollSchedule,
		ClaimTimeout:   cfg.Scheduler.ClaimTimeout(),
		RetryBackoff:   cfg.Scheduler.RetryBackoff(),
		BatchSize:      cfg.Scheduler.PollLimit,
		MaxAttempts:    cfg.Scheduler.MaxRetries,
		Concurrency:    cfg.Scheduler.Concurrency,
		DeferralPolicy: scheduler.DeferralPolicy(cfg.Scheduler.DeferralPolicy),
		OnPoll: func(ctx context.Context, stats scheduler.PollStats) {
			if stats.Released > 0 {
				logger.Warn("released stale claims", "count", stats.Released)
			}
		},
	})
	if err != nil {
		_ = conn.Disconnect(context.Background())
		return nil, err
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Conn:      conn,
		Stores:    stores,
		Generator: generator,
		Poster:    poster,
		Tokens:    scheduler.NewTokenRefresher(stores.Accounts, v, exchanger, 0, logger),
		Scheduler: sched,
	}, nil
}

// Close disconnects from MongoDB.
func (a *App) Close(ctx context.Context) error {
	return a.Conn.Disconnect(ctx)
}
