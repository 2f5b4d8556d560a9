// Command api serves the scheduler HTTP API. With -worker it also runs the
// dispatch loop in-process.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DEEJ4Y/postscheduler/config"
	"github.com/DEEJ4Y/postscheduler/httpapi"
	"github.com/DEEJ4Y/postscheduler/internal/app"
)

func main() {
	withWorker := flag.Bool("worker", false, "run the dispatch loop in this process")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	if cfg.Security.JWTSecret == "" {
		logger.Error("JWT_SECRET is required for the API")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	if *withWorker {
		if err := a.Scheduler.Start(ctx); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	}

	handler := httpapi.NewHandler(httpapi.Options{
		Jobs:         a.Stores.Jobs,
		Preferences:  a.Stores.Users,
		Poller:       a.Scheduler,
		Generator:    a.Generator,
		Sessions:     httpapi.NewJWT(cfg.Security.JWTSecret),
		Accounts:     a.Stores.Accounts,
		Tokens:       a.Tokens,
		Poster:       a.Poster,
		TriggerToken: cfg.Security.TriggerToken,
		MaxAttempts:  cfg.Scheduler.MaxRetries,
		Logger:       logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error stopping http server", "error", err)
	}
	if *withWorker {
		if err := a.Scheduler.Stop(shutdownCtx); err != nil {
			logger.Error("error stopping scheduler", "error", err)
		}
	}
}
