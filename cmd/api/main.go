package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/wellbeam/checkin-backend/internal/alert"
	"github.com/wellbeam/checkin-backend/internal/analysis"
	"github.com/wellbeam/checkin-backend/internal/api"
	"github.com/wellbeam/checkin-backend/internal/config"
	"github.com/wellbeam/checkin-backend/internal/db"
	"github.com/wellbeam/checkin-backend/internal/email"
	"github.com/wellbeam/checkin-backend/internal/store"
	"github.com/wellbeam/checkin-backend/internal/transcribe"
	"github.com/wellbeam/checkin-backend/internal/worker"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, pretty text in development.
	var logger *slog.Logger
	if os.Getenv("ENV") == "production" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("config loaded", "env", cfg.Env, "port", cfg.Port)

	// ── Database ──────────────────────────────────────────────────────────────
	pool, queries, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// ── Store (atomic multi-step writes) ──────────────────────────────────────
	st := store.New(pool, queries)

	// ── Analysis provider chain ───────────────────────────────────────────────
	// Fixed priority order: Anthropic, then DeepSeek, then the rule-based
	// fallback the Orchestrator always carries. With neither key set every
	// assessment degrades to the heuristic — the pipeline still runs.
	var providers []analysis.Provider
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, analysis.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AnalysisTimeout))
	}
	if cfg.DeepSeekAPIKey != "" {
		providers = append(providers, analysis.NewDeepSeekClient(cfg.DeepSeekAPIKey, cfg.DeepSeekModel, cfg.AnalysisTimeout))
	}
	if len(providers) == 0 {
		logger.Warn("analysis: no LLM keys configured, every assessment will use the rule-based fallback")
	}
	orchestrator := analysis.NewOrchestrator(providers, cfg.AnalysisTimeout, logger)

	// ── Email (Resend) ────────────────────────────────────────────────────────
	mailer := email.NewResendClient(
		cfg.ResendAPIKey,
		cfg.EmailFromAddr,
		cfg.EmailFromName,
		cfg.MailTimeout,
	)

	// ── Alert pipeline ────────────────────────────────────────────────────────
	limiter := alert.NewRateLimiter(queries, alert.RateLimitConfig{
		MaxPerRecipient: cfg.AlertMaxPerRecipient,
		RecipientWindow: cfg.AlertRecipientWindow,
		MaxPerUser:      cfg.AlertMaxPerUser,
		UserWindow:      cfg.AlertUserWindow,
	})
	dispatcher := alert.NewDispatcher(queries, limiter, mailer, alert.DispatcherConfig{
		MaxRetries:  cfg.AlertMaxRetries,
		MailTimeout: cfg.MailTimeout,
	}, logger)
	alertSvc := alert.NewService(orchestrator, dispatcher, logger)

	// ── Transcription ─────────────────────────────────────────────────────────
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("transcribe: OPENAI_API_KEY not set, voice check-ins will fail until it is configured")
	}
	transcriber := transcribe.NewWhisperClient(cfg.OpenAIAPIKey, cfg.WhisperModel, cfg.TranscribeTimeout)

	// ── Worker ────────────────────────────────────────────────────────────────
	job := worker.NewJob(queries, st, transcriber, alertSvc, logger)
	runner := worker.NewRunner(job, st, queries, dispatcher, worker.RunnerConfig{
		Workers:       cfg.WorkerCount,
		PollInterval:  cfg.PollInterval,
		JobTimeout:    cfg.JobTimeout,
		MaxRetries:    cfg.JobMaxRetries,
		RetryInterval: cfg.AlertRetryInterval,
	}, logger)

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.NewServer(
		queries,
		st,
		alertSvc,
		runner, // *Runner satisfies worker.Enqueuer
		dispatcher,
		api.Config{
			Env:               cfg.Env,
			JWTSecret:         cfg.JWTSecret,
			RetryTriggerToken: cfg.RetryTriggerToken,
			AudioDir:          cfg.AudioDir,
		},
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second, // generous — voice uploads come in over slow links
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	// Root context cancelled by OS signal. Worker and HTTP server both respect it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the worker pool in a background goroutine. It blocks until ctx is done.
	go runner.Start(ctx)

	// Start the HTTP server in a background goroutine.
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until either a signal arrives or the server dies unexpectedly.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Give in-flight HTTP requests up to 20 seconds to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// The worker goroutine will exit when ctx is cancelled (already done).
	// runner.Start blocks until all worker goroutines finish — nothing extra needed.
	logger.Info("shutdown complete")
	return nil
}

// openDB opens the connection pool and verifies the database is reachable
// before the server starts taking traffic.
func openDB(dsn string) (*sql.DB, *db.Queries, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}

	// Tune the connection pool.
	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(10)
	pool.SetConnMaxLifetime(5 * time.Minute)
	pool.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}

	return pool, db.New(pool), nil
}
