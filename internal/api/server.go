// Package api implements the HTTP layer for the check-in backend. Handlers
// are methods on *Server. Each handler file is responsible for one resource
// group and only imports the dependencies it actually uses.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/wellbeam/checkin-backend/internal/alert"
	"github.com/wellbeam/checkin-backend/internal/db"
	"github.com/wellbeam/checkin-backend/internal/store"
	"github.com/wellbeam/checkin-backend/internal/worker"
)

// Config holds values read from environment variables at startup.
type Config struct {
	// Env is "production", "staging", or "development".
	Env string

	// JWTSecret verifies the HS256 bearer tokens issued by the account service.
	JWTSecret string

	// RetryTriggerToken guards the internal alert-retry trigger. Empty
	// disables the route.
	RetryTriggerToken string

	// AudioDir is where uploaded voice recordings are written before the
	// worker picks them up.
	AudioDir string
}

// CheckinStore is the transactional write surface the handlers use.
// Satisfied by *store.Store.
type CheckinStore interface {
	FinalizeCheckIn(ctx context.Context, p store.FinalizeCheckInParams) (db.Checkin, error)
	MarkCheckinFailed(ctx context.Context, checkinID uuid.UUID, reason string) (db.Checkin, error)
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	// q handles all single-query reads. Injected directly — no repo wrapper.
	q db.Querier

	// store handles multi-step atomic writes (check-in finalization).
	store CheckinStore

	// alerts is the composed assess-and-alert pipeline, invoked synchronously
	// for questionnaire check-ins.
	alerts *alert.Service

	// worker enqueues voice check-ins for background transcription.
	worker worker.Enqueuer

	// retrier serves the internal alert-retry trigger for external schedulers.
	retrier worker.AlertRetrier

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.ListenAndServe.
func NewServer(
	q db.Querier,
	st CheckinStore,
	alerts *alert.Service,
	enqueuer worker.Enqueuer,
	retrier worker.AlertRetrier,
	cfg Config,
	logger *slog.Logger,
) http.Handler {
	s := &Server{
		q:       q,
		store:   st,
		alerts:  alerts,
		worker:  enqueuer,
		retrier: retrier,
		cfg:     cfg,
		logger:  logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))

	// ── Health ────────────────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// ── API v1 — everything requires a valid user token ───────────────────────
	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireUser)

		r.Post("/checkins/voice", s.handleVoiceCheckin)
		r.Post("/checkins/questionnaire", s.handleQuestionnaireCheckin)
		r.Get("/checkins/{checkinID}", s.handleGetCheckin)

		r.Get("/alerts", s.handleListAlerts)
	})

	// ── Internal — shared-secret trigger for external schedulers ──────────────
	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireRetryToken)
		r.Post("/alerts/retry", s.handleRetryAlerts)
	})

	return r
}
