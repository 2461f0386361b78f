// Package worker contains the background pipeline that transcribes voice
// check-ins, runs risk analysis, dispatches alerts, and finalizes the
// check-in row. It is intentionally decoupled from the HTTP layer: the api
// package holds a worker.Enqueuer interface and calls Enqueue — it never
// imports the concrete Runner or Job types.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wellbeam/checkin-backend/internal/db"
	"github.com/wellbeam/checkin-backend/internal/store"
)

// ─── ENQUEUER INTERFACE ───────────────────────────────────────────────────────

// Enqueuer is the narrow interface the api package uses to hand off a voice
// check-in after the upload is persisted. Keeping it here (not in api/) means
// api/ does not need to import worker/.
//
// The concrete implementation is *Runner. In tests, any struct with an Enqueue
// method satisfies the interface.
type Enqueuer interface {
	Enqueue(ctx context.Context, checkinID uuid.UUID) error
}

// AlertRetrier re-attempts previously failed alert sends. Satisfied by
// *alert.Dispatcher; the Runner invokes it on a fixed interval so failed
// notifications are swept without an external cron.
type AlertRetrier interface {
	RetryFailed(ctx context.Context) (int, error)
}

// CheckinStore is the transactional write surface the worker needs from the
// store. Satisfied by *store.Store.
type CheckinStore interface {
	FinalizeCheckIn(ctx context.Context, p store.FinalizeCheckInParams) (db.Checkin, error)
	MarkCheckinFailed(ctx context.Context, checkinID uuid.UUID, reason string) (db.Checkin, error)
}

// ─── RUNNER ───────────────────────────────────────────────────────────────────

// RunnerConfig holds tuning parameters for the Runner. All fields have
// sensible defaults if zero-valued; call DefaultRunnerConfig() to get them.
type RunnerConfig struct {
	// Workers is the number of concurrent job goroutines. Default: 3.
	Workers int

	// PollInterval is how often the fallback poller checks ListPendingCheckins
	// for check-ins that were missed by the in-process channel (e.g. after a
	// crash or restart). Default: 30s.
	PollInterval time.Duration

	// JobTimeout is the per-job context deadline. Default: 5 minutes.
	// Set this longer than transcription p99 latency for your longest audio.
	JobTimeout time.Duration

	// MaxRetries is the number of times a job is retried before the check-in
	// is marked as permanently failed. Default: 3.
	MaxRetries int

	// RetryInterval is how often the alert retry sweep runs. Default: 5m.
	RetryInterval time.Duration

	// StaleAfter is how long a processing claim is honored before the poller
	// treats its holder as crashed and re-dispatches the row. It must exceed
	// the worst case a live claimer can hold the row (the full local retry
	// cycle), so success or exhaustion always moves the row out of processing
	// first. Default: JobTimeout × MaxRetries.
	StaleAfter time.Duration
}

// DefaultRunnerConfig returns safe production defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:       3,
		PollInterval:  30 * time.Second,
		JobTimeout:    5 * time.Minute,
		MaxRetries:    3,
		RetryInterval: 5 * time.Minute,
		StaleAfter:    15 * time.Minute,
	}
}

// Runner manages a pool of worker goroutines. It accepts jobs via an
// in-process channel (fast path, used for fresh uploads), polls the database
// periodically to pick up check-ins that were in-flight when the process last
// restarted (recovery path), and runs the alert retry sweep on its own ticker.
type Runner struct {
	job     *Job
	store   CheckinStore
	q       db.Querier
	retrier AlertRetrier
	cfg     RunnerConfig
	logger  *slog.Logger

	queue chan uuid.UUID
	wg    sync.WaitGroup
}

// NewRunner constructs a Runner. Call Start() to begin processing.
func NewRunner(
	job *Job,
	st CheckinStore,
	q db.Querier,
	retrier AlertRetrier,
	cfg RunnerConfig,
	logger *slog.Logger,
) *Runner {
	def := DefaultRunnerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = cfg.JobTimeout * time.Duration(cfg.MaxRetries)
	}

	return &Runner{
		job:     job,
		store:   st,
		q:       q,
		retrier: retrier,
		cfg:     cfg,
		logger:  logger,
		// Buffer = Workers*2 so Enqueue never blocks under normal load.
		queue: make(chan uuid.UUID, cfg.Workers*2),
	}
}

// Enqueue pushes a checkinID onto the in-process channel. It satisfies the
// Enqueuer interface. If the channel is full (very unlikely given the buffer
// sizing) it returns an error rather than blocking the HTTP response; the
// poller will pick the check-in up on its next cycle.
func (r *Runner) Enqueue(_ context.Context, checkinID uuid.UUID) error {
	select {
	case r.queue <- checkinID:
		r.logger.Info("worker: enqueued check-in", "checkin_id", checkinID)
		return nil
	default:
		return errors.New("worker: queue is full, check-in will be picked up by poller")
	}
}

// Start launches the worker pool, the fallback poller, and the alert retry
// sweep. It blocks until ctx is cancelled. Call it in a goroutine from main:
//
//	go runner.Start(ctx)
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("worker: starting",
		"workers", r.cfg.Workers,
		"poll_interval", r.cfg.PollInterval,
		"retry_interval", r.cfg.RetryInterval,
	)

	// Launch worker goroutines.
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.work(ctx, i)
	}

	// Launch fallback poller.
	r.wg.Add(1)
	go r.poll(ctx)

	// Launch alert retry sweep.
	r.wg.Add(1)
	go r.sweepRetries(ctx)

	r.wg.Wait()
	r.logger.Info("worker: stopped")
}

// work is the inner loop for each worker goroutine.
func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.logger.With("worker_id", id)
	log.Info("worker: goroutine started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker: goroutine stopping")
			return
		case checkinID := <-r.queue:
			r.runWithRetry(ctx, checkinID, log)
		}
	}
}

// poll queries the database on PollInterval for pending/processing check-ins
// that were not delivered via the channel (e.g. uploads from before a restart).
func (r *Runner) poll(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	// Run once immediately on startup to pick up anything from before restart.
	r.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	checkins, err := r.q.ListPendingCheckins(ctx, time.Now().Add(-r.cfg.StaleAfter))
	if err != nil {
		r.logger.Error("worker: poll failed", "error", err)
		return
	}
	for _, c := range checkins {
		select {
		case r.queue <- c.ID:
			r.logger.Debug("worker: poller enqueued check-in", "checkin_id", c.ID)
		default:
			// Queue full — will be picked up next poll cycle.
		}
	}
}

// sweepRetries periodically re-attempts failed, non-exhausted alert sends.
// The sweep itself is synchronous within one tick; a slow sweep simply delays
// the next one rather than overlapping it.
func (r *Runner) sweepRetries(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
			n, err := r.retrier.RetryFailed(sweepCtx)
			cancel()
			if err != nil {
				r.logger.Error("worker: alert retry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("worker: alert retry sweep complete", "retried", n)
			}
		}
	}
}

// runWithRetry claims the check-in, then executes the job up to MaxRetries
// times. After exhausting retries it calls store.MarkCheckinFailed so the
// check-in is not picked up again.
//
// The claim happens exactly once, before the attempt loop: the same id can
// reach the queue from both Enqueue and the poller, and only the goroutine
// whose conditional UPDATE matched may process (and alert on) the row. Local
// attempts keep the claim they already hold; StaleAfter is sized so no other
// worker can steal it while the loop is alive.
func (r *Runner) runWithRetry(ctx context.Context, checkinID uuid.UUID, log *slog.Logger) {
	claimCtx, claimCancel := context.WithTimeout(ctx, 10*time.Second)
	checkin, err := r.q.ClaimCheckin(claimCtx, db.ClaimCheckinParams{
		ID:          checkinID,
		StaleBefore: time.Now().Add(-r.cfg.StaleAfter),
	})
	claimCancel()
	if errors.Is(err, sql.ErrNoRows) {
		log.Debug("worker: check-in already claimed or finished", "checkin_id", checkinID)
		return
	}
	if err != nil {
		log.Error("worker: claim failed", "checkin_id", checkinID, "error", err)
		return
	}

	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
		lastErr = r.job.Run(jobCtx, checkin)
		cancel()

		if lastErr == nil {
			log.Info("worker: job completed", "checkin_id", checkinID, "attempt", attempt)
			return
		}

		log.Warn("worker: job attempt failed",
			"checkin_id", checkinID,
			"attempt", attempt,
			"max", r.cfg.MaxRetries,
			"error", lastErr,
		)

		if attempt < r.cfg.MaxRetries {
			// Exponential back-off: 2s, 4s, 8s …
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}

	// All retries exhausted — mark the check-in permanently failed.
	log.Error("worker: job permanently failed", "checkin_id", checkinID, "error", lastErr)
	failCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r.store.MarkCheckinFailed(failCtx, checkinID, lastErr.Error()); err != nil {
		log.Error("worker: failed to mark check-in as failed", "checkin_id", checkinID, "error", err)
	}
}
