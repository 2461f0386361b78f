package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wellbeam/checkin-backend/internal/db"
	"github.com/wellbeam/checkin-backend/internal/transcribe"
	"github.com/wellbeam/checkin-backend/internal/worker"
)

// runRunner starts the runner, waits for d, then shuts it down and blocks
// until every goroutine has exited so the fakes can be read race-free.
func runRunner(t *testing.T, r *worker.Runner, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	time.Sleep(d)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerEnqueue_FailsWhenQueueFullInsteadOfBlocking(t *testing.T) {
	env := newJobEnv(t)

	// Workers: 1 → queue buffer of 2. Start is never called, so nothing
	// drains the channel.
	r := worker.NewRunner(env.job, env.store, env.q, &noopRetrier{},
		worker.RunnerConfig{Workers: 1}, discardLogger())

	ctx := context.Background()
	if err := r.Enqueue(ctx, uuid.New()); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := r.Enqueue(ctx, uuid.New()); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := r.Enqueue(ctx, uuid.New()); err == nil {
		t.Fatal("a full queue must return an error, not block the caller")
	}
}

// A voice check-in whose transcription outlasts several poll cycles must
// still be processed exactly once: the poller keeps seeing nothing for the
// row after the first worker's claim, and any duplicate ids already sitting
// in the queue lose the conditional claim and drop out.
func TestRunner_SlowJobIsNotDispatchedTwice(t *testing.T) {
	env := newJobEnv(t)
	env.transcriber.result = transcribe.Transcription{Text: "rough week", Confidence: 0.9}
	env.transcriber.delay = 150 * time.Millisecond
	checkin := env.seedVoiceCheckin("/data/audio/slow.m4a")

	r := worker.NewRunner(env.job, env.store, env.q, &noopRetrier{}, worker.RunnerConfig{
		Workers:      3,
		PollInterval: 20 * time.Millisecond,
	}, discardLogger())

	// Pile on duplicates: the direct enqueue path and the poller both hand
	// the same id to the pool.
	if err := r.Enqueue(context.Background(), checkin.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := r.Enqueue(context.Background(), checkin.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	runRunner(t, r, 600*time.Millisecond)

	if got := env.q.claimCount(); got != 1 {
		t.Errorf("claims: got %d, want 1", got)
	}
	if got := env.store.finalizeCount(); got != 1 {
		t.Errorf("finalize calls: got %d, want 1", got)
	}
	alerts := env.q.alertSnapshot()
	if len(alerts) != 1 {
		t.Fatalf("alert records: got %d, want 1", len(alerts))
	}
	if alerts[0].RecipientEmail != "care@example.com" {
		t.Errorf("recipient: %s", alerts[0].RecipientEmail)
	}
}

// A processing row with a fresh claim belongs to someone else (another
// worker, or the questionnaire handler mid-request) and must be left alone.
func TestRunner_FreshProcessingRowIsLeftAlone(t *testing.T) {
	env := newJobEnv(t)
	checkin := env.seedVoiceCheckin("/data/audio/busy.m4a")
	c := env.q.checkins[checkin.ID]
	c.Status = db.CheckinStatusProcessing
	c.UpdatedAt = time.Now()
	env.q.checkins[checkin.ID] = c

	r := worker.NewRunner(env.job, env.store, env.q, &noopRetrier{}, worker.RunnerConfig{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
	}, discardLogger())

	runRunner(t, r, 100*time.Millisecond)

	if got := env.q.claimCount(); got != 0 {
		t.Errorf("claims: got %d, want 0", got)
	}
	if len(env.q.alertSnapshot()) != 0 || env.store.finalizeCount() != 0 {
		t.Error("a freshly claimed row must not be reprocessed")
	}
}

// Once a claim goes stale the holder is presumed crashed and the row is
// re-dispatched.
func TestRunner_StaleProcessingRowIsReclaimed(t *testing.T) {
	env := newJobEnv(t)
	env.transcriber.result = transcribe.Transcription{Text: "still here", Confidence: 0.8}
	checkin := env.seedVoiceCheckin("/data/audio/stale.m4a")
	c := env.q.checkins[checkin.ID]
	c.Status = db.CheckinStatusProcessing
	c.UpdatedAt = time.Now().Add(-time.Hour)
	env.q.checkins[checkin.ID] = c

	r := worker.NewRunner(env.job, env.store, env.q, &noopRetrier{}, worker.RunnerConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
		StaleAfter:   50 * time.Millisecond,
	}, discardLogger())

	runRunner(t, r, 200*time.Millisecond)

	if got := env.q.claimCount(); got != 1 {
		t.Errorf("claims: got %d, want 1", got)
	}
	if got := env.store.finalizeCount(); got != 1 {
		t.Errorf("finalize calls: got %d, want 1", got)
	}
}

type noopRetrier struct{}

func (noopRetrier) RetryFailed(context.Context) (int, error) { return 0, nil }

var _ worker.Enqueuer = (*worker.Runner)(nil)
var _ worker.AlertRetrier = noopRetrier{}
