package worker_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"github.com/wellbeam/checkin-backend/internal/alert"
	"github.com/wellbeam/checkin-backend/internal/analysis"
	"github.com/wellbeam/checkin-backend/internal/db"
	"github.com/wellbeam/checkin-backend/internal/email"
	"github.com/wellbeam/checkin-backend/internal/store"
	"github.com/wellbeam/checkin-backend/internal/transcribe"
	"github.com/wellbeam/checkin-backend/internal/worker"
)

// ─── STUBS ────────────────────────────────────────────────────────────────────

// fakeQuerier is shared between the job tests (single goroutine) and the
// runner tests (several worker goroutines racing for the same row), so every
// method takes the mutex.
type fakeQuerier struct {
	db.Querier

	mu       sync.Mutex
	users    map[uuid.UUID]db.User
	checkins map[uuid.UUID]db.Checkin
	alerts   []db.Alert

	claimed []uuid.UUID
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		users:    map[uuid.UUID]db.User{},
		checkins: map[uuid.UUID]db.Checkin{},
	}
}

func (f *fakeQuerier) GetUserByID(_ context.Context, id uuid.UUID) (db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return db.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeQuerier) GetCheckinByID(_ context.Context, id uuid.UUID) (db.Checkin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkins[id]
	if !ok {
		return db.Checkin{}, sql.ErrNoRows
	}
	return c, nil
}

// ClaimCheckin mirrors the conditional UPDATE: only a pending row, or a
// processing row whose claim is older than StaleBefore, can be won.
func (f *fakeQuerier) ClaimCheckin(_ context.Context, arg db.ClaimCheckinParams) (db.Checkin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkins[arg.ID]
	if !ok {
		return db.Checkin{}, sql.ErrNoRows
	}
	claimable := c.Status == db.CheckinStatusPending ||
		(c.Status == db.CheckinStatusProcessing && c.UpdatedAt.Before(arg.StaleBefore))
	if !claimable {
		return db.Checkin{}, sql.ErrNoRows
	}
	c.Status = db.CheckinStatusProcessing
	c.UpdatedAt = time.Now()
	f.checkins[arg.ID] = c
	f.claimed = append(f.claimed, arg.ID)
	return c, nil
}

func (f *fakeQuerier) ListPendingCheckins(_ context.Context, staleBefore time.Time) ([]db.Checkin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Checkin
	for _, c := range f.checkins {
		if c.Status == db.CheckinStatusPending ||
			(c.Status == db.CheckinStatusProcessing && c.UpdatedAt.Before(staleBefore)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeQuerier) claimCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.claimed)
}

func (f *fakeQuerier) alertSnapshot() []db.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]db.Alert(nil), f.alerts...)
}

func (f *fakeQuerier) CreateAlert(_ context.Context, arg db.CreateAlertParams) (db.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := db.Alert{
		ID:             uuid.New(),
		UserID:         arg.UserID,
		CheckinID:      arg.CheckinID,
		AlertType:      arg.AlertType,
		RecipientEmail: arg.RecipientEmail,
		RecipientType:  arg.RecipientType,
		Subject:        arg.Subject,
		Body:           arg.Body,
		RiskLevel:      arg.RiskLevel,
		UrgencyLevel:   arg.UrgencyLevel,
		MaxRetries:     arg.MaxRetries,
	}
	if arg.ErrorMessage != "" {
		rec.ErrorMessage = sql.NullString{String: arg.ErrorMessage, Valid: true}
	}
	f.alerts = append(f.alerts, rec)
	return rec, nil
}

func (f *fakeQuerier) MarkAlertSent(_ context.Context, id uuid.UUID) (db.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			f.alerts[i].SentSuccessfully = true
			f.alerts[i].SentAt = sql.NullTime{Time: time.Now(), Valid: true}
			return f.alerts[i], nil
		}
	}
	return db.Alert{}, sql.ErrNoRows
}

func (f *fakeQuerier) MarkAlertFailed(_ context.Context, arg db.MarkAlertFailedParams) (db.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.alerts {
		if f.alerts[i].ID == arg.ID {
			f.alerts[i].ErrorMessage = sql.NullString{String: arg.ErrorMessage, Valid: true}
			return f.alerts[i], nil
		}
	}
	return db.Alert{}, sql.ErrNoRows
}

func (f *fakeQuerier) CountRecentRecipientSends(context.Context, db.CountRecentRecipientSendsParams) (int64, error) {
	return 0, nil
}

func (f *fakeQuerier) CountRecentUserSends(context.Context, db.CountRecentUserSendsParams) (int64, error) {
	return 0, nil
}

type stubStore struct {
	q         *fakeQuerier
	mu        sync.Mutex
	finalized []store.FinalizeCheckInParams
	failed    []string
}

func (s *stubStore) FinalizeCheckIn(_ context.Context, p store.FinalizeCheckInParams) (db.Checkin, error) {
	s.mu.Lock()
	s.finalized = append(s.finalized, p)
	s.mu.Unlock()

	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	c := s.q.checkins[p.CheckinID]
	c.Status = db.CheckinStatusComplete
	s.q.checkins[p.CheckinID] = c
	return c, nil
}

func (s *stubStore) MarkCheckinFailed(_ context.Context, checkinID uuid.UUID, reason string) (db.Checkin, error) {
	s.mu.Lock()
	s.failed = append(s.failed, reason)
	s.mu.Unlock()

	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	c := s.q.checkins[checkinID]
	c.Status = db.CheckinStatusError
	s.q.checkins[checkinID] = c
	return c, nil
}

func (s *stubStore) finalizeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finalized)
}

type stubTranscriber struct {
	mu     sync.Mutex
	result transcribe.Transcription
	err    error
	delay  time.Duration // simulates slow transcription in the runner tests
	calls  int
	paths  []string
}

func (s *stubTranscriber) Transcribe(_ context.Context, audioPath string) (transcribe.Transcription, error) {
	s.mu.Lock()
	s.calls++
	s.paths = append(s.paths, audioPath)
	result, err, delay := s.result, s.err, s.delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return result, err
}

type stubSender struct {
	mu    sync.Mutex
	calls []email.AlertParams
}

func (s *stubSender) SendAlert(_ context.Context, p email.AlertParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type jobEnv struct {
	job         *worker.Job
	q           *fakeQuerier
	store       *stubStore
	transcriber *stubTranscriber
	sender      *stubSender
	user        db.User
}

func newJobEnv(t *testing.T) *jobEnv {
	t.Helper()

	q := newFakeQuerier()
	user := db.User{
		ID:              uuid.New(),
		Name:            "Ada",
		Email:           "ada@example.com",
		CarePersonEmail: sql.NullString{String: "care@example.com", Valid: true},
	}
	q.users[user.ID] = user

	st := &stubStore{q: q}
	transcriber := &stubTranscriber{}
	sender := &stubSender{}

	orchestrator := analysis.NewOrchestrator(nil, 0, discardLogger())
	limiter := alert.NewRateLimiter(q, alert.DefaultRateLimitConfig())
	dispatcher := alert.NewDispatcher(q, limiter, sender, alert.DispatcherConfig{}, discardLogger())
	alerts := alert.NewService(orchestrator, dispatcher, discardLogger())

	return &jobEnv{
		job:         worker.NewJob(q, st, transcriber, alerts, discardLogger()),
		q:           q,
		store:       st,
		transcriber: transcriber,
		sender:      sender,
		user:        user,
	}
}

func (e *jobEnv) seedVoiceCheckin(audioPath string) db.Checkin {
	c := db.Checkin{
		ID:        uuid.New(),
		UserID:    e.user.ID,
		Kind:      db.CheckinKindVoice,
		Status:    db.CheckinStatusPending,
		AudioPath: sql.NullString{String: audioPath, Valid: audioPath != ""},
	}
	e.q.checkins[c.ID] = c
	return c
}

func (e *jobEnv) seedQuestionnaireCheckin(answers map[string]string) db.Checkin {
	raw, _ := json.Marshal(answers)
	c := db.Checkin{
		ID:      uuid.New(),
		UserID:  e.user.ID,
		Kind:    db.CheckinKindQuestionnaire,
		Status:  db.CheckinStatusPending,
		Answers: pqtype.NullRawMessage{RawMessage: raw, Valid: true},
	}
	e.q.checkins[c.ID] = c
	return c
}

// ─── Job.Run ─────────────────────────────────────────────────────────────────

func TestJobRun_VoicePipeline(t *testing.T) {
	env := newJobEnv(t)
	env.transcriber.result = transcribe.Transcription{
		Text:            "this week was hard, I keep thinking about self harm",
		Confidence:      0.93,
		DurationSeconds: 42.5,
	}
	checkin := env.seedVoiceCheckin("/data/audio/abc.m4a")

	if err := env.job.Run(context.Background(), checkin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if env.transcriber.calls != 1 || env.transcriber.paths[0] != "/data/audio/abc.m4a" {
		t.Errorf("transcriber calls: %d %v", env.transcriber.calls, env.transcriber.paths)
	}

	// Voice check-ins always alert, as immediate_voice.
	if len(env.q.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(env.q.alerts))
	}
	a := env.q.alerts[0]
	if a.AlertType != db.AlertTypeImmediateVoice {
		t.Errorf("alert_type: got %s, want immediate_voice", a.AlertType)
	}
	if !a.SentSuccessfully {
		t.Errorf("alert not sent: %v", a.ErrorMessage)
	}
	if !a.CheckinID.Valid || a.CheckinID.UUID != checkin.ID {
		t.Error("alert row not linked to the check-in")
	}
	// The crisis keyword trips the rule-based heuristic.
	if a.RiskLevel != db.RiskLevelHigh {
		t.Errorf("risk_level: got %s, want high", a.RiskLevel)
	}

	if len(env.store.finalized) != 1 {
		t.Fatalf("expected 1 finalize call, got %d", len(env.store.finalized))
	}
	fin := env.store.finalized[0]
	if fin.SourceText != env.transcriber.result.Text {
		t.Errorf("finalized source text: %q", fin.SourceText)
	}
	if fin.Confidence != 0.93 || fin.DurationSeconds != 42.5 {
		t.Errorf("transcription metadata lost: %+v", fin)
	}
}

func TestJobRun_QuestionnaireRecovery(t *testing.T) {
	env := newJobEnv(t)
	checkin := env.seedQuestionnaireCheckin(map[string]string{
		"stress_level":             "9",
		analysis.FreeTextAnswerKey: "deadlines everywhere",
	})

	if err := env.job.Run(context.Background(), checkin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if env.transcriber.calls != 0 {
		t.Error("questionnaires must not hit the transcriber")
	}
	if len(env.q.alerts) != 1 || env.q.alerts[0].AlertType != db.AlertTypeOnboardingAnalysis {
		t.Fatalf("expected one onboarding_analysis alert, got %+v", env.q.alerts)
	}
	if env.q.alerts[0].RiskLevel != db.RiskLevelMedium {
		t.Errorf("risk_level: got %s, want medium", env.q.alerts[0].RiskLevel)
	}
	// The free text stored under the reserved key feeds back into analysis.
	if len(env.store.finalized) != 1 || env.store.finalized[0].SourceText != "deadlines everywhere" {
		t.Errorf("finalized: %+v", env.store.finalized)
	}
}

func TestJobRun_TranscribeFailureSurfaces(t *testing.T) {
	env := newJobEnv(t)
	env.transcriber.err = transcribe.ErrUnreadableAudio
	checkin := env.seedVoiceCheckin("/data/audio/abc.m4a")

	err := env.job.Run(context.Background(), checkin)
	if !errors.Is(err, transcribe.ErrUnreadableAudio) {
		t.Fatalf("expected the transcription error to surface, got %v", err)
	}
	if len(env.q.alerts) != 0 {
		t.Error("no alerts should go out for a failed transcription")
	}
	if len(env.store.finalized) != 0 {
		t.Error("failed job must not finalize")
	}
}

func TestJobRun_VoiceWithoutAudioPathFails(t *testing.T) {
	env := newJobEnv(t)
	checkin := env.seedVoiceCheckin("")

	if err := env.job.Run(context.Background(), checkin); err == nil {
		t.Fatal("expected an error for a voice check-in without audio")
	}
}

func TestJobRun_UnknownUserFails(t *testing.T) {
	env := newJobEnv(t)
	checkin := db.Checkin{
		ID:        uuid.New(),
		UserID:    uuid.New(), // not seeded
		Kind:      db.CheckinKindVoice,
		Status:    db.CheckinStatusProcessing,
		AudioPath: sql.NullString{String: "/data/audio/abc.m4a", Valid: true},
	}

	if err := env.job.Run(context.Background(), checkin); err == nil {
		t.Fatal("expected an error for a check-in whose user is unknown")
	}
}
