package alert_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wellbeam/checkin-backend/internal/alert"
	"github.com/wellbeam/checkin-backend/internal/analysis"
	"github.com/wellbeam/checkin-backend/internal/db"
	"github.com/wellbeam/checkin-backend/internal/email"
)

// ─── STUBS ────────────────────────────────────────────────────────────────────

// fakeStore is an in-memory Querier covering the alert tables. Anything the
// alert pipeline does not touch falls through to the embedded nil interface
// and panics, which is exactly what we want from an unexpected call.
type fakeStore struct {
	db.Querier

	alerts map[uuid.UUID]*db.Alert
	order  []uuid.UUID

	recipientCount int64
	userCount      int64
	countErr       error
	createErr      error
	listErr        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{alerts: map[uuid.UUID]*db.Alert{}}
}

func (f *fakeStore) CreateAlert(_ context.Context, arg db.CreateAlertParams) (db.Alert, error) {
	if f.createErr != nil {
		return db.Alert{}, f.createErr
	}
	rec := db.Alert{
		ID:               uuid.New(),
		UserID:           arg.UserID,
		CheckinID:        arg.CheckinID,
		AlertType:        arg.AlertType,
		RecipientEmail:   arg.RecipientEmail,
		RecipientType:    arg.RecipientType,
		Subject:          arg.Subject,
		Body:             arg.Body,
		RiskLevel:        arg.RiskLevel,
		UrgencyLevel:     arg.UrgencyLevel,
		AnalysisSnapshot: arg.AnalysisSnapshot,
		SentSuccessfully: arg.SentSuccessfully,
		MaxRetries:       arg.MaxRetries,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if arg.ErrorMessage != "" {
		rec.ErrorMessage = sql.NullString{String: arg.ErrorMessage, Valid: true}
	}
	f.alerts[rec.ID] = &rec
	f.order = append(f.order, rec.ID)
	return rec, nil
}

func (f *fakeStore) MarkAlertSent(_ context.Context, id uuid.UUID) (db.Alert, error) {
	rec := f.alerts[id]
	rec.SentSuccessfully = true
	rec.SentAt = sql.NullTime{Time: time.Now(), Valid: true}
	rec.ErrorMessage = sql.NullString{}
	return *rec, nil
}

func (f *fakeStore) MarkAlertFailed(_ context.Context, arg db.MarkAlertFailedParams) (db.Alert, error) {
	rec := f.alerts[arg.ID]
	rec.SentSuccessfully = false
	rec.ErrorMessage = sql.NullString{String: arg.ErrorMessage, Valid: true}
	return *rec, nil
}

func (f *fakeStore) SetAlertRetryCount(_ context.Context, arg db.SetAlertRetryCountParams) (db.Alert, error) {
	rec := f.alerts[arg.ID]
	rec.RetryCount = arg.RetryCount
	return *rec, nil
}

func (f *fakeStore) IncrementAlertRetryCount(_ context.Context, id uuid.UUID) (db.Alert, error) {
	rec := f.alerts[id]
	rec.RetryCount++
	return *rec, nil
}

// ListRetryableAlerts mirrors the production query's predicate.
func (f *fakeStore) ListRetryableAlerts(_ context.Context) ([]db.Alert, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []db.Alert
	for _, id := range f.order {
		rec := f.alerts[id]
		if !rec.SentSuccessfully && rec.RetryCount < rec.MaxRetries {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeStore) CountRecentRecipientSends(_ context.Context, _ db.CountRecentRecipientSendsParams) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.recipientCount, nil
}

func (f *fakeStore) CountRecentUserSends(_ context.Context, _ db.CountRecentUserSendsParams) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.userCount, nil
}

// rows returns the persisted alerts in creation order.
func (f *fakeStore) rows() []db.Alert {
	out := make([]db.Alert, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.alerts[id])
	}
	return out
}

// stubSender records every transport call and fails the addresses it is told
// to fail.
type stubSender struct {
	calls  []email.AlertParams
	errFor map[string]error
}

func (s *stubSender) SendAlert(_ context.Context, p email.AlertParams) error {
	s.calls = append(s.calls, p)
	if s.errFor != nil {
		if err := s.errFor[p.To]; err != nil {
			return err
		}
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatcher(f *fakeStore, sender email.Sender) *alert.Dispatcher {
	limiter := alert.NewRateLimiter(f, alert.DefaultRateLimitConfig())
	return alert.NewDispatcher(f, limiter, sender, alert.DispatcherConfig{}, discardLogger())
}

func testUser() db.User {
	return db.User{
		ID:                    uuid.New(),
		Name:                  "Ada",
		Email:                 "ada@example.com",
		CarePersonEmail:       sql.NullString{String: "care@example.com", Valid: true},
		EmergencyContactEmail: sql.NullString{String: "emergency@example.com", Valid: true},
	}
}

func testAssessment() analysis.Assessment {
	return analysis.Assessment{
		RiskLevel:           analysis.RiskMedium,
		UrgencyLevel:        analysis.UrgencyLow,
		Indicators:          map[string]string{"stress": "elevated"},
		KeyConcerns:         []string{"Self-reported stress level is elevated"},
		Summary:             "Ada reported an elevated stress level this week.",
		Recommendations:     []string{"Check in with Ada over the next day or two"},
		CarePersonAlertText: "Ada's recent check-in showed some signs of strain.",
		SourceText:          "work has been a lot lately",
	}
}

// ─── Dispatch ─────────────────────────────────────────────────────────────────

func TestDispatch_SendsToAllRecipientsInOrder(t *testing.T) {
	f := newFakeStore()
	sender := &stubSender{}
	d := newDispatcher(f, sender)
	user := testUser()

	records := d.Dispatch(context.Background(), user, db.AlertTypeImmediateVoice,
		testAssessment(), alert.ResolveRecipients(user), uuid.NullUUID{})

	if len(records) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(records))
	}
	if records[0].RecipientEmail != "care@example.com" || records[1].RecipientEmail != "emergency@example.com" {
		t.Errorf("recipient order wrong: %s, %s", records[0].RecipientEmail, records[1].RecipientEmail)
	}
	for i, rec := range records {
		if !rec.SentSuccessfully {
			t.Errorf("record %d not marked sent: %+v", i, rec.ErrorMessage)
		}
		if !rec.SentAt.Valid {
			t.Errorf("record %d missing sent_at", i)
		}
	}
	if len(sender.calls) != 2 {
		t.Fatalf("expected 2 transport calls, got %d", len(sender.calls))
	}
	if sender.calls[0].To != "care@example.com" {
		t.Errorf("transport call order wrong: first to %s", sender.calls[0].To)
	}
}

func TestDispatch_RowCarriesEffectiveUrgency(t *testing.T) {
	f := newFakeStore()
	d := newDispatcher(f, &stubSender{})
	user := testUser()

	// Assessment says low, but a voice check-in alert is always high.
	records := d.Dispatch(context.Background(), user, db.AlertTypeImmediateVoice,
		testAssessment(), alert.ResolveRecipients(user), uuid.NullUUID{})

	if records[0].UrgencyLevel != db.UrgencyLevelHigh {
		t.Errorf("urgency_level on row: got %s, want high", records[0].UrgencyLevel)
	}
	// The snapshot keeps the assessment's own urgency.
	var snap analysis.Assessment
	if err := json.Unmarshal(records[0].AnalysisSnapshot.RawMessage, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.UrgencyLevel != analysis.UrgencyLow {
		t.Errorf("snapshot urgency: got %s, want low", snap.UrgencyLevel)
	}
}

func TestDispatch_OneFailureDoesNotAffectOthers(t *testing.T) {
	f := newFakeStore()
	sender := &stubSender{errFor: map[string]error{
		"care@example.com": errors.New("550 mailbox unavailable"),
	}}
	d := newDispatcher(f, sender)
	user := testUser()

	records := d.Dispatch(context.Background(), user, db.AlertTypeCriticalRisk,
		testAssessment(), alert.ResolveRecipients(user), uuid.NullUUID{})

	if len(records) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(records))
	}
	if records[0].SentSuccessfully {
		t.Error("first record should be marked failed")
	}
	if records[0].ErrorMessage.String != "550 mailbox unavailable" {
		t.Errorf("error_message: got %q", records[0].ErrorMessage.String)
	}
	if !records[1].SentSuccessfully {
		t.Error("second record should be marked sent despite the first failing")
	}
}

func TestDispatch_InvalidAddressRecordedNotSent(t *testing.T) {
	f := newFakeStore()
	sender := &stubSender{}
	d := newDispatcher(f, sender)
	user := testUser()

	records := d.Dispatch(context.Background(), user, db.AlertTypeCriticalRisk,
		testAssessment(), []alert.Recipient{
			{Email: "not-an-email", Type: db.RecipientTypeCarePerson},
		}, uuid.NullUUID{})

	if len(records) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(records))
	}
	if records[0].SentSuccessfully {
		t.Error("invalid address must not be marked sent")
	}
	if records[0].ErrorMessage.String != "Invalid email address" {
		t.Errorf("error_message: got %q", records[0].ErrorMessage.String)
	}
	if len(sender.calls) != 0 {
		t.Errorf("transport must not be invoked for an invalid address, got %d calls", len(sender.calls))
	}
}

func TestDispatch_DisplayNameAddressRejected(t *testing.T) {
	f := newFakeStore()
	d := newDispatcher(f, &stubSender{})
	user := testUser()

	records := d.Dispatch(context.Background(), user, db.AlertTypeCriticalRisk,
		testAssessment(), []alert.Recipient{
			{Email: "Bob <bob@example.com>", Type: db.RecipientTypeCarePerson},
		}, uuid.NullUUID{})

	if records[0].ErrorMessage.String != "Invalid email address" {
		t.Errorf("display-name form must be rejected, got %q", records[0].ErrorMessage.String)
	}
}

func TestDispatch_RateLimitedAttemptStillAudited(t *testing.T) {
	f := newFakeStore()
	f.recipientCount = 5 // at the default per-recipient cap
	sender := &stubSender{}
	d := newDispatcher(f, sender)
	user := testUser()

	records := d.Dispatch(context.Background(), user, db.AlertTypeCriticalRisk,
		testAssessment(), []alert.Recipient{
			{Email: "care@example.com", Type: db.RecipientTypeCarePerson},
		}, uuid.NullUUID{})

	if len(records) != 1 {
		t.Fatalf("rate-limited attempt must still create an audit row, got %d", len(records))
	}
	if records[0].SentSuccessfully {
		t.Error("rate-limited record must not be marked sent")
	}
	if !strings.Contains(records[0].ErrorMessage.String, "Rate limit exceeded") {
		t.Errorf("error_message should carry the limiter reason, got %q", records[0].ErrorMessage.String)
	}
	if len(sender.calls) != 0 {
		t.Errorf("transport must not be invoked when rate limited, got %d calls", len(sender.calls))
	}
}

func TestDispatch_LimiterReadErrorAllowsSend(t *testing.T) {
	f := newFakeStore()
	f.countErr = errors.New("connection reset")
	sender := &stubSender{}
	d := newDispatcher(f, sender)
	user := testUser()

	records := d.Dispatch(context.Background(), user, db.AlertTypeCriticalRisk,
		testAssessment(), []alert.Recipient{
			{Email: "care@example.com", Type: db.RecipientTypeCarePerson},
		}, uuid.NullUUID{})

	if len(sender.calls) != 1 {
		t.Fatalf("a limiter read error must fail open, got %d transport calls", len(sender.calls))
	}
	if !records[0].SentSuccessfully {
		t.Error("record should be marked sent")
	}
}

func TestDispatch_PersistFailureSkipsRecipient(t *testing.T) {
	f := newFakeStore()
	f.createErr = errors.New("pq: relation does not exist")
	sender := &stubSender{}
	d := newDispatcher(f, sender)
	user := testUser()

	records := d.Dispatch(context.Background(), user, db.AlertTypeCriticalRisk,
		testAssessment(), alert.ResolveRecipients(user), uuid.NullUUID{})

	if len(records) != 0 {
		t.Errorf("unpersisted attempts must not be returned, got %d", len(records))
	}
	if len(sender.calls) != 0 {
		t.Errorf("no mail without an audit row, got %d transport calls", len(sender.calls))
	}
}

func TestDispatch_SnapshotReproducesMessage(t *testing.T) {
	f := newFakeStore()
	d := newDispatcher(f, &stubSender{})
	user := testUser()
	assessment := testAssessment()

	records := d.Dispatch(context.Background(), user, db.AlertTypeOnboardingAnalysis,
		assessment, alert.ResolveRecipients(user), uuid.NullUUID{})

	var snap analysis.Assessment
	if err := json.Unmarshal(records[0].AnalysisSnapshot.RawMessage, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if !reflect.DeepEqual(snap, assessment) {
		t.Fatalf("snapshot does not round-trip:\ngot:  %+v\nwant: %+v", snap, assessment)
	}

	subject, body := alert.RenderMessage(records[0].AlertType, records[0].RecipientType, snap, user.Name)
	if subject != records[0].Subject {
		t.Errorf("re-rendered subject differs:\ngot:  %q\nwant: %q", subject, records[0].Subject)
	}
	if body != records[0].Body {
		t.Error("re-rendered body differs from the stored one")
	}
}
