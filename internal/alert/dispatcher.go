package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"github.com/wellbeam/checkin-backend/internal/analysis"
	"github.com/wellbeam/checkin-backend/internal/db"
	"github.com/wellbeam/checkin-backend/internal/email"
)

// errInvalidEmail is the audit-row message for addresses that fail the syntax
// check. The retry sweep matches on re-validation, not on this string.
const errInvalidEmail = "Invalid email address"

// DispatcherConfig holds the dispatcher's tuning parameters.
type DispatcherConfig struct {
	// MaxRetries is written onto every alert row at creation; the retry sweep
	// stops re-attempting a record once retry_count reaches it. Default: 3.
	MaxRetries int

	// MailTimeout bounds each individual transport call. Default: 15s.
	MailTimeout time.Duration
}

// Dispatcher sends alert email and writes one audit row per recipient,
// whatever the outcome. It never fails as a whole for a single bad recipient:
// validation failures, rate limiting, transport errors, and even persistence
// errors are isolated per recipient.
type Dispatcher struct {
	q       db.Querier
	limiter *RateLimiter
	mailer  email.Sender
	cfg     DispatcherConfig
	logger  *slog.Logger
}

// NewDispatcher constructs a Dispatcher with all dependencies explicit.
func NewDispatcher(q db.Querier, limiter *RateLimiter, mailer email.Sender, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MailTimeout <= 0 {
		cfg.MailTimeout = 15 * time.Second
	}
	return &Dispatcher{
		q:       q,
		limiter: limiter,
		mailer:  mailer,
		cfg:     cfg,
		logger:  logger,
	}
}

// Dispatch processes recipients strictly in input order and returns the audit
// rows it persisted, in that same order. Per recipient:
//
//  1. Syntax-validate the address. Invalid → audit row marked failed with
//     "Invalid email address"; the transport is never invoked.
//  2. Rate-limit check. Limited → audit row marked failed with the limiter's
//     reason; retryable once the window clears.
//  3. Render subject/body, create the row, invoke the transport with a
//     bounded context, then mark the row sent or failed.
//
// The row's urgency_level is the effective urgency actually communicated
// (after the per-alert-type override); the analysis_snapshot retains the
// assessment's own values, so re-rendering from the snapshot reproduces the
// stored subject and body exactly.
//
// A persistence failure for one recipient is logged and skipped — it must not
// abort processing of the rest.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	user db.User,
	alertType db.AlertType,
	assessment analysis.Assessment,
	recipients []Recipient,
	checkinID uuid.NullUUID,
) []db.Alert {
	log := d.logger.With("user_id", user.ID, "alert_type", alertType)

	snapshot := marshalSnapshot(assessment, log)

	records := make([]db.Alert, 0, len(recipients))
	for _, rcpt := range recipients {
		subject, body := RenderMessage(alertType, rcpt.Type, assessment, user.Name)

		params := db.CreateAlertParams{
			UserID:           user.ID,
			CheckinID:        checkinID,
			AlertType:        alertType,
			RecipientEmail:   rcpt.Email,
			RecipientType:    rcpt.Type,
			Subject:          subject,
			Body:             body,
			RiskLevel:        db.RiskLevel(assessment.RiskLevel),
			UrgencyLevel:     db.UrgencyLevel(EffectiveUrgency(alertType, assessment.UrgencyLevel)),
			AnalysisSnapshot: snapshot,
			MaxRetries:       int32(d.cfg.MaxRetries),
		}

		// 1. Address syntax. Failures are permanent — recorded, never sent.
		if !validEmail(rcpt.Email) {
			params.ErrorMessage = errInvalidEmail
			if rec, ok := d.createRecord(ctx, params, log); ok {
				records = append(records, rec)
			}
			continue
		}

		// 2. Rate limit. A gate failure is an expected branch: the attempt is
		// recorded (auditable, retryable), not silently dropped. A limiter
		// read error is logged and the send proceeds — for this system,
		// over-sending beats losing an alert because a count query failed.
		allowed, reason, err := d.limiter.Check(ctx, rcpt.Email, user.ID)
		if err != nil {
			log.Error("alert: rate limit check failed, allowing send", "recipient", rcpt.Email, "error", err)
			allowed = true
		}
		if !allowed {
			log.Info("alert: rate limited", "recipient", rcpt.Email, "reason", reason)
			params.ErrorMessage = reason
			if rec, ok := d.createRecord(ctx, params, log); ok {
				records = append(records, rec)
			}
			continue
		}

		// 3. Create, send, record the outcome.
		rec, ok := d.createRecord(ctx, params, log)
		if !ok {
			continue
		}

		rec = d.attemptSend(ctx, rec, log)
		records = append(records, rec)
	}

	return records
}

// attemptSend invokes the transport for an already-persisted record and
// updates it with the outcome. On an update failure the in-memory record is
// returned as created, so the caller still sees one entry per recipient.
func (d *Dispatcher) attemptSend(ctx context.Context, rec db.Alert, log *slog.Logger) db.Alert {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.MailTimeout)
	sendErr := d.mailer.SendAlert(sendCtx, email.AlertParams{
		To:      rec.RecipientEmail,
		Subject: rec.Subject,
		HTML:    rec.Body,
	})
	cancel()

	if sendErr != nil {
		log.Warn("alert: send failed", "recipient", rec.RecipientEmail, "error", sendErr)
		updated, err := d.q.MarkAlertFailed(ctx, db.MarkAlertFailedParams{
			ID:           rec.ID,
			ErrorMessage: sendErr.Error(),
		})
		if err != nil {
			log.Error("alert: could not record send failure", "alert_id", rec.ID, "error", err)
			return rec
		}
		return updated
	}

	updated, err := d.q.MarkAlertSent(ctx, rec.ID)
	if err != nil {
		log.Error("alert: could not record successful send", "alert_id", rec.ID, "error", err)
		return rec
	}
	log.Info("alert: sent", "recipient", rec.RecipientEmail, "alert_id", updated.ID)
	return updated
}

func (d *Dispatcher) createRecord(ctx context.Context, params db.CreateAlertParams, log *slog.Logger) (db.Alert, bool) {
	rec, err := d.q.CreateAlert(ctx, params)
	if err != nil {
		log.Error("alert: could not persist audit row", "recipient", params.RecipientEmail, "error", err)
		return db.Alert{}, false
	}
	return rec, true
}

// validEmail is a structural check, not a deliverability check. The parsed
// address must round-trip to the bare input — "Bob <bob@x.com>" is not an
// acceptable recipient value.
func validEmail(addr string) bool {
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

func marshalSnapshot(a analysis.Assessment, log *slog.Logger) pqtype.NullRawMessage {
	raw, err := json.Marshal(a)
	if err != nil {
		// Assessment contains only maps, slices, and strings; this cannot
		// happen in practice, but an alert without a snapshot is still better
		// than no alert.
		log.Error("alert: could not marshal analysis snapshot", "error", err)
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}
