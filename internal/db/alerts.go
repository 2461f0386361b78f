package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const alertColumns = `id, user_id, checkin_id, alert_type, recipient_email,
recipient_type, subject, body, risk_level, urgency_level, analysis_snapshot,
sent_successfully, sent_at, error_message, retry_count, max_retries,
created_at, updated_at`

func scanAlert(row interface{ Scan(...any) error }) (Alert, error) {
	var a Alert
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.CheckinID,
		&a.AlertType,
		&a.RecipientEmail,
		&a.RecipientType,
		&a.Subject,
		&a.Body,
		&a.RiskLevel,
		&a.UrgencyLevel,
		&a.AnalysisSnapshot,
		&a.SentSuccessfully,
		&a.SentAt,
		&a.ErrorMessage,
		&a.RetryCount,
		&a.MaxRetries,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func (q *Queries) queryAlerts(ctx context.Context, query string, args ...any) ([]Alert, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ─── CreateAlert ─────────────────────────────────────────────────────────────

type CreateAlertParams struct {
	UserID           uuid.UUID
	CheckinID        uuid.NullUUID
	AlertType        AlertType
	RecipientEmail   string
	RecipientType    RecipientType
	Subject          string
	Body             string
	RiskLevel        RiskLevel
	UrgencyLevel     UrgencyLevel
	AnalysisSnapshot pqtype.NullRawMessage
	SentSuccessfully bool
	ErrorMessage     string // empty string inserts NULL
	MaxRetries       int32
}

const createAlert = `
INSERT INTO alerts (
    user_id, checkin_id, alert_type, recipient_email, recipient_type,
    subject, body, risk_level, urgency_level, analysis_snapshot,
    sent_successfully, error_message, max_retries
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13)
RETURNING ` + alertColumns

func (q *Queries) CreateAlert(ctx context.Context, arg CreateAlertParams) (Alert, error) {
	row := q.db.QueryRowContext(ctx, createAlert,
		arg.UserID,
		arg.CheckinID,
		arg.AlertType,
		arg.RecipientEmail,
		arg.RecipientType,
		arg.Subject,
		arg.Body,
		arg.RiskLevel,
		arg.UrgencyLevel,
		arg.AnalysisSnapshot,
		arg.SentSuccessfully,
		arg.ErrorMessage,
		arg.MaxRetries,
	)
	return scanAlert(row)
}

// ─── MarkAlertSent ───────────────────────────────────────────────────────────

const markAlertSent = `
UPDATE alerts
SET sent_successfully = true, sent_at = now(), error_message = NULL, updated_at = now()
WHERE id = $1
RETURNING ` + alertColumns

func (q *Queries) MarkAlertSent(ctx context.Context, id uuid.UUID) (Alert, error) {
	return scanAlert(q.db.QueryRowContext(ctx, markAlertSent, id))
}

// ─── MarkAlertFailed ─────────────────────────────────────────────────────────

type MarkAlertFailedParams struct {
	ID           uuid.UUID
	ErrorMessage string
}

const markAlertFailed = `
UPDATE alerts
SET sent_successfully = false, error_message = $2, updated_at = now()
WHERE id = $1
RETURNING ` + alertColumns

func (q *Queries) MarkAlertFailed(ctx context.Context, arg MarkAlertFailedParams) (Alert, error) {
	return scanAlert(q.db.QueryRowContext(ctx, markAlertFailed, arg.ID, arg.ErrorMessage))
}

// ─── SetAlertRetryCount ──────────────────────────────────────────────────────

type SetAlertRetryCountParams struct {
	ID         uuid.UUID
	RetryCount int32
}

const setAlertRetryCount = `
UPDATE alerts
SET retry_count = $2, updated_at = now()
WHERE id = $1
RETURNING ` + alertColumns

// SetAlertRetryCount overwrites the retry counter. The retry sweep uses it to
// exhaust records that can never succeed (e.g. malformed addresses).
func (q *Queries) SetAlertRetryCount(ctx context.Context, arg SetAlertRetryCountParams) (Alert, error) {
	return scanAlert(q.db.QueryRowContext(ctx, setAlertRetryCount, arg.ID, arg.RetryCount))
}

// ─── IncrementAlertRetryCount ────────────────────────────────────────────────

const incrementAlertRetryCount = `
UPDATE alerts
SET retry_count = retry_count + 1, updated_at = now()
WHERE id = $1
RETURNING ` + alertColumns

func (q *Queries) IncrementAlertRetryCount(ctx context.Context, id uuid.UUID) (Alert, error) {
	return scanAlert(q.db.QueryRowContext(ctx, incrementAlertRetryCount, id))
}

// ─── ListRetryableAlerts ─────────────────────────────────────────────────────

const listRetryableAlerts = `
SELECT ` + alertColumns + `
FROM alerts
WHERE sent_successfully = false AND retry_count < max_retries
ORDER BY created_at
LIMIT 200
`

// ListRetryableAlerts returns failed, non-exhausted alerts oldest first.
// Records with retry_count >= max_retries are terminal and never selected.
func (q *Queries) ListRetryableAlerts(ctx context.Context) ([]Alert, error) {
	return q.queryAlerts(ctx, listRetryableAlerts)
}

// ─── ListAlertsByUser ────────────────────────────────────────────────────────

const listAlertsByUser = `
SELECT ` + alertColumns + `
FROM alerts
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 100
`

func (q *Queries) ListAlertsByUser(ctx context.Context, userID uuid.UUID) ([]Alert, error) {
	return q.queryAlerts(ctx, listAlertsByUser, userID)
}

// ─── RATE-LIMIT COUNTS ───────────────────────────────────────────────────────
// Both counts are recomputed on demand from alert rows; nothing is cached.

const countRecentRecipientSends = `
SELECT count(*)
FROM alerts
WHERE recipient_email = $1 AND sent_successfully = true AND created_at >= $2
`

func (q *Queries) CountRecentRecipientSends(ctx context.Context, arg CountRecentRecipientSendsParams) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countRecentRecipientSends, arg.RecipientEmail, arg.Since).Scan(&n)
	return n, err
}

const countRecentUserSends = `
SELECT count(*)
FROM alerts
WHERE user_id = $1 AND sent_successfully = true AND created_at >= $2
`

func (q *Queries) CountRecentUserSends(ctx context.Context, arg CountRecentUserSendsParams) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countRecentUserSends, arg.UserID, arg.Since).Scan(&n)
	return n, err
}
