package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const checkinColumns = `id, user_id, kind, status, audio_path, answers,
source_text, confidence, duration_seconds, risk_level, urgency_level, analysis,
error_message, created_at, updated_at`

func scanCheckin(row interface{ Scan(...any) error }) (Checkin, error) {
	var c Checkin
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Kind,
		&c.Status,
		&c.AudioPath,
		&c.Answers,
		&c.SourceText,
		&c.Confidence,
		&c.DurationSeconds,
		&c.RiskLevel,
		&c.UrgencyLevel,
		&c.Analysis,
		&c.ErrorMessage,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

// ─── CreateCheckin ───────────────────────────────────────────────────────────

type CreateCheckinParams struct {
	UserID    uuid.UUID
	Kind      CheckinKind
	Status    CheckinStatus // zero value inserts as 'pending'
	AudioPath sql.NullString
	Answers   pqtype.NullRawMessage
}

const createCheckin = `
INSERT INTO checkins (user_id, kind, status, audio_path, answers)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + checkinColumns

func (q *Queries) CreateCheckin(ctx context.Context, arg CreateCheckinParams) (Checkin, error) {
	status := arg.Status
	if status == "" {
		status = CheckinStatusPending
	}
	row := q.db.QueryRowContext(ctx, createCheckin, arg.UserID, arg.Kind, status, arg.AudioPath, arg.Answers)
	return scanCheckin(row)
}

// ─── GetCheckinByID ──────────────────────────────────────────────────────────

const getCheckinByID = `
SELECT ` + checkinColumns + `
FROM checkins
WHERE id = $1
`

func (q *Queries) GetCheckinByID(ctx context.Context, id uuid.UUID) (Checkin, error) {
	return scanCheckin(q.db.QueryRowContext(ctx, getCheckinByID, id))
}

// ─── ListPendingCheckins ─────────────────────────────────────────────────────

const listPendingCheckins = `
SELECT ` + checkinColumns + `
FROM checkins
WHERE status = 'pending'
   OR (status = 'processing' AND updated_at < $1)
ORDER BY created_at
LIMIT 100
`

// ListPendingCheckins returns check-ins awaiting a worker. Used by the
// recovery poller to pick up work lost across a restart. Processing rows are
// included only when their claim is older than staleBefore: a fresh claim
// means another worker (or the questionnaire handler) is actively on the row,
// while a stale one means the claimer crashed and the row must be re-run.
func (q *Queries) ListPendingCheckins(ctx context.Context, staleBefore time.Time) ([]Checkin, error) {
	rows, err := q.db.QueryContext(ctx, listPendingCheckins, staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Checkin
	for rows.Next() {
		c, err := scanCheckin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ─── ClaimCheckin ────────────────────────────────────────────────────────────

type ClaimCheckinParams struct {
	ID          uuid.UUID
	StaleBefore time.Time
}

const claimCheckin = `
UPDATE checkins
SET status = 'processing', updated_at = now()
WHERE id = $1
  AND (status = 'pending' OR (status = 'processing' AND updated_at < $2))
RETURNING ` + checkinColumns

// ClaimCheckin atomically transitions a check-in to processing. The WHERE
// clause is the claim: only one worker's UPDATE matches, so concurrent
// claimers and the recovery poller cannot both win the same row. A row
// already claimed (processing with a fresh updated_at), complete, or errored
// matches nothing and the call returns sql.ErrNoRows.
func (q *Queries) ClaimCheckin(ctx context.Context, arg ClaimCheckinParams) (Checkin, error) {
	return scanCheckin(q.db.QueryRowContext(ctx, claimCheckin, arg.ID, arg.StaleBefore))
}

// ─── SetCheckinSource ────────────────────────────────────────────────────────

type SetCheckinSourceParams struct {
	ID              uuid.UUID
	SourceText      sql.NullString
	Confidence      sql.NullFloat64
	DurationSeconds sql.NullFloat64
}

const setCheckinSource = `
UPDATE checkins
SET source_text = $2, confidence = $3, duration_seconds = $4, updated_at = now()
WHERE id = $1
RETURNING ` + checkinColumns

// SetCheckinSource records the transcription output (or the questionnaire
// free text) on the check-in row.
func (q *Queries) SetCheckinSource(ctx context.Context, arg SetCheckinSourceParams) (Checkin, error) {
	row := q.db.QueryRowContext(ctx, setCheckinSource,
		arg.ID, arg.SourceText, arg.Confidence, arg.DurationSeconds)
	return scanCheckin(row)
}

// ─── FinalizeCheckin ─────────────────────────────────────────────────────────

type FinalizeCheckinParams struct {
	ID           uuid.UUID
	RiskLevel    RiskLevel
	UrgencyLevel UrgencyLevel
	Analysis     pqtype.NullRawMessage
}

const finalizeCheckin = `
UPDATE checkins
SET status = 'complete',
    risk_level = $2,
    urgency_level = $3,
    analysis = $4,
    error_message = NULL,
    updated_at = now()
WHERE id = $1
RETURNING ` + checkinColumns

func (q *Queries) FinalizeCheckin(ctx context.Context, arg FinalizeCheckinParams) (Checkin, error) {
	row := q.db.QueryRowContext(ctx, finalizeCheckin,
		arg.ID, arg.RiskLevel, arg.UrgencyLevel, arg.Analysis)
	return scanCheckin(row)
}

// ─── SetCheckinError ─────────────────────────────────────────────────────────

type SetCheckinErrorParams struct {
	ID           uuid.UUID
	ErrorMessage sql.NullString
}

const setCheckinError = `
UPDATE checkins
SET status = 'error', error_message = $2, updated_at = now()
WHERE id = $1
RETURNING ` + checkinColumns

func (q *Queries) SetCheckinError(ctx context.Context, arg SetCheckinErrorParams) (Checkin, error) {
	return scanCheckin(q.db.QueryRowContext(ctx, setCheckinError, arg.ID, arg.ErrorMessage))
}
