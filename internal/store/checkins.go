package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"github.com/wellbeam/checkin-backend/internal/analysis"
	"github.com/wellbeam/checkin-backend/internal/db"
)

// FinalizeCheckInParams is everything the pipeline hands to the store once
// transcription (for voice) and analysis are complete.
type FinalizeCheckInParams struct {
	CheckinID uuid.UUID

	// SourceText is the transcription, or the free-text portion of a
	// questionnaire. Confidence and DurationSeconds are zero for
	// questionnaire check-ins.
	SourceText      string
	Confidence      float64
	DurationSeconds float64

	Assessment analysis.Assessment
}

// FinalizeCheckIn atomically records the source text and the completed
// assessment on the check-in row. Both writes commit together: a check-in is
// never visible as complete without its analysis, and never carries a
// transcription from a run whose analysis was lost.
//
// Alert rows are deliberately NOT part of this transaction — they are written
// per recipient by the alert dispatcher, and a dispatch failure must not roll
// back an already-valid assessment.
func (s *Store) FinalizeCheckIn(ctx context.Context, p FinalizeCheckInParams) (db.Checkin, error) {
	snapshot, err := json.Marshal(p.Assessment)
	if err != nil {
		return db.Checkin{}, fmt.Errorf("FinalizeCheckIn: marshal assessment: %w", err)
	}

	var checkin db.Checkin

	err = s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		if _, err := q.SetCheckinSource(ctx, db.SetCheckinSourceParams{
			ID:              p.CheckinID,
			SourceText:      sql.NullString{String: p.SourceText, Valid: p.SourceText != ""},
			Confidence:      sql.NullFloat64{Float64: p.Confidence, Valid: p.Confidence > 0},
			DurationSeconds: sql.NullFloat64{Float64: p.DurationSeconds, Valid: p.DurationSeconds > 0},
		}); err != nil {
			return fmt.Errorf("FinalizeCheckIn: set source: %w", err)
		}

		finalized, err := q.FinalizeCheckin(ctx, db.FinalizeCheckinParams{
			ID:           p.CheckinID,
			RiskLevel:    db.RiskLevel(p.Assessment.RiskLevel),
			UrgencyLevel: db.UrgencyLevel(p.Assessment.UrgencyLevel),
			Analysis:     pqtype.NullRawMessage{RawMessage: snapshot, Valid: true},
		})
		if err != nil {
			return fmt.Errorf("FinalizeCheckIn: finalize: %w", err)
		}

		checkin = finalized
		return nil
	})
	if err != nil {
		return db.Checkin{}, err
	}

	return checkin, nil
}

// MarkCheckinFailed sets the check-in status to error with a descriptive
// message. Called by the worker when transcription fails permanently (i.e.
// after exhausting retries). Single-query write — no transaction needed — but
// it lives here because it is logically part of the check-in lifecycle.
func (s *Store) MarkCheckinFailed(ctx context.Context, checkinID uuid.UUID, reason string) (db.Checkin, error) {
	checkin, err := s.q.SetCheckinError(ctx, db.SetCheckinErrorParams{
		ID:           checkinID,
		ErrorMessage: sql.NullString{String: reason, Valid: reason != ""},
	})
	if err != nil {
		return db.Checkin{}, fmt.Errorf("MarkCheckinFailed: %w", err)
	}
	return checkin, nil
}
