package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/wellbeam/checkin-backend/internal/alert"
	"github.com/wellbeam/checkin-backend/internal/analysis"
	"github.com/wellbeam/checkin-backend/internal/db"
	"github.com/wellbeam/checkin-backend/internal/store"
	"github.com/wellbeam/checkin-backend/internal/transcribe"
)

// Job holds the dependencies for the check-in processing pipeline. Each step
// is a separate method so they can be tested independently and so the Run
// method reads like a spec.
type Job struct {
	q           db.Querier
	store       CheckinStore
	transcriber transcribe.Transcriber
	alerts      *alert.Service
	logger      *slog.Logger
}

// NewJob constructs a Job with all required dependencies.
func NewJob(
	q db.Querier,
	st CheckinStore,
	transcriber transcribe.Transcriber,
	alerts *alert.Service,
	logger *slog.Logger,
) *Job {
	return &Job{
		q:           q,
		store:       st,
		transcriber: transcriber,
		alerts:      alerts,
		logger:      logger,
	}
}

// Run executes the full pipeline for a single check-in. The caller has
// already claimed the row (Runner.runWithRetry wins it via ClaimCheckin
// before dispatching here), so checkin is passed by value and Run never
// re-reads or re-marks its status:
//
//  1. Load the check-in's user.
//  2. Voice: transcribe the audio. Questionnaire: decode the stored answers.
//  3. Assess and alert (never fails; degrades to the rule-based assessment).
//  4. Finalize the check-in row atomically via the store.
//
// Any error is returned to the Runner, which retries up to MaxRetries before
// calling store.MarkCheckinFailed. Alert sends that fail do NOT fail the job —
// they are recorded on their audit rows and swept by the retry ticker.
func (j *Job) Run(ctx context.Context, checkin db.Checkin) error {
	log := j.logger.With("checkin_id", checkin.ID)
	log.Info("job: starting")

	user, err := j.q.GetUserByID(ctx, checkin.UserID)
	if err != nil {
		return fmt.Errorf("job: get user: %w", err)
	}

	in, result, err := j.buildInput(ctx, checkin, log)
	if err != nil {
		return err
	}
	in.UserName = user.Name

	alertType := db.AlertTypeImmediateVoice
	if checkin.Kind == db.CheckinKindQuestionnaire {
		alertType = db.AlertTypeOnboardingAnalysis
	}

	res, err := j.alerts.AssessAndAlert(ctx, user, alertType, in, uuid.NullUUID{UUID: checkin.ID, Valid: true})
	if err != nil {
		// Only programmer misuse reaches here; retrying will not help, but the
		// runner's exhaustion path leaves a readable error on the row.
		return fmt.Errorf("job: assess and alert: %w", err)
	}

	sent := 0
	for _, a := range res.Alerts {
		if a.SentSuccessfully {
			sent++
		}
	}
	log.Info("job: assessment complete",
		"risk_level", res.Assessment.RiskLevel,
		"urgency_level", res.Assessment.UrgencyLevel,
		"alerts", len(res.Alerts),
		"sent", sent,
		"no_recipients", res.NoRecipients,
	)

	if _, err := j.store.FinalizeCheckIn(ctx, store.FinalizeCheckInParams{
		CheckinID:       checkin.ID,
		SourceText:      in.Text,
		Confidence:      result.Confidence,
		DurationSeconds: result.DurationSeconds,
		Assessment:      res.Assessment,
	}); err != nil {
		return fmt.Errorf("job: finalize check-in: %w", err)
	}

	return nil
}

// buildInput produces the analysis input for either check-in kind. The
// Transcription return is zero for questionnaires.
func (j *Job) buildInput(ctx context.Context, checkin db.Checkin, log *slog.Logger) (analysis.Input, transcribe.Transcription, error) {
	switch checkin.Kind {
	case db.CheckinKindVoice:
		if !checkin.AudioPath.Valid || checkin.AudioPath.String == "" {
			return analysis.Input{}, transcribe.Transcription{}, fmt.Errorf("job: voice check-in %s has no audio path", checkin.ID)
		}
		result, err := j.transcriber.Transcribe(ctx, checkin.AudioPath.String)
		if err != nil {
			return analysis.Input{}, transcribe.Transcription{}, fmt.Errorf("job: transcribe: %w", err)
		}
		log.Debug("job: transcribed audio",
			"confidence", result.Confidence,
			"duration_seconds", result.DurationSeconds,
		)
		return analysis.Input{Text: result.Text}, result, nil

	case db.CheckinKindQuestionnaire:
		// Questionnaires are normally handled synchronously by the HTTP
		// handler; this path only runs when that handler died mid-flight and
		// the poller recovered the row.
		answers, err := decodeAnswers(checkin)
		if err != nil {
			return analysis.Input{}, transcribe.Transcription{}, err
		}
		return analysis.Input{Text: answers[analysis.FreeTextAnswerKey], Answers: answers}, transcribe.Transcription{}, nil

	default:
		return analysis.Input{}, transcribe.Transcription{}, fmt.Errorf("job: unknown check-in kind %q", checkin.Kind)
	}
}

func decodeAnswers(checkin db.Checkin) (map[string]string, error) {
	if !checkin.Answers.Valid {
		return nil, fmt.Errorf("job: questionnaire check-in %s has no answers", checkin.ID)
	}
	var answers map[string]string
	if err := json.Unmarshal(checkin.Answers.RawMessage, &answers); err != nil {
		return nil, fmt.Errorf("job: decode answers: %w", err)
	}
	return answers, nil
}
