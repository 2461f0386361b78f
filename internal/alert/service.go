package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/wellbeam/checkin-backend/internal/analysis"
	"github.com/wellbeam/checkin-backend/internal/db"
)

// Service is the composed entry point: analysis → recipient resolution →
// dispatch. Constructed once per process and injected wherever check-ins are
// processed (the HTTP handler for questionnaires, the worker for voice).
type Service struct {
	orchestrator *analysis.Orchestrator
	dispatcher   *Dispatcher
	logger       *slog.Logger
}

// NewService wires the composed pipeline.
func NewService(orchestrator *analysis.Orchestrator, dispatcher *Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		logger:       logger,
	}
}

// Result is what AssessAndAlert hands back to callers.
type Result struct {
	Assessment analysis.Assessment
	Alerts     []db.Alert

	// NoRecipients reports that the user has neither a care person nor an
	// emergency contact configured. Distinct from a send failure: there was
	// nothing to attempt.
	NoRecipients bool
}

// AssessAndAlert runs the full pipeline for one check-in event. It does not
// fail under normal operation: provider outages degrade to the rule-based
// assessment, send failures are recorded on their audit rows, and a user with
// no contacts yields NoRecipients. The only errors are programmer misuse —
// an unknown alert type or a zero user ID.
//
// Callers are responsible for invoking this at most once per event and alert
// type; the pipeline does not deduplicate across calls.
func (s *Service) AssessAndAlert(
	ctx context.Context,
	user db.User,
	alertType db.AlertType,
	in analysis.Input,
	checkinID uuid.NullUUID,
) (Result, error) {
	if !db.ValidAlertType(alertType) {
		return Result{}, fmt.Errorf("alert: unknown alert type %q", alertType)
	}
	if user.ID == uuid.Nil {
		return Result{}, fmt.Errorf("alert: user has no ID")
	}

	if in.UserName == "" {
		in.UserName = user.Name
	}

	assessment := s.orchestrator.Assess(ctx, in)

	recipients := ResolveRecipients(user)
	if len(recipients) == 0 {
		s.logger.Warn("alert: no recipients configured, nothing to send",
			"user_id", user.ID,
			"alert_type", alertType,
		)
		return Result{Assessment: assessment, Alerts: []db.Alert{}, NoRecipients: true}, nil
	}

	records := s.dispatcher.Dispatch(ctx, user, alertType, assessment, recipients, checkinID)

	return Result{Assessment: assessment, Alerts: records}, nil
}
