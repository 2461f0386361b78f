package api

import (
	"fmt"
	"net/http"
)

// ─── GET /api/alerts ─────────────────────────────────────────────────────────

type alertResponse struct {
	AlertID          string `json:"alert_id"`
	CheckinID        string `json:"checkin_id,omitempty"`
	AlertType        string `json:"alert_type"`
	RecipientEmail   string `json:"recipient_email"`
	RecipientType    string `json:"recipient_type"`
	Subject          string `json:"subject"`
	RiskLevel        string `json:"risk_level"`
	UrgencyLevel     string `json:"urgency_level"`
	SentSuccessfully bool   `json:"sent_successfully"`
	SentAt           string `json:"sent_at,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	RetryCount       int32  `json:"retry_count"`
	CreatedAt        string `json:"created_at"`
}

// handleListAlerts returns the current user's notification audit trail,
// newest first. The body text is deliberately omitted — it is addressed to
// the recipient, not to the user, and the audit view only needs the outcome.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	alerts, err := s.q.ListAlertsByUser(r.Context(), user.ID)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("list alerts: %w", err))
		return
	}

	out := make([]alertResponse, len(alerts))
	for i, a := range alerts {
		resp := alertResponse{
			AlertID:          a.ID.String(),
			AlertType:        string(a.AlertType),
			RecipientEmail:   a.RecipientEmail,
			RecipientType:    string(a.RecipientType),
			Subject:          a.Subject,
			RiskLevel:        string(a.RiskLevel),
			UrgencyLevel:     string(a.UrgencyLevel),
			SentSuccessfully: a.SentSuccessfully,
			ErrorMessage:     a.ErrorMessage.String,
			RetryCount:       a.RetryCount,
			CreatedAt:        a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if a.CheckinID.Valid {
			resp.CheckinID = a.CheckinID.UUID.String()
		}
		if a.SentAt.Valid {
			resp.SentAt = a.SentAt.Time.UTC().Format("2006-01-02T15:04:05Z")
		}
		out[i] = resp
	}

	respond(w, http.StatusOK, map[string]any{"alerts": out})
}

// ─── POST /internal/alerts/retry ─────────────────────────────────────────────

// handleRetryAlerts runs one alert retry sweep on demand. The in-process
// ticker covers normal operation; this route exists for external schedulers
// and operators who want a sweep now rather than at the next tick.
func (s *Server) handleRetryAlerts(w http.ResponseWriter, r *http.Request) {
	retried, err := s.retrier.RetryFailed(r.Context())
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("retry alerts: %w", err))
		return
	}

	respond(w, http.StatusOK, map[string]int{"retried": retried})
}
