package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"github.com/wellbeam/checkin-backend/internal/analysis"
	"github.com/wellbeam/checkin-backend/internal/db"
	"github.com/wellbeam/checkin-backend/internal/store"
)

// maxAudioUploadBytes caps voice uploads. A few minutes of compressed audio
// is well under this; anything larger is rejected before it touches disk.
const maxAudioUploadBytes = 25 << 20 // 25 MB

// ─── POST /api/checkins/voice ────────────────────────────────────────────────

type voiceCheckinResponse struct {
	CheckinID string `json:"checkin_id"`
	Status    string `json:"status"`
}

// handleVoiceCheckin accepts a multipart audio upload, persists it, and hands
// the check-in to the background worker. The response is 202: transcription
// and analysis happen asynchronously, and the client polls GET /checkins/{id}
// for the outcome.
func (s *Server) handleVoiceCheckin(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUploadBytes)
	if err := r.ParseMultipartForm(maxAudioUploadBytes); err != nil {
		respondErr(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondErr(w, http.StatusBadRequest, "missing audio file field")
		return
	}
	defer file.Close()

	audioPath, err := s.saveAudio(file, header.Filename)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("save audio: %w", err))
		return
	}

	checkin, err := s.q.CreateCheckin(r.Context(), db.CreateCheckinParams{
		UserID:    user.ID,
		Kind:      db.CheckinKindVoice,
		AudioPath: sql.NullString{String: audioPath, Valid: true},
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("create voice check-in: %w", err))
		return
	}

	// Enqueue failure is non-fatal: the row is already pending and the
	// worker's recovery poller will find it.
	if err := s.worker.Enqueue(r.Context(), checkin.ID); err != nil {
		s.logger.Warn("voice check-in: enqueue failed, poller will recover",
			"checkin_id", checkin.ID,
			"error", err,
			logField(r),
		)
	}

	respond(w, http.StatusAccepted, voiceCheckinResponse{
		CheckinID: checkin.ID.String(),
		Status:    string(checkin.Status),
	})
}

// saveAudio writes the uploaded stream into the audio directory under a
// random name, keeping only the original extension.
func (s *Server) saveAudio(src io.Reader, originalName string) (string, error) {
	if err := os.MkdirAll(s.cfg.AudioDir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(s.cfg.AudioDir, uuid.NewString()+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return path, nil
}

// ─── POST /api/checkins/questionnaire ────────────────────────────────────────

type questionnaireCheckinRequest struct {
	// Answers maps question id → answer text, e.g. "stress_level": "8".
	Answers map[string]string `json:"answers"`

	// Text is the free-text portion of the questionnaire.
	Text string `json:"text"`
}

type alertOutcomeResponse struct {
	RecipientEmail   string `json:"recipient_email"`
	RecipientType    string `json:"recipient_type"`
	SentSuccessfully bool   `json:"sent_successfully"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

type questionnaireCheckinResponse struct {
	CheckinID       string                 `json:"checkin_id"`
	RiskLevel       string                 `json:"risk_level"`
	UrgencyLevel    string                 `json:"urgency_level"`
	Summary         string                 `json:"summary"`
	Recommendations []string               `json:"recommendations"`
	Alerts          []alertOutcomeResponse `json:"alerts"`
	NoRecipients    bool                   `json:"no_recipients"`
}

// handleQuestionnaireCheckin runs the full pipeline synchronously: persist
// the answers, assess, notify, finalize. Questionnaires carry no audio, so
// there is nothing to defer to the worker.
//
// A finalize failure after alerts have gone out does not fail the request —
// the notifications already happened and re-submitting would duplicate them.
// The row is marked errored instead so the recovery poller leaves it alone.
func (s *Server) handleQuestionnaireCheckin(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req questionnaireCheckinRequest
	if !decode(w, r, &req) {
		return
	}

	if len(req.Answers) == 0 && strings.TrimSpace(req.Text) == "" {
		respondErr(w, http.StatusBadRequest, "questionnaire must include answers or text")
		return
	}

	// The free text is folded into the stored answers under a reserved key so
	// the row alone is enough to re-run analysis during worker recovery.
	answers := make(map[string]string, len(req.Answers)+1)
	for k, v := range req.Answers {
		answers[k] = v
	}
	if strings.TrimSpace(req.Text) != "" {
		answers[analysis.FreeTextAnswerKey] = req.Text
	}

	answersJSON, err := json.Marshal(answers)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("marshal answers: %w", err))
		return
	}

	// The row is born processing, not pending: this handler holds the claim
	// for the whole synchronous pipeline, so the worker's recovery poller
	// cannot pick it up (and alert a second time) before FinalizeCheckIn runs.
	checkin, err := s.q.CreateCheckin(r.Context(), db.CreateCheckinParams{
		UserID:  user.ID,
		Kind:    db.CheckinKindQuestionnaire,
		Status:  db.CheckinStatusProcessing,
		Answers: pqtype.NullRawMessage{RawMessage: answersJSON, Valid: true},
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("create questionnaire check-in: %w", err))
		return
	}

	result, err := s.alerts.AssessAndAlert(
		r.Context(),
		user,
		db.AlertTypeOnboardingAnalysis,
		analysis.Input{Text: req.Text, Answers: answers},
		uuid.NullUUID{UUID: checkin.ID, Valid: true},
	)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("assess and alert: %w", err))
		return
	}

	if _, err := s.store.FinalizeCheckIn(r.Context(), store.FinalizeCheckInParams{
		CheckinID:  checkin.ID,
		SourceText: req.Text,
		Assessment: result.Assessment,
	}); err != nil {
		s.logger.Error("questionnaire check-in: finalize failed after dispatch",
			"checkin_id", checkin.ID,
			"error", err,
			logField(r),
		)
		if _, markErr := s.store.MarkCheckinFailed(r.Context(), checkin.ID, "finalize failed: "+err.Error()); markErr != nil {
			s.logger.Error("questionnaire check-in: could not mark failed",
				"checkin_id", checkin.ID,
				"error", markErr,
				logField(r),
			)
		}
	}

	outcomes := make([]alertOutcomeResponse, len(result.Alerts))
	for i, a := range result.Alerts {
		outcomes[i] = alertOutcomeResponse{
			RecipientEmail:   a.RecipientEmail,
			RecipientType:    string(a.RecipientType),
			SentSuccessfully: a.SentSuccessfully,
			ErrorMessage:     a.ErrorMessage.String,
		}
	}

	respond(w, http.StatusOK, questionnaireCheckinResponse{
		CheckinID:       checkin.ID.String(),
		RiskLevel:       string(result.Assessment.RiskLevel),
		UrgencyLevel:    string(result.Assessment.UrgencyLevel),
		Summary:         result.Assessment.Summary,
		Recommendations: result.Assessment.Recommendations,
		Alerts:          outcomes,
		NoRecipients:    result.NoRecipients,
	})
}

// ─── GET /api/checkins/:checkinID ────────────────────────────────────────────

type checkinResponse struct {
	CheckinID    string          `json:"checkin_id"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status"`
	SourceText   string          `json:"source_text,omitempty"`
	Confidence   float64         `json:"confidence,omitempty"`
	RiskLevel    string          `json:"risk_level,omitempty"`
	UrgencyLevel string          `json:"urgency_level,omitempty"`
	Analysis     json.RawMessage `json:"analysis,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

// handleGetCheckin serves one check-in, including the analysis snapshot once
// processing completes. Rows belonging to other users read as 404, not 403 —
// the response must not confirm that a foreign check-in id exists.
func (s *Server) handleGetCheckin(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	checkinID, err := uuid.Parse(chi.URLParam(r, "checkinID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid checkin id")
		return
	}

	checkin, err := s.q.GetCheckinByID(r.Context(), checkinID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && checkin.UserID != user.ID) {
		respondErr(w, http.StatusNotFound, "check-in not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("get check-in: %w", err))
		return
	}

	resp := checkinResponse{
		CheckinID:    checkin.ID.String(),
		Kind:         string(checkin.Kind),
		Status:       string(checkin.Status),
		SourceText:   checkin.SourceText.String,
		Confidence:   checkin.Confidence.Float64,
		RiskLevel:    checkin.RiskLevel.String,
		UrgencyLevel: checkin.UrgencyLevel.String,
		ErrorMessage: checkin.ErrorMessage.String,
		CreatedAt:    checkin.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if checkin.Analysis.Valid {
		resp.Analysis = json.RawMessage(checkin.Analysis.RawMessage)
	}

	respond(w, http.StatusOK, resp)
}
