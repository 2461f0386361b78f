package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// ─── ENUMS ───────────────────────────────────────────────────────────────────
// String values match the Postgres enums in schema.sql exactly.

// RiskLevel is the categorical severity of detected mental-health risk.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// UrgencyLevel is how quickly a human should respond. This is a closed
// four-value set; provider strings like "critical" are folded into it before
// anything is persisted (see internal/analysis).
type UrgencyLevel string

const (
	UrgencyLevelLow       UrgencyLevel = "low"
	UrgencyLevelMedium    UrgencyLevel = "medium"
	UrgencyLevelHigh      UrgencyLevel = "high"
	UrgencyLevelImmediate UrgencyLevel = "immediate"
)

// AlertType identifies the event that produced an alert.
type AlertType string

const (
	AlertTypeImmediateVoice     AlertType = "immediate_voice"
	AlertTypeOnboardingAnalysis AlertType = "onboarding_analysis"
	AlertTypeCriticalRisk       AlertType = "critical_risk"
	AlertTypeDailySummary       AlertType = "daily_summary"
)

// ValidAlertType reports whether t is one of the known alert types.
// Dispatching with an unknown type is a programmer error, not a runtime
// condition, so callers reject it up front.
func ValidAlertType(t AlertType) bool {
	switch t {
	case AlertTypeImmediateVoice, AlertTypeOnboardingAnalysis, AlertTypeCriticalRisk, AlertTypeDailySummary:
		return true
	}
	return false
}

// RecipientType distinguishes the two classes of notification contact.
type RecipientType string

const (
	RecipientTypeCarePerson       RecipientType = "care_person"
	RecipientTypeEmergencyContact RecipientType = "emergency_contact"
)

// CheckinKind is the input modality of a check-in.
type CheckinKind string

const (
	CheckinKindVoice         CheckinKind = "voice"
	CheckinKindQuestionnaire CheckinKind = "questionnaire"
)

// CheckinStatus is the processing lifecycle of a check-in.
type CheckinStatus string

const (
	CheckinStatusPending    CheckinStatus = "pending"
	CheckinStatusProcessing CheckinStatus = "processing"
	CheckinStatusComplete   CheckinStatus = "complete"
	CheckinStatusError      CheckinStatus = "error"
)

// ─── ROW TYPES ───────────────────────────────────────────────────────────────

// User holds the profile fields the check-in pipeline reads. Account
// management (registration, password, preferences) lives in a separate
// service; this backend only ever reads these columns.
type User struct {
	ID                    uuid.UUID
	Name                  string
	Email                 string
	CarePersonEmail       sql.NullString
	EmergencyContactEmail sql.NullString
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Checkin is one submitted voice recording or questionnaire.
type Checkin struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Kind      CheckinKind
	Status    CheckinStatus
	AudioPath sql.NullString

	// Answers is the raw questionnaire payload (question id → answer text).
	// Null for voice check-ins.
	Answers pqtype.NullRawMessage

	// SourceText is the transcription for voice check-ins, or the free-text
	// portion of a questionnaire. Set when processing completes.
	SourceText      sql.NullString
	Confidence      sql.NullFloat64
	DurationSeconds sql.NullFloat64

	RiskLevel    sql.NullString // RiskLevel once complete
	UrgencyLevel sql.NullString // UrgencyLevel once complete
	Analysis     pqtype.NullRawMessage

	ErrorMessage sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Alert is the audit row for one notification attempt to one recipient.
// Rows are append-mostly: created by the dispatcher and mutated only by the
// send attempt and the retry sweep, never deleted here.
type Alert struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CheckinID uuid.NullUUID

	AlertType      AlertType
	RecipientEmail string
	RecipientType  RecipientType

	Subject string
	Body    string

	RiskLevel    RiskLevel
	UrgencyLevel UrgencyLevel

	// AnalysisSnapshot is the full assessment serialized at dispatch time, so
	// the audit trail is independent of any later analysis changes.
	AnalysisSnapshot pqtype.NullRawMessage

	SentSuccessfully bool
	SentAt           sql.NullTime
	ErrorMessage     sql.NullString

	RetryCount int32
	MaxRetries int32

	CreatedAt time.Time
	UpdatedAt time.Time
}
