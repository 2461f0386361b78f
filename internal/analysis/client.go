// Package analysis produces risk assessments from check-in text and
// questionnaire answers. Providers are tried in priority order by the
// Orchestrator; the final provider is a deterministic rule-based fallback
// that cannot fail, so callers always receive a usable Assessment.
package analysis

import "context"

// RiskLevel is the categorical severity of detected risk. Closed set; the
// normalization step folds anything else to medium.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// UrgencyLevel is how quickly a human should respond. Closed four-value set:
// provider output of "critical" is folded to "immediate", anything else
// unrecognized to "low".
type UrgencyLevel string

const (
	UrgencyLow       UrgencyLevel = "low"
	UrgencyMedium    UrgencyLevel = "medium"
	UrgencyHigh      UrgencyLevel = "high"
	UrgencyImmediate UrgencyLevel = "immediate"
)

// Assessment is the canonical result shape. Immutable once produced: the
// dispatcher serializes it into each alert row's analysis_snapshot, and
// message rendering from that snapshot must be reproducible byte-for-byte.
//
// Indicator values are strings; boolean signals (suicidal_ideation,
// self_harm_risk) are stored as "true"/"false" so the whole map serializes
// uniformly.
type Assessment struct {
	RiskLevel           RiskLevel         `json:"risk_level"`
	UrgencyLevel        UrgencyLevel      `json:"urgency_level"`
	Indicators          map[string]string `json:"indicators"`
	KeyConcerns         []string          `json:"key_concerns"`
	Summary             string            `json:"summary"`
	Recommendations     []string          `json:"recommendations"`
	CarePersonAlertText string            `json:"care_person_alert_text"`

	// SourceText is the transcription or questionnaire text that produced
	// this assessment, retained for audit.
	SourceText string `json:"source_text"`
}

// FreeTextAnswerKey is the reserved answer key under which a questionnaire's
// free-text portion is stored when the answers map is persisted. Callers that
// rebuild an Input from stored answers read Text back from this key.
const FreeTextAnswerKey = "free_text"

// Input is what a provider assesses: free text (a transcription or the
// written portion of a questionnaire) plus optional structured answers.
//
// Recognized answer keys for the rule-based heuristic: "stress_level" (1-10),
// "sleep_quality" (1-10), "support_system", "crisis_plan" (free text).
type Input struct {
	Text     string
	Answers  map[string]string
	UserName string
}

// Provider is one risk-assessment backend. Implementations must be safe for
// concurrent use. A non-nil error means the call failed entirely; the
// Orchestrator moves on to the next provider.
type Provider interface {
	Name() string
	Assess(ctx context.Context, in Input) (Assessment, error)
}
