package analysis

import (
	"fmt"
	"strconv"
	"strings"
)

// Normalize maps an untyped provider response onto the Assessment shape,
// field by field. Missing fields get safe defaults (empty string, empty —
// never nil — slices, empty map) and out-of-enum level strings are folded to
// a known value, so a malformed upstream response can neither drop required
// fields nor smuggle an unrecognized state into the alert pipeline.
func Normalize(raw map[string]any, sourceText string) Assessment {
	return Assessment{
		RiskLevel:           NormalizeRiskLevel(stringField(raw, "risk_level")),
		UrgencyLevel:        NormalizeUrgencyLevel(stringField(raw, "urgency_level")),
		Indicators:          indicatorsField(raw, "indicators"),
		KeyConcerns:         stringListField(raw, "key_concerns"),
		Summary:             stringField(raw, "summary"),
		Recommendations:     stringListField(raw, "recommendations"),
		CarePersonAlertText: stringField(raw, "care_person_alert_text"),
		SourceText:          sourceText,
	}
}

// NormalizeRiskLevel folds a free-text risk level into the closed enum.
// Unknown values map to medium: a level we cannot interpret must neither
// silence an alert (low) nor trigger a crisis response (critical) on its own.
func NormalizeRiskLevel(s string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow
	case RiskMedium:
		return RiskMedium
	case RiskHigh:
		return RiskHigh
	case RiskCritical:
		return RiskCritical
	default:
		return RiskMedium
	}
}

// NormalizeUrgencyLevel folds a free-text urgency into the closed enum.
// "critical" (which some models emit interchangeably with "immediate") maps
// to immediate; anything else unrecognized maps to low.
func NormalizeUrgencyLevel(s string) UrgencyLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(UrgencyLow):
		return UrgencyLow
	case string(UrgencyMedium):
		return UrgencyMedium
	case string(UrgencyHigh):
		return UrgencyHigh
	case string(UrgencyImmediate), "critical":
		return UrgencyImmediate
	default:
		return UrgencyLow
	}
}

// ─── FIELD EXTRACTION ────────────────────────────────────────────────────────

func stringField(raw map[string]any, key string) string {
	if s, ok := raw[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// stringListField accepts a JSON array and keeps only its string elements.
// Absent or malformed values yield an empty, non-nil slice so the field
// serializes as [] rather than null.
func stringListField(raw map[string]any, key string) []string {
	out := []string{}
	list, ok := raw[key].([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// indicatorsField coerces the indicators object to map[string]string.
// Booleans become "true"/"false", numbers their shortest decimal form.
// Nested objects/arrays are dropped.
func indicatorsField(raw map[string]any, key string) map[string]string {
	out := map[string]string{}
	m, ok := raw[key].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = strings.TrimSpace(val)
		case bool:
			out[k] = strconv.FormatBool(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return out
}

// Describe returns a compact one-line form of the assessment for logs.
func (a Assessment) Describe() string {
	return fmt.Sprintf("risk=%s urgency=%s concerns=%d", a.RiskLevel, a.UrgencyLevel, len(a.KeyConcerns))
}
