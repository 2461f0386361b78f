package analysis

import (
	"context"
	"strconv"
	"strings"
)

// RuleBased is the terminal provider in the orchestrator chain. It derives a
// risk level from simple heuristics over the structured answers and a keyword
// scan of the text. It performs no I/O, never fails, and is fully
// deterministic for a given input.
type RuleBased struct{}

// NewRuleBased returns the deterministic fallback provider.
func NewRuleBased() RuleBased { return RuleBased{} }

func (RuleBased) Name() string { return "rule-based" }

// Heuristic thresholds over the 1-10 questionnaire scales.
const (
	highStressThreshold = 7 // stress_level >= 7 escalates to medium
	poorSleepThreshold  = 4 // sleep_quality <= 4 escalates to medium
)

// crisisKeywords escalate to high risk when found in the text. Matched as
// lowercase substrings; phrasing chosen to catch common formulations without
// tripping on clinical vocabulary ("my therapist asked about suicide risk"
// still matches — over-alerting is the acceptable direction here).
var crisisKeywords = []string{
	"suicide",
	"suicidal",
	"kill myself",
	"end my life",
	"want to die",
	"no reason to live",
	"self harm",
	"self-harm",
	"hurt myself",
}

// Assess applies the heuristic. The error return is always nil; it exists
// only to satisfy the Provider interface.
//
// Escalation ladder (checks run in fixed order, level only ever rises):
//
//	low      — default
//	medium   — stress_level >= 7, or sleep_quality <= 4, or a support-system
//	           answer indicating "limited"/"none"
//	high     — a crisis-plan answer indicating no plan exists, or a crisis
//	           keyword in the text
func (RuleBased) Assess(_ context.Context, in Input) (Assessment, error) {
	risk := RiskLow
	urgency := UrgencyLow
	concerns := []string{}
	indicators := map[string]string{
		"suicidal_ideation": "false",
		"self_harm_risk":    "false",
	}

	escalate := func(r RiskLevel, u UrgencyLevel) {
		if riskRank(r) > riskRank(risk) {
			risk = r
		}
		if urgencyRank(u) > urgencyRank(urgency) {
			urgency = u
		}
	}

	if v, ok := numericAnswer(in.Answers, "stress_level"); ok && v >= highStressThreshold {
		escalate(RiskMedium, UrgencyMedium)
		indicators["stress"] = "elevated"
		concerns = append(concerns, "Self-reported stress level is elevated")
	}

	if v, ok := numericAnswer(in.Answers, "sleep_quality"); ok && v <= poorSleepThreshold {
		escalate(RiskMedium, UrgencyMedium)
		indicators["sleep"] = "poor"
		concerns = append(concerns, "Self-reported sleep quality is poor")
	}

	if support, ok := in.Answers["support_system"]; ok {
		s := strings.ToLower(support)
		if strings.Contains(s, "limited") || strings.Contains(s, "none") || strings.Contains(s, "no one") {
			escalate(RiskMedium, UrgencyMedium)
			indicators["support_system"] = "limited"
			concerns = append(concerns, "Limited or no support system reported")
		}
	}

	if plan, ok := in.Answers["crisis_plan"]; ok {
		s := strings.ToLower(plan)
		if s == "no" || s == "none" || strings.Contains(s, "no plan") || strings.Contains(s, "don't have") || strings.Contains(s, "do not have") {
			escalate(RiskHigh, UrgencyHigh)
			indicators["crisis_plan"] = "absent"
			concerns = append(concerns, "No crisis plan in place")
		}
	}

	lower := strings.ToLower(in.Text)
	for _, kw := range crisisKeywords {
		if strings.Contains(lower, kw) {
			escalate(RiskHigh, UrgencyHigh)
			indicators["suicidal_ideation"] = "true"
			indicators["self_harm_risk"] = "true"
			concerns = append(concerns, "Language indicating possible self-harm risk")
			break
		}
	}

	name := in.UserName
	if name == "" {
		name = "The user"
	}

	return Assessment{
		RiskLevel:           risk,
		UrgencyLevel:        urgency,
		Indicators:          indicators,
		KeyConcerns:         concerns,
		Summary:             ruleBasedSummary(name, risk, len(concerns)),
		Recommendations:     ruleBasedRecommendations(risk),
		CarePersonAlertText: ruleBasedAlertText(name, risk),
		SourceText:          in.Text,
	}, nil
}

// ─── DETERMINISTIC TEXT ──────────────────────────────────────────────────────

func ruleBasedSummary(name string, risk RiskLevel, concernCount int) string {
	switch {
	case concernCount == 0:
		return name + " completed a check-in with no notable risk signals. Automated screening found nothing requiring follow-up."
	case risk == RiskHigh || risk == RiskCritical:
		return name + " completed a check-in with signals that warrant prompt attention. This assessment was produced by automated screening; a human should review the check-in directly."
	default:
		return name + " completed a check-in with some signals worth keeping an eye on. This assessment was produced by automated screening."
	}
}

func ruleBasedRecommendations(risk RiskLevel) []string {
	switch risk {
	case RiskHigh, RiskCritical:
		return []string{
			"Reach out to the user directly today",
			"Review the full check-in text",
			"Encourage contact with a mental health professional",
		}
	case RiskMedium:
		return []string{
			"Check in with the user over the next few days",
			"Review the full check-in text",
		}
	default:
		return []string{"No action needed; continue regular check-ins"}
	}
}

func ruleBasedAlertText(name string, risk RiskLevel) string {
	switch risk {
	case RiskHigh, RiskCritical:
		return name + "'s latest check-in raised signals that need prompt attention. Please reach out to them soon."
	case RiskMedium:
		return name + "'s latest check-in raised a few signals worth being aware of."
	default:
		return name + " completed a check-in. Nothing in it suggested cause for concern."
	}
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

func numericAnswer(answers map[string]string, key string) (float64, bool) {
	raw, ok := answers[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func riskRank(r RiskLevel) int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return 0
}

func urgencyRank(u UrgencyLevel) int {
	switch u {
	case UrgencyLow:
		return 0
	case UrgencyMedium:
		return 1
	case UrgencyHigh:
		return 2
	case UrgencyImmediate:
		return 3
	}
	return 0
}
