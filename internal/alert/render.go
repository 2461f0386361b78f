package alert

import (
	"fmt"
	"html"
	"strings"

	"github.com/wellbeam/checkin-backend/internal/analysis"
	"github.com/wellbeam/checkin-backend/internal/db"
)

// EffectiveUrgency applies the per-alert-type urgency conventions:
//
//	immediate_voice — always high: a user choosing to record audio is itself
//	                  treated as alert-worthy, whatever the assessment says
//	critical_risk   — always immediate
//	everything else — carried from the assessment
func EffectiveUrgency(t db.AlertType, assessed analysis.UrgencyLevel) analysis.UrgencyLevel {
	switch t {
	case db.AlertTypeImmediateVoice:
		return analysis.UrgencyHigh
	case db.AlertTypeCriticalRisk:
		return analysis.UrgencyImmediate
	default:
		return assessed
	}
}

// RenderMessage produces the subject and HTML body for one recipient. It is a
// pure function of its arguments: re-rendering from a stored analysis
// snapshot must reproduce the original message byte for byte, so nothing here
// may consult the clock, maps in iteration order, or any other ambient state.
//
// The business content is identical for both recipient types; only the
// framing differs — emergency contacts get more directive language.
func RenderMessage(t db.AlertType, rt db.RecipientType, a analysis.Assessment, userName string) (subject, body string) {
	urgency := EffectiveUrgency(t, a.UrgencyLevel)
	name := userName
	if name == "" {
		name = "the user"
	}

	subject = renderSubject(t, name, urgency)
	body = renderBody(rt, a, name, urgency)
	return subject, body
}

func renderSubject(t db.AlertType, name string, urgency analysis.UrgencyLevel) string {
	switch t {
	case db.AlertTypeImmediateVoice:
		return fmt.Sprintf("New voice check-in from %s — urgency: %s", name, urgency)
	case db.AlertTypeCriticalRisk:
		return fmt.Sprintf("URGENT: critical risk indicators for %s — urgency: %s", name, urgency)
	case db.AlertTypeOnboardingAnalysis:
		return fmt.Sprintf("Onboarding wellbeing assessment for %s — urgency: %s", name, urgency)
	case db.AlertTypeDailySummary:
		return fmt.Sprintf("Daily wellbeing summary for %s — urgency: %s", name, urgency)
	default:
		// Unknown types are rejected before dispatch; this branch keeps the
		// renderer total.
		return fmt.Sprintf("Wellbeing alert for %s — urgency: %s", name, urgency)
	}
}

func renderBody(rt db.RecipientType, a analysis.Assessment, name string, urgency analysis.UrgencyLevel) string {
	esc := html.EscapeString

	var opening string
	if rt == db.RecipientTypeEmergencyContact {
		opening = fmt.Sprintf("You are listed as %s's emergency contact. Please read this carefully and check on them as soon as you can.", esc(name))
	} else {
		opening = fmt.Sprintf("You are listed as %s's care person. Their recent check-in raised some things you should be aware of.", esc(name))
	}

	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto; padding: 24px;">
`)
	fmt.Fprintf(&sb, "  <h2 style=\"margin-bottom: 8px;\">Wellbeing alert — risk: %s, urgency: %s</h2>\n", esc(string(a.RiskLevel)), esc(string(urgency)))
	fmt.Fprintf(&sb, "  <p>%s</p>\n", opening)

	if a.CarePersonAlertText != "" {
		fmt.Fprintf(&sb, "  <p>%s</p>\n", esc(a.CarePersonAlertText))
	}

	if a.Summary != "" {
		fmt.Fprintf(&sb, "  <p style=\"color: #374151;\"><strong>Summary:</strong> %s</p>\n", esc(a.Summary))
	}

	if len(a.KeyConcerns) > 0 {
		sb.WriteString("  <p style=\"margin-bottom: 4px;\"><strong>Key concerns:</strong></p>\n  <ul>\n")
		for _, c := range a.KeyConcerns {
			fmt.Fprintf(&sb, "    <li>%s</li>\n", esc(c))
		}
		sb.WriteString("  </ul>\n")
	}

	if len(a.Recommendations) > 0 {
		sb.WriteString("  <p style=\"margin-bottom: 4px;\"><strong>Suggested next steps:</strong></p>\n  <ul>\n")
		for _, r := range a.Recommendations {
			fmt.Fprintf(&sb, "    <li>%s</li>\n", esc(r))
		}
		sb.WriteString("  </ul>\n")
	}

	if rt == db.RecipientTypeEmergencyContact {
		fmt.Fprintf(&sb, "  <p><strong>Please contact %s directly now.</strong> If you believe they are in immediate danger, contact local emergency services.</p>\n", esc(name))
	} else {
		fmt.Fprintf(&sb, "  <p>When you have a moment, reach out to %s — a simple message can make a difference.</p>\n", esc(name))
	}

	sb.WriteString(`  <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 32px 0;">
  <p style="color: #9ca3af; font-size: 12px;">
    This alert was generated automatically from a wellbeing check-in. It is not a medical diagnosis.
  </p>
</body>
</html>`)

	return sb.String()
}
