// Package alert implements the risk-alerting pipeline: deriving recipients
// from a user profile, rate-limiting notification volume, dispatching alert
// email with a full audit trail, and retrying failed sends. Everything here
// is constructed explicitly and injected — no package-level state.
package alert

import (
	"strings"

	"github.com/wellbeam/checkin-backend/internal/db"
)

// Recipient is one notification target.
type Recipient struct {
	Email string
	Type  db.RecipientType
}

// ResolveRecipients derives the notification list from the user's profile.
// Pure function, no I/O: care person first (when configured), then emergency
// contact, preserving that order. An empty result means no notification is
// possible — callers must report that distinctly from a send failure.
func ResolveRecipients(u db.User) []Recipient {
	var out []Recipient

	if u.CarePersonEmail.Valid && strings.TrimSpace(u.CarePersonEmail.String) != "" {
		out = append(out, Recipient{
			Email: strings.TrimSpace(u.CarePersonEmail.String),
			Type:  db.RecipientTypeCarePerson,
		})
	}

	if u.EmergencyContactEmail.Valid && strings.TrimSpace(u.EmergencyContactEmail.String) != "" {
		out = append(out, Recipient{
			Email: strings.TrimSpace(u.EmergencyContactEmail.String),
			Type:  db.RecipientTypeEmergencyContact,
		})
	}

	return out
}
