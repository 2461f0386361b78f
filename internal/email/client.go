// Package email defines the interface for alert email delivery and provides
// a Resend-backed implementation.
package email

import "context"

// AlertParams holds one rendered alert message. Subject and body are rendered
// by the dispatcher before the send and persisted verbatim on the alert row.
type AlertParams struct {
	To      string // recipient email address
	Subject string
	HTML    string
}

// Sender is the interface the alert dispatcher uses to deliver mail.
// Implementations must not panic on ordinary delivery failures — auth errors,
// refused connections and provider rejections surface as a returned error,
// which the dispatcher records on the alert row. Tests inject a stub that
// records calls without hitting the network.
type Sender interface {
	SendAlert(ctx context.Context, p AlertParams) error
}
