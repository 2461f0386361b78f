package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wellbeam/checkin-backend/internal/db"
)

// RateLimitConfig holds the sliding-window thresholds. Both gates must pass
// for a send to proceed. Zero values fall back to the defaults.
type RateLimitConfig struct {
	// MaxPerRecipient is the cap on successful sends to one recipient address
	// within RecipientWindow. Default: 5.
	MaxPerRecipient int

	// RecipientWindow is the trailing window for the per-recipient count.
	// Default: 1 hour.
	RecipientWindow time.Duration

	// MaxPerUser is the cap on successful sends attributed to one user within
	// UserWindow. Default: 10.
	MaxPerUser int

	// UserWindow is the trailing window for the per-user count. Default: 60m.
	UserWindow time.Duration
}

// DefaultRateLimitConfig returns the production defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerRecipient: 5,
		RecipientWindow: time.Hour,
		MaxPerUser:      10,
		UserWindow:      60 * time.Minute,
	}
}

// RateLimiter gates sends on recent alert history. The counts are recomputed
// from alert rows on every check — nothing is cached, and no lock is taken:
// this is a best-effort spam guard, and two concurrent dispatches racing past
// the same count is an accepted tradeoff, not a correctness violation.
type RateLimiter struct {
	q   db.Querier
	cfg RateLimitConfig
}

// NewRateLimiter constructs a RateLimiter over the given store.
func NewRateLimiter(q db.Querier, cfg RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.MaxPerRecipient <= 0 {
		cfg.MaxPerRecipient = def.MaxPerRecipient
	}
	if cfg.RecipientWindow <= 0 {
		cfg.RecipientWindow = def.RecipientWindow
	}
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = def.MaxPerUser
	}
	if cfg.UserWindow <= 0 {
		cfg.UserWindow = def.UserWindow
	}
	return &RateLimiter{q: q, cfg: cfg}
}

// Check evaluates both gates. It returns (false, reason, nil) when a gate
// fails — the reason is a human-readable string the dispatcher records on
// the audit row, not an error: being rate-limited is an expected branch.
// A non-nil error means the history could not be read at all.
func (l *RateLimiter) Check(ctx context.Context, recipientEmail string, userID uuid.UUID) (bool, string, error) {
	now := time.Now()

	recipientCount, err := l.q.CountRecentRecipientSends(ctx, db.CountRecentRecipientSendsParams{
		RecipientEmail: recipientEmail,
		Since:          now.Add(-l.cfg.RecipientWindow),
	})
	if err != nil {
		return false, "", fmt.Errorf("ratelimit: count recipient sends: %w", err)
	}
	if recipientCount >= int64(l.cfg.MaxPerRecipient) {
		reason := fmt.Sprintf("Rate limit exceeded: %d alerts already sent to %s in the last %s (max %d)",
			recipientCount, recipientEmail, formatWindow(l.cfg.RecipientWindow), l.cfg.MaxPerRecipient)
		return false, reason, nil
	}

	userCount, err := l.q.CountRecentUserSends(ctx, db.CountRecentUserSendsParams{
		UserID: userID,
		Since:  now.Add(-l.cfg.UserWindow),
	})
	if err != nil {
		return false, "", fmt.Errorf("ratelimit: count user sends: %w", err)
	}
	if userCount >= int64(l.cfg.MaxPerUser) {
		reason := fmt.Sprintf("Rate limit exceeded: %d alerts already sent for this user in the last %s (max %d)",
			userCount, formatWindow(l.cfg.UserWindow), l.cfg.MaxPerUser)
		return false, reason, nil
	}

	return true, "", nil
}

// formatWindow renders a duration the way a human reads it in an alert audit
// row ("1h0m0s" is noise; "60 minutes" is not).
func formatWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
