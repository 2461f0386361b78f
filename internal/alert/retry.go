package alert

import (
	"context"
	"fmt"

	"github.com/wellbeam/checkin-backend/internal/db"
)

// RetryFailed sweeps alert rows that failed and have retries remaining
// (sent_successfully=false AND retry_count < max_retries) and re-attempts
// them. It returns the number of records for which a send was actually
// re-attempted; rows skipped for rate limiting or exhausted for a bad address
// are not counted.
//
// Per record:
//   - re-validate the address: an invalid one is exhausted on the spot
//     (retry_count set to max_retries) so it never comes back
//   - re-check the rate limit: a limited record sits out this cycle with a
//     refreshed error_message; its retry_count is left untouched
//   - otherwise increment retry_count unconditionally, send, and record the
//     outcome
//
// Individual record failures are logged and do not stop the sweep; only a
// failure to list candidates is returned as an error.
func (d *Dispatcher) RetryFailed(ctx context.Context) (int, error) {
	candidates, err := d.q.ListRetryableAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("alert: list retryable alerts: %w", err)
	}

	retried := 0
	for _, rec := range candidates {
		log := d.logger.With("alert_id", rec.ID, "recipient", rec.RecipientEmail)

		// Addresses do not get better with time: exhaust and move on.
		if !validEmail(rec.RecipientEmail) {
			if _, err := d.q.MarkAlertFailed(ctx, db.MarkAlertFailedParams{
				ID:           rec.ID,
				ErrorMessage: errInvalidEmail,
			}); err != nil {
				log.Error("alert: retry: could not mark invalid address", "error", err)
				continue
			}
			if _, err := d.q.SetAlertRetryCount(ctx, db.SetAlertRetryCountParams{
				ID:         rec.ID,
				RetryCount: rec.MaxRetries,
			}); err != nil {
				log.Error("alert: retry: could not exhaust retries", "error", err)
			}
			continue
		}

		// Still limited: skip this cycle without consuming a retry.
		allowed, reason, err := d.limiter.Check(ctx, rec.RecipientEmail, rec.UserID)
		if err != nil {
			log.Error("alert: retry: rate limit check failed, allowing send", "error", err)
			allowed = true
		}
		if !allowed {
			if _, err := d.q.MarkAlertFailed(ctx, db.MarkAlertFailedParams{
				ID:           rec.ID,
				ErrorMessage: reason,
			}); err != nil {
				log.Error("alert: retry: could not refresh rate limit reason", "error", err)
			}
			continue
		}

		// The attempt consumes a retry whether or not it succeeds.
		updated, err := d.q.IncrementAlertRetryCount(ctx, rec.ID)
		if err != nil {
			log.Error("alert: retry: could not increment retry count", "error", err)
			continue
		}

		updated = d.attemptSend(ctx, updated, log)
		retried++

		if !updated.SentSuccessfully && updated.RetryCount >= updated.MaxRetries {
			// Terminal: visible for manual operator retry, never swept again.
			log.Warn("alert: retries exhausted",
				"retry_count", updated.RetryCount,
				"last_error", updated.ErrorMessage.String,
			)
		}
	}

	return retried, nil
}
