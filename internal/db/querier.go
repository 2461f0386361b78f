package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Querier is the interface handlers, services, and the worker depend on.
// *Queries implements it; tests substitute in-memory stubs.
type Querier interface {
	// Users (read-only — account management is a separate service).
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)

	// Check-ins.
	CreateCheckin(ctx context.Context, arg CreateCheckinParams) (Checkin, error)
	GetCheckinByID(ctx context.Context, id uuid.UUID) (Checkin, error)
	ListPendingCheckins(ctx context.Context, staleBefore time.Time) ([]Checkin, error)
	ClaimCheckin(ctx context.Context, arg ClaimCheckinParams) (Checkin, error)
	SetCheckinSource(ctx context.Context, arg SetCheckinSourceParams) (Checkin, error)
	FinalizeCheckin(ctx context.Context, arg FinalizeCheckinParams) (Checkin, error)
	SetCheckinError(ctx context.Context, arg SetCheckinErrorParams) (Checkin, error)

	// Alerts.
	CreateAlert(ctx context.Context, arg CreateAlertParams) (Alert, error)
	MarkAlertSent(ctx context.Context, id uuid.UUID) (Alert, error)
	MarkAlertFailed(ctx context.Context, arg MarkAlertFailedParams) (Alert, error)
	SetAlertRetryCount(ctx context.Context, arg SetAlertRetryCountParams) (Alert, error)
	IncrementAlertRetryCount(ctx context.Context, id uuid.UUID) (Alert, error)
	ListRetryableAlerts(ctx context.Context) ([]Alert, error)
	ListAlertsByUser(ctx context.Context, userID uuid.UUID) ([]Alert, error)
	CountRecentRecipientSends(ctx context.Context, arg CountRecentRecipientSendsParams) (int64, error)
	CountRecentUserSends(ctx context.Context, arg CountRecentUserSendsParams) (int64, error)
}

var _ Querier = (*Queries)(nil)

// ─── PARAM TYPES ─────────────────────────────────────────────────────────────

type CountRecentRecipientSendsParams struct {
	RecipientEmail string
	Since          time.Time
}

type CountRecentUserSendsParams struct {
	UserID uuid.UUID
	Since  time.Time
}
