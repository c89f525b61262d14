package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UsageEventRepository is the append-only usage ledger
type UsageEventRepository interface {
	// Append persists a new usage event. Events are never updated or deleted.
	Append(ctx context.Context, event *UsageEvent) error

	// MonthlyCreditsUsed sums the credit amounts of all events for the
	// tenant since the start of the current UTC calendar month. Recomputed
	// on every call; there is no incremental counter to drift.
	MonthlyCreditsUsed(ctx context.Context, tenantID uuid.UUID) (int64, error)

	// MonthlyTotalsByKind aggregates the current month's events per kind
	MonthlyTotalsByKind(ctx context.Context, tenantID uuid.UUID) ([]KindTotal, error)

	// FindByTenant lists events for a tenant in a time range, newest first
	FindByTenant(ctx context.Context, tenantID uuid.UUID, from, to time.Time, limit int) ([]*UsageEvent, error)
}

// RateWindowRepository manages the live per-minute counter rows
type RateWindowRepository interface {
	// GetOrCreate returns the tenant's window, creating a zeroed row for
	// the given minute when none exists.
	GetOrCreate(ctx context.Context, tenantID uuid.UUID, minute int64) (*RateWindow, error)

	// Reset adopts a new minute bucket and zeroes the counter
	Reset(ctx context.Context, tenantID uuid.UUID, minute int64) error

	// Increment adds one to the counter using a server-side arithmetic
	// update, never a read-modify-write in application code.
	Increment(ctx context.Context, tenantID uuid.UUID) error
}
