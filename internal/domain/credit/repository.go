package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BalanceRepository manages the per-tenant prepaid balance rows
type BalanceRepository interface {
	// Find returns the tenant's balance, or shared.ErrNotFound when the
	// tenant has no credit record at all.
	Find(ctx context.Context, tenantID uuid.UUID) (*CreditBalance, error)

	// FindOrCreate returns the balance, lazily creating the default row
	FindOrCreate(ctx context.Context, tenantID uuid.UUID) (*CreditBalance, error)

	// DebitClamped reduces the balance by amount with server-side
	// arithmetic, clamping at zero, and returns the post-debit balance.
	// Returns shared.ErrNotFound when the tenant has no balance row.
	DebitClamped(ctx context.Context, tenantID uuid.UUID, amount int64) (int64, error)

	// AddCredits applies a server-side arithmetic balance increase and
	// adds the charged price to the monthly auto-refill spend.
	AddCredits(ctx context.Context, tenantID uuid.UUID, creditDelta, spentCentsDelta int64) error

	// ResetMonthlySpent zeroes the cycle spend and advances the reset mark
	ResetMonthlySpent(ctx context.Context, tenantID uuid.UUID, nextReset time.Time) error

	// UpdateSettings persists the auto-refill configuration fields
	UpdateSettings(ctx context.Context, balance *CreditBalance) error
}

// TransactionRepository is the append-only credit ledger
type TransactionRepository interface {
	// Append persists a ledger line. For bonus transactions the unique
	// (tenant, type=bonus) constraint is the idempotency boundary:
	// a duplicate insert returns shared.ErrAlreadyExists.
	Append(ctx context.Context, tx *CreditTransaction) error

	// RecentByTenant lists the newest ledger lines for a tenant
	RecentByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*CreditTransaction, error)

	// HasAny reports whether any ledger line exists for the tenant
	HasAny(ctx context.Context, tenantID uuid.UUID) (bool, error)
}
