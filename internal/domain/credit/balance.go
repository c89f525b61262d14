package credit

import (
	"time"

	"github.com/google/uuid"
)

// Default auto-refill settings applied when a balance row is lazily created
const (
	DefaultRefillAmountCents int64 = 1_000  // $10 top-up
	DefaultRefillThreshold   int64 = 10_000 // Refill when balance drops below 10k credits

	// Settings floors enforced on update
	MinRefillAmountCents int64 = 500
	MinRefillThreshold   int64 = 1_000
)

// CreditBalance is the mutable prepaid balance aggregate, exactly one row
// per tenant, created lazily on first need with a zero balance and
// auto-refill disabled.
type CreditBalance struct {
	TenantID            uuid.UUID
	Balance             int64 // Current balance in credits, never negative
	AutoRefillEnabled   bool
	AutoRefillThreshold int64 // Refill triggers when balance drops below this
	RefillAmountCents   int64 // Configured top-up size, matched to the closest pack
	MonthlyCapCents     int64 // Spending cap for auto-refill charges, 0 = uncapped
	MonthlySpentCents   int64 // Auto-refill spend accumulated this cycle
	MonthlyResetAt      time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewCreditBalance returns the lazily-created default balance for a tenant
func NewCreditBalance(tenantID uuid.UUID) *CreditBalance {
	now := time.Now().UTC()
	return &CreditBalance{
		TenantID:            tenantID,
		Balance:             0,
		AutoRefillEnabled:   false,
		AutoRefillThreshold: DefaultRefillThreshold,
		RefillAmountCents:   DefaultRefillAmountCents,
		MonthlyResetAt:      NextMonthResetUTC(now),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// NeedsRefill reports whether the post-debit balance should trigger an
// auto-refill attempt.
func (b *CreditBalance) NeedsRefill(newBalance int64) bool {
	return b.AutoRefillEnabled && newBalance < b.AutoRefillThreshold
}

// CapBlocksRefill reports whether the monthly cost cap forbids charging
// the configured refill amount this cycle. A zero cap means uncapped.
func (b *CreditBalance) CapBlocksRefill() bool {
	return b.MonthlyCapCents > 0 && b.MonthlySpentCents+b.RefillAmountCents > b.MonthlyCapCents
}

// MonthlyResetDue reports whether the monthly spend cycle has lapsed
func (b *CreditBalance) MonthlyResetDue(now time.Time) bool {
	return !b.MonthlyResetAt.IsZero() && b.MonthlyResetAt.Before(now)
}

// NextMonthResetUTC returns the first instant of the next UTC calendar month
func NextMonthResetUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// RefillSettings carries a tenant's auto-refill configuration update.
// Nil fields are left unchanged; values below the floors are clamped.
type RefillSettings struct {
	Enabled         *bool
	AmountCents     *int64
	Threshold       *int64
	MonthlyCapCents *int64
}

// Apply merges the settings into the balance, clamping to the floors
func (s RefillSettings) Apply(b *CreditBalance) {
	if s.Enabled != nil {
		b.AutoRefillEnabled = *s.Enabled
	}
	if s.AmountCents != nil {
		b.RefillAmountCents = max(MinRefillAmountCents, *s.AmountCents)
	}
	if s.Threshold != nil {
		b.AutoRefillThreshold = max(MinRefillThreshold, *s.Threshold)
	}
	if s.MonthlyCapCents != nil {
		b.MonthlyCapCents = max(0, *s.MonthlyCapCents)
	}
	b.UpdatedAt = time.Now().UTC()
}
