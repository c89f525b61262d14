package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/automna/backend/internal/domain/credit"
	"github.com/automna/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreditBalanceModel is the GORM model for credit balances
type CreditBalanceModel struct {
	TenantID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Balance             int64     `gorm:"not null;default:0"`
	AutoRefillEnabled   bool      `gorm:"not null;default:false"`
	AutoRefillThreshold int64     `gorm:"not null"`
	RefillAmountCents   int64     `gorm:"not null"`
	MonthlyCapCents     int64     `gorm:"not null;default:0"`
	MonthlySpentCents   int64     `gorm:"not null;default:0"`
	MonthlyResetAt      time.Time `gorm:"not null"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (CreditBalanceModel) TableName() string {
	return "credit_balances"
}

// ToEntity converts the model to a domain entity
func (m *CreditBalanceModel) ToEntity() *credit.CreditBalance {
	return &credit.CreditBalance{
		TenantID:            m.TenantID,
		Balance:             m.Balance,
		AutoRefillEnabled:   m.AutoRefillEnabled,
		AutoRefillThreshold: m.AutoRefillThreshold,
		RefillAmountCents:   m.RefillAmountCents,
		MonthlyCapCents:     m.MonthlyCapCents,
		MonthlySpentCents:   m.MonthlySpentCents,
		MonthlyResetAt:      m.MonthlyResetAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

// CreditBalanceModelFromEntity creates a model from a domain entity
func CreditBalanceModelFromEntity(e *credit.CreditBalance) *CreditBalanceModel {
	return &CreditBalanceModel{
		TenantID:            e.TenantID,
		Balance:             e.Balance,
		AutoRefillEnabled:   e.AutoRefillEnabled,
		AutoRefillThreshold: e.AutoRefillThreshold,
		RefillAmountCents:   e.RefillAmountCents,
		MonthlyCapCents:     e.MonthlyCapCents,
		MonthlySpentCents:   e.MonthlySpentCents,
		MonthlyResetAt:      e.MonthlyResetAt,
		CreatedAt:           e.CreatedAt,
		UpdatedAt:           e.UpdatedAt,
	}
}

// CreditBalanceRepository implements the credit.BalanceRepository interface
type CreditBalanceRepository struct {
	db *gorm.DB
}

// NewCreditBalanceRepository creates a new credit balance repository
func NewCreditBalanceRepository(db *gorm.DB) *CreditBalanceRepository {
	return &CreditBalanceRepository{db: db}
}

// Find retrieves a tenant's balance
func (r *CreditBalanceRepository) Find(ctx context.Context, tenantID uuid.UUID) (*credit.CreditBalance, error) {
	var model CreditBalanceModel
	if err := r.db.WithContext(ctx).First(&model, "tenant_id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindOrCreate retrieves a balance, lazily inserting the default row.
// Concurrent first calls race on the insert; the conflict clause makes
// the loser re-read the winner's row.
func (r *CreditBalanceRepository) FindOrCreate(ctx context.Context, tenantID uuid.UUID) (*credit.CreditBalance, error) {
	model := CreditBalanceModelFromEntity(credit.NewCreditBalance(tenantID))
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model).Error
	if err != nil {
		return nil, err
	}

	var current CreditBalanceModel
	if err := r.db.WithContext(ctx).First(&current, "tenant_id = ?", tenantID).Error; err != nil {
		return nil, err
	}
	return current.ToEntity(), nil
}

// SetBalance writes an absolute balance value. Seeding and support
// tooling only; settlement debits go through DebitClamped.
func (r *CreditBalanceRepository) SetBalance(ctx context.Context, tenantID uuid.UUID, balance int64) error {
	result := r.db.WithContext(ctx).
		Model(&CreditBalanceModel{}).
		Where("tenant_id = ?", tenantID).
		Update("balance", balance)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DebitClamped reduces the balance with server-side arithmetic, clamping
// at zero. The clamp runs inside the UPDATE itself, so a grant landing
// between the caller's read and this write is never overwritten.
func (r *CreditBalanceRepository) DebitClamped(ctx context.Context, tenantID uuid.UUID, amount int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&CreditBalanceModel{}).
		Where("tenant_id = ?", tenantID).
		Update("balance", gorm.Expr("CASE WHEN balance >= ? THEN balance - ? ELSE 0 END", amount, amount))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, shared.ErrNotFound
	}

	var model CreditBalanceModel
	if err := r.db.WithContext(ctx).Select("balance").First(&model, "tenant_id = ?", tenantID).Error; err != nil {
		return 0, err
	}
	return model.Balance, nil
}

// AddCredits applies a balance increase and spend accumulation with
// server-side arithmetic so concurrent grants never lose updates
func (r *CreditBalanceRepository) AddCredits(ctx context.Context, tenantID uuid.UUID, creditDelta, spentCentsDelta int64) error {
	result := r.db.WithContext(ctx).
		Model(&CreditBalanceModel{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"balance":             gorm.Expr("balance + ?", creditDelta),
			"monthly_spent_cents": gorm.Expr("monthly_spent_cents + ?", spentCentsDelta),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ResetMonthlySpent zeroes the cycle spend and advances the reset mark
func (r *CreditBalanceRepository) ResetMonthlySpent(ctx context.Context, tenantID uuid.UUID, nextReset time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&CreditBalanceModel{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"monthly_spent_cents": 0,
			"monthly_reset_at":    nextReset,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdateSettings persists the auto-refill configuration fields
func (r *CreditBalanceRepository) UpdateSettings(ctx context.Context, balance *credit.CreditBalance) error {
	result := r.db.WithContext(ctx).
		Model(&CreditBalanceModel{}).
		Where("tenant_id = ?", balance.TenantID).
		Updates(map[string]any{
			"auto_refill_enabled":   balance.AutoRefillEnabled,
			"auto_refill_threshold": balance.AutoRefillThreshold,
			"refill_amount_cents":   balance.RefillAmountCents,
			"monthly_cap_cents":     balance.MonthlyCapCents,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}
