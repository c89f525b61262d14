package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/automna/backend/internal/domain/credit"
	"github.com/automna/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreditTransactionModel is the GORM model for credit ledger lines.
// BonusKey is set to the tenant id on bonus rows only; its unique index
// enforces the at-most-one-bonus rule at the database, while NULL values
// on every other row never collide.
type CreditTransactionModel struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID     uuid.UUID  `gorm:"type:uuid;index;not null"`
	Type         string     `gorm:"type:varchar(20);not null"`
	Amount       int64      `gorm:"not null"`
	BalanceAfter int64      `gorm:"not null"`
	PaymentRef   string     `gorm:"type:varchar(100)"`
	Description  string     `gorm:"type:varchar(255)"`
	BonusKey     *uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	CreatedAt    time.Time  `gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (CreditTransactionModel) TableName() string {
	return "credit_transactions"
}

// ToEntity converts the model to a domain entity
func (m *CreditTransactionModel) ToEntity() *credit.CreditTransaction {
	return &credit.CreditTransaction{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:     m.TenantID,
		Type:         credit.TransactionType(m.Type),
		Amount:       m.Amount,
		BalanceAfter: m.BalanceAfter,
		PaymentRef:   m.PaymentRef,
		Description:  m.Description,
	}
}

// CreditTransactionModelFromEntity creates a model from a domain entity
func CreditTransactionModelFromEntity(e *credit.CreditTransaction) *CreditTransactionModel {
	model := &CreditTransactionModel{
		ID:           e.ID,
		TenantID:     e.TenantID,
		Type:         string(e.Type),
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		PaymentRef:   e.PaymentRef,
		Description:  e.Description,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if e.Type == credit.TransactionTypeBonus {
		key := e.TenantID
		model.BonusKey = &key
	}
	return model
}

// CreditTransactionRepository implements the credit.TransactionRepository
// interface. The table is an append-only ledger.
type CreditTransactionRepository struct {
	db *gorm.DB
}

// NewCreditTransactionRepository creates a new credit transaction repository
func NewCreditTransactionRepository(db *gorm.DB) *CreditTransactionRepository {
	return &CreditTransactionRepository{db: db}
}

// Append persists a ledger line. A second bonus line for the same tenant
// violates the bonus key index and surfaces as shared.ErrAlreadyExists.
func (r *CreditTransactionRepository) Append(ctx context.Context, tx *credit.CreditTransaction) error {
	model := CreditTransactionModelFromEntity(tx)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// RecentByTenant lists the newest ledger lines for a tenant
func (r *CreditTransactionRepository) RecentByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*credit.CreditTransaction, error) {
	var models []CreditTransactionModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	transactions := make([]*credit.CreditTransaction, len(models))
	for i := range models {
		transactions[i] = models[i].ToEntity()
	}
	return transactions, nil
}

// HasAny reports whether any ledger line exists for the tenant
func (r *CreditTransactionRepository) HasAny(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CreditTransactionModel{}).
		Where("tenant_id = ?", tenantID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// isDuplicateKeyError detects unique constraint violations across the
// drivers in use (postgres in production, sqlite in tests)
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
