package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/automna/backend/internal/domain/identity"
	"github.com/automna/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantModel is the GORM model for tenants
type TenantModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:varchar(200);not null"`
	Email     string    `gorm:"type:varchar(200)"`
	Status    string    `gorm:"type:varchar(20);not null;default:'active'"`
	Plan      string    `gorm:"type:varchar(20);not null;default:'free'"`
	BYOK      bool      `gorm:"column:byok;not null;default:false"`
	StripeID  string    `gorm:"type:varchar(100)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (TenantModel) TableName() string {
	return "tenants"
}

// ToEntity converts the model to a domain entity
func (m *TenantModel) ToEntity() *identity.Tenant {
	return &identity.Tenant{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Name:     m.Name,
		Email:    m.Email,
		Status:   identity.TenantStatus(m.Status),
		Plan:     identity.PlanTier(m.Plan),
		BYOK:     m.BYOK,
		StripeID: m.StripeID,
	}
}

// TenantRepository implements the identity.TenantRepository interface.
// Tenants are provisioned out-of-core; only the billing customer id is
// ever written from here.
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// FindByID retrieves a tenant by its ID
func (r *TenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	var model TenantModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// SetStripeID persists the external billing customer id
func (r *TenantRepository) SetStripeID(ctx context.Context, id uuid.UUID, stripeID string) error {
	result := r.db.WithContext(ctx).
		Model(&TenantModel{}).
		Where("id = ?", id).
		Update("stripe_id", stripeID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}
