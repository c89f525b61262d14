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

// CredentialModel is the GORM model for gateway credentials
type CredentialModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID `gorm:"type:uuid;index;not null"`
	TokenHash  string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	AppName    string    `gorm:"type:varchar(200)"`
	Active     bool      `gorm:"not null;default:true"`
	LastActive *time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (CredentialModel) TableName() string {
	return "credentials"
}

// ToEntity converts the model to a domain entity
func (m *CredentialModel) ToEntity() *identity.Credential {
	return &identity.Credential{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:   m.TenantID,
		TokenHash:  m.TokenHash,
		AppName:    m.AppName,
		Active:     m.Active,
		LastActive: m.LastActive,
	}
}

// CredentialRepository implements the identity.CredentialRepository interface
type CredentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindByToken resolves a raw bearer token to a tenant context. The token
// is hashed before it touches the query; raw tokens never reach the
// database. Inactive credentials, missing tenants and non-active tenants
// all resolve to shared.ErrNotFound.
func (r *CredentialRepository) FindByToken(ctx context.Context, token string) (*identity.TenantContext, error) {
	tokenHash := identity.HashToken(token)

	var row struct {
		TenantID uuid.UUID `gorm:"column:tenant_id"`
		AppName  string    `gorm:"column:app_name"`
		Plan     string    `gorm:"column:plan"`
		BYOK     bool      `gorm:"column:byok"`
		Status   string    `gorm:"column:status"`
	}

	err := r.db.WithContext(ctx).
		Table("credentials").
		Select("credentials.tenant_id, credentials.app_name, tenants.plan, tenants.byok, tenants.status").
		Joins("JOIN tenants ON tenants.id = credentials.tenant_id").
		Where("credentials.token_hash = ? AND credentials.active = ?", tokenHash, true).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	if identity.TenantStatus(row.Status) != identity.TenantStatusActive {
		return nil, shared.ErrNotFound
	}

	plan := identity.PlanTier(row.Plan)
	if !plan.IsValid() {
		plan = identity.PlanFree
	}

	return &identity.TenantContext{
		TenantID:   row.TenantID,
		AppName:    row.AppName,
		Plan:       plan,
		BYOK:       row.BYOK,
		ResolvedAt: time.Now().UTC(),
	}, nil
}

// TouchLastActive records credential activity for a tenant. The write is
// advisory; it touches only the timestamp column.
func (r *CredentialRepository) TouchLastActive(ctx context.Context, tenantID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&CredentialModel{}).
		Where("tenant_id = ?", tenantID).
		UpdateColumn("last_active", at).Error
}
