package identity

import (
	"time"

	"github.com/automna/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// TenantStatus represents the status of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusInactive  TenantStatus = "inactive"
	TenantStatusSuspended TenantStatus = "suspended" // Suspended due to payment/violation issues
)

// Tenant represents a billed account sharing the proxy deployment.
// Tenants and their credentials are provisioned out-of-core; this subsystem
// only reads them.
type Tenant struct {
	shared.BaseEntity
	Name     string       `gorm:"type:varchar(200);not null"`
	Email    string       `gorm:"type:varchar(200)"`
	Status   TenantStatus `gorm:"type:varchar(20);not null;default:'active'"`
	Plan     PlanTier     `gorm:"type:varchar(20);not null;default:'free'"`
	BYOK     bool         `gorm:"column:byok;not null;default:false"` // Tenant supplies their own inference credentials
	StripeID string       `gorm:"type:varchar(100)"`      // Stripe customer ID, empty until first purchase
}

// TableName returns the table name for GORM
func (Tenant) TableName() string {
	return "tenants"
}

// IsActive returns true if the tenant may be served
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// TenantContext is the resolved identity attached to a proxied request.
// It is a point-in-time snapshot: plan changes propagate only after the
// credential cache entry expires.
type TenantContext struct {
	TenantID   uuid.UUID
	AppName    string
	Plan       PlanTier
	BYOK       bool
	ResolvedAt time.Time
}

// Limits returns the static plan limits for the snapshot's tier
func (tc *TenantContext) Limits() PlanLimits {
	return tc.Plan.Limits()
}
