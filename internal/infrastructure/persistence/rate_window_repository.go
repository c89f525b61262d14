package persistence

import (
	"context"
	"time"

	"github.com/automna/backend/internal/domain/billing"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateWindowModel is the GORM model for per-minute rate windows.
// Exactly one row per tenant, mutated in place as the minute rolls over.
type RateWindowModel struct {
	TenantID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	CurrentMinute      int64     `gorm:"not null"`
	RequestsThisMinute int64     `gorm:"not null;default:0"`
	LastReset          time.Time `gorm:"not null"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (RateWindowModel) TableName() string {
	return "rate_windows"
}

// ToEntity converts the model to a domain entity
func (m *RateWindowModel) ToEntity() *billing.RateWindow {
	return &billing.RateWindow{
		TenantID:           m.TenantID,
		CurrentMinute:      m.CurrentMinute,
		RequestsThisMinute: m.RequestsThisMinute,
		LastReset:          m.LastReset,
	}
}

// RateWindowRepository implements the billing.RateWindowRepository interface
type RateWindowRepository struct {
	db *gorm.DB
}

// NewRateWindowRepository creates a new rate window repository
func NewRateWindowRepository(db *gorm.DB) *RateWindowRepository {
	return &RateWindowRepository{db: db}
}

// GetOrCreate returns the tenant's window, creating a zeroed row for the
// given minute when none exists. Concurrent first requests race on the
// insert; the conflict clause makes the loser adopt the winner's row.
func (r *RateWindowRepository) GetOrCreate(ctx context.Context, tenantID uuid.UUID, minute int64) (*billing.RateWindow, error) {
	model := RateWindowModel{
		TenantID:           tenantID,
		CurrentMinute:      minute,
		RequestsThisMinute: 0,
		LastReset:          time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return nil, err
	}

	var current RateWindowModel
	if err := r.db.WithContext(ctx).First(&current, "tenant_id = ?", tenantID).Error; err != nil {
		return nil, err
	}
	return current.ToEntity(), nil
}

// Reset adopts a new minute bucket and zeroes the counter
func (r *RateWindowRepository) Reset(ctx context.Context, tenantID uuid.UUID, minute int64) error {
	return r.db.WithContext(ctx).
		Model(&RateWindowModel{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"current_minute":       minute,
			"requests_this_minute": 0,
			"last_reset":           time.Now().UTC(),
		}).Error
}

// Increment adds one to the counter server-side so concurrent requests
// never lose counts to a read-modify-write race
func (r *RateWindowRepository) Increment(ctx context.Context, tenantID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&RateWindowModel{}).
		Where("tenant_id = ?", tenantID).
		UpdateColumn("requests_this_minute", gorm.Expr("requests_this_minute + 1")).Error
}
