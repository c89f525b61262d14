package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/automna/backend/internal/domain/billing"
	"github.com/automna/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageEventModel is the GORM model for usage events
type UsageEventModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID `gorm:"type:uuid;index:idx_usage_events_tenant_time;not null"`
	Kind       string    `gorm:"type:varchar(20);not null"`
	CostMicro  int64     `gorm:"not null"`
	Credits    int64     `gorm:"not null"`
	OccurredAt time.Time `gorm:"index:idx_usage_events_tenant_time;not null"`
	ErrorTag   string    `gorm:"type:varchar(50)"`
	Metadata   []byte    `gorm:"type:jsonb;default:'{}'"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (UsageEventModel) TableName() string {
	return "usage_events"
}

// ToEntity converts the model to a domain entity
func (m *UsageEventModel) ToEntity() *billing.UsageEvent {
	var metadata billing.Metadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &metadata)
	}
	if metadata == nil {
		metadata = make(billing.Metadata)
	}

	return &billing.UsageEvent{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:   m.TenantID,
		Kind:       billing.EventKind(m.Kind),
		CostMicro:  m.CostMicro,
		Credits:    m.Credits,
		OccurredAt: m.OccurredAt,
		ErrorTag:   m.ErrorTag,
		Metadata:   metadata,
	}
}

// UsageEventModelFromEntity creates a model from a domain entity
func UsageEventModelFromEntity(e *billing.UsageEvent) *UsageEventModel {
	var metadataBytes []byte
	if e.Metadata != nil {
		metadataBytes, _ = json.Marshal(e.Metadata)
	} else {
		metadataBytes = []byte("{}")
	}

	return &UsageEventModel{
		ID:         e.ID,
		TenantID:   e.TenantID,
		Kind:       string(e.Kind),
		CostMicro:  e.CostMicro,
		Credits:    e.Credits,
		OccurredAt: e.OccurredAt,
		ErrorTag:   e.ErrorTag,
		Metadata:   metadataBytes,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

// UsageEventRepository implements the billing.UsageEventRepository interface.
// The table is append-only; aggregations are recomputed from the rows on
// every call rather than maintained as counters.
type UsageEventRepository struct {
	db *gorm.DB
}

// NewUsageEventRepository creates a new usage event repository
func NewUsageEventRepository(db *gorm.DB) *UsageEventRepository {
	return &UsageEventRepository{db: db}
}

// Append persists a new usage event
func (r *UsageEventRepository) Append(ctx context.Context, event *billing.UsageEvent) error {
	model := UsageEventModelFromEntity(event)
	return r.db.WithContext(ctx).Create(model).Error
}

// MonthlyCreditsUsed sums credits for the tenant since the start of the
// current UTC calendar month
func (r *UsageEventRepository) MonthlyCreditsUsed(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&UsageEventModel{}).
		Select("COALESCE(SUM(credits), 0)").
		Where("tenant_id = ? AND occurred_at >= ?", tenantID, billing.MonthStartUTC(time.Now())).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// MonthlyTotalsByKind aggregates the current month's events per kind
func (r *UsageEventRepository) MonthlyTotalsByKind(ctx context.Context, tenantID uuid.UUID) ([]billing.KindTotal, error) {
	var rows []struct {
		Kind      string `gorm:"column:kind"`
		Events    int64  `gorm:"column:events"`
		Credits   int64  `gorm:"column:credits"`
		CostMicro int64  `gorm:"column:cost_micro"`
	}
	err := r.db.WithContext(ctx).
		Model(&UsageEventModel{}).
		Select("kind, COUNT(*) AS events, COALESCE(SUM(credits), 0) AS credits, COALESCE(SUM(cost_micro), 0) AS cost_micro").
		Where("tenant_id = ? AND occurred_at >= ?", tenantID, billing.MonthStartUTC(time.Now())).
		Group("kind").
		Order("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make([]billing.KindTotal, 0, len(rows))
	for _, row := range rows {
		totals = append(totals, billing.KindTotal{
			Kind:      billing.EventKind(row.Kind),
			Events:    row.Events,
			Credits:   row.Credits,
			CostMicro: row.CostMicro,
		})
	}
	return totals, nil
}

// FindByTenant lists events for a tenant in a time range, newest first
func (r *UsageEventRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID, from, to time.Time, limit int) ([]*billing.UsageEvent, error) {
	var models []UsageEventModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND occurred_at >= ? AND occurred_at < ?", tenantID, from, to).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]*billing.UsageEvent, len(models))
	for i := range models {
		events[i] = models[i].ToEntity()
	}
	return events, nil
}
