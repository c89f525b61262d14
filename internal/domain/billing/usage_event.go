package billing

import (
	"time"

	"github.com/automna/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// UsageEvent represents an immutable record of a single billable event.
// Once created, usage events are never updated or deleted - corrections
// must be made with new events. This ensures a complete audit trail.
type UsageEvent struct {
	shared.BaseEntity
	TenantID   uuid.UUID // The tenant this usage belongs to
	Kind       EventKind // Category of the billable event
	CostMicro  int64     // Cost in microdollars
	Credits    int64     // Derived credit amount, ToCredits(CostMicro)
	OccurredAt time.Time // When the billable action happened
	ErrorTag   string    // Upstream failure tag (e.g. "upstream_502"), empty on success
	Metadata   Metadata  // Additional context about the event
}

// Metadata holds additional context about a usage event
type Metadata map[string]any

// NewUsageEvent creates a usage event for a billable action, deriving the
// credit amount from the microdollar cost.
func NewUsageEvent(tenantID uuid.UUID, kind EventKind, costMicro int64) (*UsageEvent, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("INVALID_EVENT_KIND", "Invalid usage event kind")
	}
	if costMicro < 0 {
		return nil, shared.NewDomainError("INVALID_COST", "Cost cannot be negative")
	}

	return &UsageEvent{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		Kind:       kind,
		CostMicro:  costMicro,
		Credits:    ToCredits(costMicro),
		OccurredAt: time.Now().UTC(),
		Metadata:   make(Metadata),
	}, nil
}

// WithError tags the event with an upstream failure. Failed calls are still
// recorded for observability even when they bill zero credits.
func (e *UsageEvent) WithError(tag string) *UsageEvent {
	e.ErrorTag = tag
	return e
}

// WithMetadata adds a metadata entry to the event
func (e *UsageEvent) WithMetadata(key string, value any) *UsageEvent {
	if e.Metadata == nil {
		e.Metadata = make(Metadata)
	}
	e.Metadata[key] = value
	return e
}

// IsError returns true if the event records a failed upstream call
func (e *UsageEvent) IsError() bool {
	return e.ErrorTag != ""
}

// MonthStartUTC returns the start of the current calendar month in UTC,
// the lower bound of every monthly aggregation.
func MonthStartUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// KindTotal is one row of a per-kind usage aggregation
type KindTotal struct {
	Kind      EventKind
	Events    int64
	Credits   int64
	CostMicro int64
}
