// Package metering provides application services for the usage ledger and
// the per-tenant rate limiter.
package metering

import (
	"context"
	"time"

	"github.com/automna/backend/internal/domain/billing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerMetrics receives counters about ledger writes. Implementations
// must be safe for concurrent use; a nil LedgerMetrics disables recording.
type LedgerMetrics interface {
	// RecordUsageEvent counts a persisted usage event by kind
	RecordUsageEvent(ctx context.Context, kind billing.EventKind, credits int64)

	// RecordDroppedWrite counts a usage event lost to a write failure
	RecordDroppedWrite(ctx context.Context, kind billing.EventKind)
}

// LedgerService records billable events and answers aggregate queries
// over the append-only usage ledger.
type LedgerService struct {
	events       billing.UsageEventRepository
	metrics      LedgerMetrics
	logger       *zap.Logger
	writeTimeout time.Duration
}

// LedgerServiceConfig contains configuration for LedgerService
type LedgerServiceConfig struct {
	Events       billing.UsageEventRepository
	Metrics      LedgerMetrics // Optional
	Logger       *zap.Logger
	WriteTimeout time.Duration // Default: 3s
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(cfg LedgerServiceConfig) *LedgerService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &LedgerService{
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		logger:       logger,
		writeTimeout: timeout,
	}
}

// Record persists a usage event synchronously. The write failure is
// returned to the caller; whether to surface it to the end user is the
// caller's decision.
func (s *LedgerService) Record(ctx context.Context, event *billing.UsageEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	if err := s.events.Append(ctx, event); err != nil {
		if s.metrics != nil {
			s.metrics.RecordDroppedWrite(context.WithoutCancel(ctx), event.Kind)
		}
		s.logger.Error("failed to append usage event",
			zap.String("tenant_id", event.TenantID.String()),
			zap.String("kind", string(event.Kind)),
			zap.Int64("credits", event.Credits),
			zap.Error(err))
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordUsageEvent(ctx, event.Kind, event.Credits)
	}
	return nil
}

// RecordAsync persists a usage event off the request path. Failures are
// logged and counted but never propagated: a lost write must not fail the
// request whose upstream work already happened.
func (s *LedgerService) RecordAsync(event *billing.UsageEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()

		if err := s.events.Append(ctx, event); err != nil {
			if s.metrics != nil {
				s.metrics.RecordDroppedWrite(context.WithoutCancel(ctx), event.Kind)
			}
			s.logger.Error("dropped usage event write",
				zap.String("tenant_id", event.TenantID.String()),
				zap.String("kind", string(event.Kind)),
				zap.Int64("credits", event.Credits),
				zap.Error(err))
			return
		}

		if s.metrics != nil {
			s.metrics.RecordUsageEvent(ctx, event.Kind, event.Credits)
		}
	}()
}

// MonthlyCreditsUsed returns the tenant's credit consumption since the
// start of the current UTC month, recomputed from the ledger.
func (s *LedgerService) MonthlyCreditsUsed(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return s.events.MonthlyCreditsUsed(ctx, tenantID)
}

// MonthlySummary aggregates the current month's usage per event kind
func (s *LedgerService) MonthlySummary(ctx context.Context, tenantID uuid.UUID) (*UsageSummaryDTO, error) {
	totals, err := s.events.MonthlyTotalsByKind(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	summary := &UsageSummaryDTO{
		TenantID:    tenantID,
		PeriodStart: billing.MonthStartUTC(now),
		PeriodEnd:   now,
		ByKind:      make(map[string]KindUsageDTO, len(totals)),
	}
	for _, t := range totals {
		summary.ByKind[string(t.Kind)] = KindUsageDTO{
			Events:    t.Events,
			CostMicro: t.CostMicro,
			Credits:   t.Credits,
		}
		summary.TotalCredits += t.Credits
		summary.TotalCostMicro += t.CostMicro
	}
	return summary, nil
}

// ListEvents returns a tenant's raw usage events in a time range, newest
// first, capped at limit.
func (s *LedgerService) ListEvents(ctx context.Context, tenantID uuid.UUID, from, to time.Time, limit int) ([]*billing.UsageEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = billing.MonthStartUTC(to)
	}
	return s.events.FindByTenant(ctx, tenantID, from, to, limit)
}

// UsageSummaryDTO contains a tenant's month-to-date usage aggregates
type UsageSummaryDTO struct {
	TenantID       uuid.UUID               `json:"tenant_id"`
	PeriodStart    time.Time               `json:"period_start"`
	PeriodEnd      time.Time               `json:"period_end"`
	TotalCredits   int64                   `json:"total_credits"`
	TotalCostMicro int64                   `json:"total_cost_micro"`
	ByKind         map[string]KindUsageDTO `json:"by_kind"`
}

// KindUsageDTO contains aggregates for a single event kind
type KindUsageDTO struct {
	Events    int64 `json:"events"`
	CostMicro int64 `json:"cost_micro"`
	Credits   int64 `json:"credits"`
}
