// Package reporting exports monthly usage reports to object storage.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/automna/backend/internal/domain/billing"
	"github.com/automna/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReportStorage defines the interface for archiving report objects.
// This interface is implemented by the infrastructure layer (S3, stub).
type ReportStorage interface {
	// Upload writes a report object under the given storage key
	Upload(ctx context.Context, storageKey string, data []byte, contentType string) error

	// GenerateDownloadURL generates a presigned URL for fetching a report
	GenerateDownloadURL(ctx context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error)

	// ObjectExists reports whether a report object is present
	ObjectExists(ctx context.Context, storageKey string) (bool, error)
}

// UsageReport is the archived month-end document for one tenant
type UsageReport struct {
	TenantID       uuid.UUID               `json:"tenant_id"`
	Month          string                  `json:"month"` // "2026-08"
	GeneratedAt    time.Time               `json:"generated_at"`
	TotalCredits   int64                   `json:"total_credits"`
	TotalCostMicro int64                   `json:"total_cost_micro"`
	TotalCostUSD   string                  `json:"total_cost_usd"` // "12.34", exact decimal
	ByKind         map[string]KindTotalDTO `json:"by_kind"`
}

// microToUSD renders a microdollar amount as a fixed two-decimal dollar
// string without float rounding.
func microToUSD(micro int64) string {
	return decimal.NewFromInt(micro).Div(decimal.NewFromInt(1_000_000)).StringFixed(2)
}

// KindTotalDTO is one per-kind aggregate row in a report
type KindTotalDTO struct {
	Events    int64 `json:"events"`
	Credits   int64 `json:"credits"`
	CostMicro int64 `json:"cost_micro"`
}

// ReportService builds per-tenant usage reports and archives them
type ReportService struct {
	events      billing.UsageEventRepository
	storage     ReportStorage
	logger      *zap.Logger
	downloadTTL time.Duration
}

// ReportServiceConfig contains configuration for ReportService
type ReportServiceConfig struct {
	Events      billing.UsageEventRepository
	Storage     ReportStorage
	Logger      *zap.Logger
	DownloadTTL time.Duration // Default: 1h
}

// NewReportService creates a new ReportService
func NewReportService(cfg ReportServiceConfig) *ReportService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.DownloadTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ReportService{
		events:      cfg.Events,
		storage:     cfg.Storage,
		logger:      logger,
		downloadTTL: ttl,
	}
}

// ReportKey returns the storage key for a tenant's monthly report
func ReportKey(tenantID uuid.UUID, month string) string {
	return fmt.Sprintf("usage-reports/%s/%s.json", tenantID, month)
}

// Export builds the tenant's current-month usage report, archives it and
// returns the stored document.
func (s *ReportService) Export(ctx context.Context, tenantID uuid.UUID) (*UsageReport, error) {
	totals, err := s.events.MonthlyTotalsByKind(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}

	now := time.Now().UTC()
	report := &UsageReport{
		TenantID:    tenantID,
		Month:       now.Format("2006-01"),
		GeneratedAt: now,
		ByKind:      make(map[string]KindTotalDTO, len(totals)),
	}
	for _, t := range totals {
		report.ByKind[string(t.Kind)] = KindTotalDTO{
			Events:    t.Events,
			Credits:   t.Credits,
			CostMicro: t.CostMicro,
		}
		report.TotalCredits += t.Credits
		report.TotalCostMicro += t.CostMicro
	}
	report.TotalCostUSD = microToUSD(report.TotalCostMicro)

	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	key := ReportKey(tenantID, report.Month)
	if err := s.storage.Upload(ctx, key, data, "application/json"); err != nil {
		return nil, fmt.Errorf("archive report: %w", err)
	}

	s.logger.Info("usage report archived",
		zap.String("tenant_id", tenantID.String()),
		zap.String("storage_key", key),
		zap.Int64("total_credits", report.TotalCredits))
	return report, nil
}

// DownloadURL returns a presigned URL for a previously archived report.
// Returns shared.ErrNotFound when no report was exported for the month.
func (s *ReportService) DownloadURL(ctx context.Context, tenantID uuid.UUID, month string) (string, time.Time, error) {
	key := ReportKey(tenantID, month)

	exists, err := s.storage.ObjectExists(ctx, key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("check report: %w", err)
	}
	if !exists {
		return "", time.Time{}, shared.ErrNotFound
	}

	return s.storage.GenerateDownloadURL(ctx, key, s.downloadTTL)
}
