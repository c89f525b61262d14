package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/automna/backend/internal/domain/billing"
	"github.com/automna/backend/internal/domain/identity"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// grouped formats figures in rejection reasons with thousands separators
var grouped = message.NewPrinter(language.English)

// RateLimitService evaluates both quota gates for a tenant: the monthly
// credit budget first, then the per-minute request window. The monthly
// gate wins ties so a tenant who is both out of budget and bursting sees
// the durable condition, not the transient one.
type RateLimitService struct {
	events      billing.UsageEventRepository
	windows     billing.RateWindowRepository
	logger      *zap.Logger
	readTimeout time.Duration
}

// RateLimitServiceConfig contains configuration for RateLimitService
type RateLimitServiceConfig struct {
	Events      billing.UsageEventRepository
	Windows     billing.RateWindowRepository
	Logger      *zap.Logger
	ReadTimeout time.Duration // Default: 2s
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(cfg RateLimitServiceConfig) *RateLimitService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RateLimitService{
		events:      cfg.Events,
		windows:     cfg.Windows,
		logger:      logger,
		readTimeout: timeout,
	}
}

// Check evaluates the quota gates for one incoming request. An allowed
// result also counts the request against the minute window; a rejected
// result counts nothing.
func (s *RateLimitService) Check(ctx context.Context, tc *identity.TenantContext) (*billing.RateLimitResult, error) {
	limits := tc.Limits()
	now := time.Now().UTC()

	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	used, err := s.events.MonthlyCreditsUsed(ctx, tc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("monthly usage lookup: %w", err)
	}

	snapshot := billing.LimitsSnapshot{
		MonthlyCredits: billing.LimitUsage{Used: used, Limit: limits.MonthlyCredits},
	}

	// Monthly gate. Checked before the minute window: exhausted budget is
	// not retryable within the session, so no Retry-After is offered.
	if used >= limits.MonthlyCredits {
		snapshot.RequestsPerMinute = billing.LimitUsage{Used: 0, Limit: limits.RequestsPerMinute}
		return &billing.RateLimitResult{
			Allowed: false,
			Reason: grouped.Sprintf("Monthly credit limit reached (%d/%d credits used). Limit resets at the start of next month.",
				used, limits.MonthlyCredits),
			Limits: snapshot,
		}, nil
	}

	window, err := s.windows.GetOrCreate(ctx, tc.TenantID, billing.MinuteOf(now))
	if err != nil {
		return nil, fmt.Errorf("rate window lookup: %w", err)
	}

	// Lazy minute rollover: reset the counter when the stored window
	// belongs to an earlier minute. There is no background sweeper.
	if window.IsStale(now) {
		if err := s.windows.Reset(ctx, tc.TenantID, billing.MinuteOf(now)); err != nil {
			return nil, fmt.Errorf("rate window reset: %w", err)
		}
		window.CurrentMinute = billing.MinuteOf(now)
		window.RequestsThisMinute = 0
	}

	snapshot.RequestsPerMinute = billing.LimitUsage{
		Used:  window.RequestsThisMinute,
		Limit: limits.RequestsPerMinute,
	}

	if window.RequestsThisMinute >= limits.RequestsPerMinute {
		return &billing.RateLimitResult{
			Allowed: false,
			Reason: grouped.Sprintf("Rate limit exceeded (%d requests per minute). Please slow down.",
				limits.RequestsPerMinute),
			Limits:     snapshot,
			RetryAfter: billing.SecondsUntilNextMinute(now),
		}, nil
	}

	// Count the admitted request. Best effort: a failed increment
	// under-counts one request rather than rejecting it.
	s.incrementAsync(tc.TenantID)
	snapshot.RequestsPerMinute.Used++

	return &billing.RateLimitResult{Allowed: true, Limits: snapshot}, nil
}

// Snapshot returns the current state of both gates without admitting or
// counting a request.
func (s *RateLimitService) Snapshot(ctx context.Context, tc *identity.TenantContext) (*billing.LimitsSnapshot, error) {
	limits := tc.Limits()
	now := time.Now().UTC()

	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	used, err := s.events.MonthlyCreditsUsed(ctx, tc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("monthly usage lookup: %w", err)
	}

	window, err := s.windows.GetOrCreate(ctx, tc.TenantID, billing.MinuteOf(now))
	if err != nil {
		return nil, fmt.Errorf("rate window lookup: %w", err)
	}
	requests := window.RequestsThisMinute
	if window.IsStale(now) {
		requests = 0
	}

	return &billing.LimitsSnapshot{
		MonthlyCredits:    billing.LimitUsage{Used: used, Limit: limits.MonthlyCredits},
		RequestsPerMinute: billing.LimitUsage{Used: requests, Limit: limits.RequestsPerMinute},
	}, nil
}

func (s *RateLimitService) incrementAsync(tenantID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.readTimeout)
		defer cancel()
		if err := s.windows.Increment(ctx, tenantID); err != nil {
			s.logger.Warn("rate window increment failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
		}
	}()
}
