package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/automna/backend/internal/domain/billing"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// GatewayMetrics provides business metrics for the metering gateway.
// It tracks usage events, credit movements, auto-refill outcomes and the
// health of the credential cache.
type GatewayMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	usageEventsTotal   *Counter
	usageCreditsTotal  *Counter
	droppedWritesTotal *Counter
	authTotal          *Counter
	rateLimitedTotal   *Counter
	refillTotal        *Counter

	// Gauge metrics (point-in-time values)
	tokenCacheSize     *Gauge
	tokenCacheHits     *Gauge
	tokenCacheMisses   *Gauge
	tokenCacheHitRatio *FloatGauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	cacheStats CacheStatsProvider
}

// CacheStatsProvider exposes credential cache counters for periodic
// collection. This interface lets the telemetry layer sample cache state
// without depending on a concrete cache implementation.
type CacheStatsProvider interface {
	// Stats returns cumulative hits and misses plus the current entry count
	Stats() (hits, misses, size int64)
}

// GatewayMetricsConfig holds configuration for gateway metrics.
type GatewayMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 1 minute
	CacheStats      CacheStatsProvider
}

// NewGatewayMetrics creates a new GatewayMetrics instance.
func NewGatewayMetrics(cfg GatewayMetricsConfig) (*GatewayMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gm := &GatewayMetrics{
		meter:      cfg.Meter,
		logger:     logger,
		stopChan:   make(chan struct{}),
		cacheStats: cfg.CacheStats,
	}

	var err error

	gm.usageEventsTotal, err = NewCounter(
		cfg.Meter,
		"gateway_usage_events_total",
		"Total number of usage events recorded",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	gm.usageCreditsTotal, err = NewCounter(
		cfg.Meter,
		"gateway_usage_credits_total",
		"Total credits metered across usage events",
		"{credits}",
	)
	if err != nil {
		return nil, err
	}

	gm.droppedWritesTotal, err = NewCounter(
		cfg.Meter,
		"gateway_dropped_writes_total",
		"Usage events lost to ledger write failures",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	gm.authTotal, err = NewCounter(
		cfg.Meter,
		"gateway_authorizations_total",
		"Total number of gateway authorization attempts",
		"{requests}",
	)
	if err != nil {
		return nil, err
	}

	gm.rateLimitedTotal, err = NewCounter(
		cfg.Meter,
		"gateway_rate_limited_total",
		"Requests rejected by a quota gate",
		"{requests}",
	)
	if err != nil {
		return nil, err
	}

	gm.refillTotal, err = NewCounter(
		cfg.Meter,
		"gateway_refill_attempts_total",
		"Auto-refill attempts by outcome",
		"{attempts}",
	)
	if err != nil {
		return nil, err
	}

	gm.tokenCacheSize, err = NewGauge(
		cfg.Meter,
		"gateway_token_cache_entries",
		"Current number of cached credential resolutions",
		"{entries}",
	)
	if err != nil {
		return nil, err
	}

	gm.tokenCacheHits, err = NewGauge(
		cfg.Meter,
		"gateway_token_cache_hits",
		"Cumulative credential cache hits",
		"{lookups}",
	)
	if err != nil {
		return nil, err
	}

	gm.tokenCacheMisses, err = NewGauge(
		cfg.Meter,
		"gateway_token_cache_misses",
		"Cumulative credential cache misses",
		"{lookups}",
	)
	if err != nil {
		return nil, err
	}

	gm.tokenCacheHitRatio, err = NewFloatGauge(
		cfg.Meter,
		"gateway_token_cache_hit_ratio",
		"Credential cache hit ratio since process start",
		"1",
	)
	if err != nil {
		return nil, err
	}

	return gm, nil
}

// =============================================================================
// Ledger Metrics
// =============================================================================

// RecordUsageEvent counts a persisted usage event by kind.
func (gm *GatewayMetrics) RecordUsageEvent(ctx context.Context, kind billing.EventKind, credits int64) {
	gm.usageEventsTotal.Inc(ctx, AttrEventKind.String(string(kind)))
	gm.usageCreditsTotal.Add(ctx, credits, AttrEventKind.String(string(kind)))
}

// RecordDroppedWrite counts a usage event lost to a write failure.
func (gm *GatewayMetrics) RecordDroppedWrite(ctx context.Context, kind billing.EventKind) {
	gm.droppedWritesTotal.Inc(ctx, AttrEventKind.String(string(kind)))
}

// =============================================================================
// Authorization Metrics
// =============================================================================

// AuthOutcome labels the result of an authorization attempt.
type AuthOutcome string

const (
	AuthOutcomeAllowed AuthOutcome = "allowed"
	AuthOutcomeDenied  AuthOutcome = "denied"
)

// RecordAuthorization counts a gateway authorization attempt.
func (gm *GatewayMetrics) RecordAuthorization(ctx context.Context, outcome AuthOutcome) {
	gm.authTotal.Inc(ctx, AttrAuthOutcome.String(string(outcome)))
}

// RecordRateLimited counts a request rejected by a quota gate.
// The gate label distinguishes the monthly credit gate from the
// per-minute request gate.
func (gm *GatewayMetrics) RecordRateLimited(ctx context.Context, gate string) {
	gm.rateLimitedTotal.Inc(ctx, AttrGate.String(gate))
}

// =============================================================================
// Refill Metrics
// =============================================================================

// RecordRefill counts one auto-refill attempt by outcome.
func (gm *GatewayMetrics) RecordRefill(ctx context.Context, outcome string) {
	gm.refillTotal.Inc(ctx, AttrRefillOutcome.String(outcome))
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection starts periodic sampling of the credential
// cache gauges. Non-blocking; use Stop() to stop collection.
func (gm *GatewayMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	gm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}

		go gm.runPeriodicCollection(ctx, interval)
	})
}

// runPeriodicCollection runs the periodic collection loop.
func (gm *GatewayMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	gm.collectCacheMetrics(ctx)

	for {
		select {
		case <-gm.stopChan:
			gm.logger.Info("Stopping periodic gateway metrics collection")
			return
		case <-ctx.Done():
			gm.logger.Info("Context cancelled, stopping periodic gateway metrics collection")
			return
		case <-ticker.C:
			gm.collectCacheMetrics(ctx)
		}
	}
}

// collectCacheMetrics samples the credential cache counters.
func (gm *GatewayMetrics) collectCacheMetrics(ctx context.Context) {
	if gm.cacheStats == nil {
		gm.logger.Debug("No cache stats provider configured, skipping cache metrics collection")
		return
	}

	hits, misses, size := gm.cacheStats.Stats()
	gm.tokenCacheSize.Record(ctx, size)
	gm.tokenCacheHits.Record(ctx, hits)
	gm.tokenCacheMisses.Record(ctx, misses)

	if total := hits + misses; total > 0 {
		gm.tokenCacheHitRatio.Record(ctx, float64(hits)/float64(total))
	}
}

// Stop stops the periodic collection.
func (gm *GatewayMetrics) Stop() {
	gm.stopOnce.Do(func() {
		close(gm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewGatewayMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
