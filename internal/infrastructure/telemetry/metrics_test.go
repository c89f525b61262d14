package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func TestNewMeterProviderDisabled(t *testing.T) {
	ctx := context.Background()
	mp, err := NewMeterProvider(ctx, MetricsConfig{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "metering-gateway",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, mp)

	assert.False(t, mp.IsEnabled())

	t.Run("meter falls back to global provider", func(t *testing.T) {
		meter := mp.Meter("github.com/automna/backend")
		require.NotNil(t, meter)

		// Instruments on the no-op meter must still be creatable.
		c, err := NewCounter(meter, "gateway_usage_events_total", "usage events", "{events}")
		require.NoError(t, err)
		c.Inc(ctx, AttrEventKind.String("call"))
	})

	t.Run("shutdown and flush are no-ops", func(t *testing.T) {
		assert.NoError(t, mp.Shutdown(ctx))
		assert.NoError(t, mp.ForceFlush(ctx))
	})
}

func TestCounter(t *testing.T) {
	reader, meter := newManualMeter(t, "counter_test")
	ctx := context.Background()

	c, err := NewCounter(meter, "gateway_authorizations_total", "authorization attempts", "{requests}")
	require.NoError(t, err)

	c.Inc(ctx, AttrAuthOutcome.String("allowed"))
	c.Inc(ctx, AttrAuthOutcome.String("allowed"))
	c.Add(ctx, 3, AttrAuthOutcome.String("denied"))

	rm := collectMetrics(t, reader)
	require.True(t, hasMetric(rm, "gateway_authorizations_total"))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "gateway_authorizations_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			assert.True(t, sum.IsMonotonic)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(5), total)
}

func TestHistogram(t *testing.T) {
	reader, meter := newManualMeter(t, "histogram_test")
	ctx := context.Background()

	h, err := NewHistogram(meter, HistogramOpts{
		Name:        "gateway_settle_duration_seconds",
		Description: "settle latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	})
	require.NoError(t, err)

	h.Record(ctx, 0.002, AttrTenantID.String("t-1"))
	h.RecordDuration(ctx, 40*time.Millisecond, AttrTenantID.String("t-1"))

	rm := collectMetrics(t, reader)
	require.True(t, hasMetric(rm, "gateway_settle_duration_seconds"))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "gateway_settle_duration_seconds" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			require.Len(t, hist.DataPoints, 1)
			dp := hist.DataPoints[0]
			assert.Equal(t, uint64(2), dp.Count)
			assert.InDelta(t, 0.042, dp.Sum, 1e-9)
			assert.Equal(t, DBDurationBuckets, dp.Bounds)
		}
	}
}

func TestGauge(t *testing.T) {
	reader, meter := newManualMeter(t, "gauge_test")
	ctx := context.Background()

	g, err := NewGauge(meter, "gateway_token_cache_entries", "cached credentials", "{entries}")
	require.NoError(t, err)

	g.Record(ctx, 10)
	g.Record(ctx, 7)

	rm := collectMetrics(t, reader)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "gateway_token_cache_entries" {
				continue
			}
			data, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok)
			require.Len(t, data.DataPoints, 1)
			assert.Equal(t, int64(7), data.DataPoints[0].Value, "gauge keeps the last recorded value")
		}
	}
}

func TestFloatGauge(t *testing.T) {
	reader, meter := newManualMeter(t, "float_gauge_test")
	ctx := context.Background()

	g, err := NewFloatGauge(meter, "gateway_token_cache_hit_ratio", "cache hit ratio", "1")
	require.NoError(t, err)

	g.Record(ctx, 0.5)
	g.Record(ctx, 0.92)

	rm := collectMetrics(t, reader)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "gateway_token_cache_hit_ratio" {
				continue
			}
			data, ok := m.Data.(metricdata.Gauge[float64])
			require.True(t, ok)
			require.Len(t, data.DataPoints, 1)
			assert.InDelta(t, 0.92, data.DataPoints[0].Value, 1e-9)
		}
	}
}

func TestHistogramDefaultBoundaries(t *testing.T) {
	reader, meter := newManualMeter(t, "histogram_default_test")
	ctx := context.Background()

	h, err := NewHistogram(meter, HistogramOpts{
		Name:        "gateway_refund_amount",
		Description: "refund amounts",
		Unit:        "{credits}",
	})
	require.NoError(t, err)

	h.Record(ctx, 250)

	rm := collectMetrics(t, reader)
	assert.True(t, hasMetric(rm, "gateway_refund_amount"))
}
