package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Thin wrappers over the OTel instrument types. They keep call sites to a
// single line and pin the attribute vocabulary below as the only way
// instruments get labelled.

// Counter counts monotonically increasing values, such as settled usage
// events or authorization attempts.
type Counter struct {
	inner metric.Int64Counter
}

func NewCounter(meter metric.Meter, name, description, unit string) (*Counter, error) {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return &Counter{inner: c}, nil
}

// Add increments the counter by the given value.
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.inner.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Inc increments the counter by 1.
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.inner.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// HistogramOpts provides options for creating a histogram. Boundaries are
// optional; the SDK default applies when the slice is empty.
type HistogramOpts struct {
	Name        string
	Description string
	Unit        string
	Boundaries  []float64
}

// Histogram records latency and size distributions.
type Histogram struct {
	inner metric.Float64Histogram
}

func NewHistogram(meter metric.Meter, opts HistogramOpts) (*Histogram, error) {
	instrumentOpts := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(opts.Boundaries) > 0 {
		instrumentOpts = append(instrumentOpts, metric.WithExplicitBucketBoundaries(opts.Boundaries...))
	}

	h, err := meter.Float64Histogram(opts.Name, instrumentOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", opts.Name, err)
	}
	return &Histogram{inner: h}, nil
}

// Record records a value to the histogram.
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	h.inner.Record(ctx, value, metric.WithAttributes(attrs...))
}

// RecordDuration records a duration in seconds.
func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.inner.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// Gauge records integer point-in-time values, such as pool connection or
// cache entry counts.
type Gauge struct {
	inner metric.Int64Gauge
}

func NewGauge(meter metric.Meter, name, description, unit string) (*Gauge, error) {
	g, err := meter.Int64Gauge(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge %s: %w", name, err)
	}
	return &Gauge{inner: g}, nil
}

// Record records the current value.
func (g *Gauge) Record(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	g.inner.Record(ctx, value, metric.WithAttributes(attrs...))
}

// FloatGauge records fractional point-in-time values, such as cache hit
// ratios.
type FloatGauge struct {
	inner metric.Float64Gauge
}

func NewFloatGauge(meter metric.Meter, name, description, unit string) (*FloatGauge, error) {
	g, err := meter.Float64Gauge(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create float gauge %s: %w", name, err)
	}
	return &FloatGauge{inner: g}, nil
}

// Record records the current value.
func (g *FloatGauge) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	g.inner.Record(ctx, value, metric.WithAttributes(attrs...))
}

// Attribute keys shared by all gateway instruments.
var (
	AttrTenantID = attribute.Key("tenant_id")

	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
	AttrHTTPRoute      = attribute.Key("http.route")

	AttrDBOperation = attribute.Key("db.operation")
	AttrDBTable     = attribute.Key("db.table")
	AttrDBState     = attribute.Key("db.pool.state")

	AttrEventKind     = attribute.Key("event_kind")
	AttrAuthOutcome   = attribute.Key("auth_outcome")
	AttrGate          = attribute.Key("gate")
	AttrRefillOutcome = attribute.Key("refill_outcome")
)

var (
	// HTTPDurationBuckets are bucket boundaries for HTTP request duration (seconds).
	HTTPDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// DBDurationBuckets are bucket boundaries for database query duration (seconds).
	DBDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
)
