// Package middleware provides HTTP middleware for the metering gateway.
package middleware

import (
	"time"

	"github.com/automna/backend/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// httpMetrics holds all HTTP server instruments.
type httpMetrics struct {
	requestTotal    *telemetry.Counter
	requestDuration *telemetry.Histogram
	requestSize     *telemetry.Histogram
	responseSize    *telemetry.Histogram
	activeRequests  metric.Int64UpDownCounter
}

// newHTTPMetrics creates all HTTP instruments from a meter.
func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	requestTotal, err := telemetry.NewCounter(
		meter,
		"http_server_request_total",
		"Total number of HTTP requests",
		"{request}",
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "HTTP request latency distribution in seconds",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	// Settle and purchase payloads are small; the top buckets exist for
	// report exports.
	sizeBuckets := []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000}

	requestSize, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_size_bytes",
		Description: "HTTP request body size distribution in bytes",
		Unit:        "By",
		Boundaries:  sizeBuckets,
	})
	if err != nil {
		return nil, err
	}

	responseSize, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_response_size_bytes",
		Description: "HTTP response body size distribution in bytes",
		Unit:        "By",
		Boundaries:  sizeBuckets,
	})
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"http_server_active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &httpMetrics{
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestSize:     requestSize,
		responseSize:    responseSize,
		activeRequests:  activeRequests,
	}, nil
}

// HTTPMetricsWithMeter returns a Gin middleware recording per-request
// metrics on the given meter:
//   - http_server_request_total with method, route, status_code and
//     tenant_id labels
//   - http_server_request_duration_seconds and the size histograms with
//     method and route labels only, to keep cardinality down
//   - http_server_active_requests as an up/down counter
//
// Instrument creation failures degrade to a pass-through middleware so a
// metrics misconfiguration never takes the gateway down.
func HTTPMetricsWithMeter(meter metric.Meter, enabled bool) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	metrics, err := newHTTPMetrics(meter)
	if err != nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		requestSize := c.Request.ContentLength

		metrics.activeRequests.Add(ctx, 1)
		c.Next()
		metrics.activeRequests.Add(ctx, -1)

		duration := time.Since(start)
		route := getRoutePattern(c)
		method := c.Request.Method

		requestAttrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(method),
			telemetry.AttrHTTPRoute.String(route),
			telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()),
		}
		if tenantID := getTenantIDFromContext(c); tenantID != "" {
			requestAttrs = append(requestAttrs, telemetry.AttrTenantID.String(tenantID))
		}
		metrics.requestTotal.Inc(ctx, requestAttrs...)

		baseAttrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(method),
			telemetry.AttrHTTPRoute.String(route),
		}
		metrics.requestDuration.RecordDuration(ctx, duration, baseAttrs...)

		if requestSize > 0 {
			metrics.requestSize.Record(ctx, float64(requestSize), baseAttrs...)
		}
		if responseSize := c.Writer.Size(); responseSize > 0 {
			metrics.responseSize.Record(ctx, float64(responseSize), baseAttrs...)
		}
	}
}

// getRoutePattern returns the matched route pattern (e.g. "/credits/packs/:id")
// instead of the raw path so metric cardinality stays bounded.
func getRoutePattern(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		return "unknown"
	}
	return route
}

// getTenantIDFromContext retrieves the tenant id set by the JWT middleware.
func getTenantIDFromContext(c *gin.Context) string {
	if tenantID, exists := c.Get(JWTTenantIDKey); exists {
		if id, ok := tenantID.(string); ok && id != "" {
			return id
		}
	}
	return ""
}
