package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// tracingServiceName names the otelgin instrumentation scope.
	tracingServiceName = "automna-backend"

	// MaxRequestIDLength caps request IDs taken from headers so an abusive
	// client cannot bloat span attributes.
	MaxRequestIDLength = 128
	// MaxTenantIDLength caps tenant IDs taken from headers.
	MaxTenantIDLength = 64
)

// uuidRegex validates tenant IDs taken from untrusted headers.
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Tracing returns the OpenTelemetry tracing middleware. It wraps otelgin,
// then enriches the server span with request_id and tenant_id and marks
// 4xx/5xx responses with an error status. Span names follow otelgin's
// "METHOD route_pattern" format (e.g. "POST /gateway/v1/billing/settle").
func Tracing() gin.HandlerFunc {
	baseMiddleware := otelgin.Middleware(tracingServiceName)

	return func(c *gin.Context) {
		// otelgin runs the rest of the chain inside the server span, so by
		// the time it returns the response status is final.
		baseMiddleware(c)

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		if requestID := getRequestID(c); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		if tenantID := getTenantID(c); tenantID != "" {
			span.SetAttributes(attribute.String("tenant_id", tenantID))
		}

		if statusCode := c.Writer.Status(); statusCode >= http.StatusBadRequest {
			span.SetStatus(codes.Error, http.StatusText(statusCode))
			span.SetAttributes(attribute.Int("http.status_code", statusCode))
		}
	}
}

// getRequestID retrieves the request ID from the gin context or header.
// Header values are truncated rather than trusted at full length.
func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		if id, ok := requestID.(string); ok && id != "" {
			return id
		}
	}

	headerID := c.GetHeader("X-Request-ID")
	if len(headerID) > MaxRequestIDLength {
		return headerID[:MaxRequestIDLength]
	}
	return headerID
}

// getTenantID retrieves the tenant ID from JWT claims, falling back to the
// X-Tenant-ID header. Header values are only accepted when they look like a
// UUID so untrusted data never lands in trace attributes.
func getTenantID(c *gin.Context) string {
	if tenantID, exists := c.Get(JWTTenantIDKey); exists {
		if id, ok := tenantID.(string); ok && id != "" {
			return id
		}
	}

	headerTenantID := c.GetHeader("X-Tenant-ID")
	if headerTenantID != "" && isValidTenantID(headerTenantID) {
		return headerTenantID
	}
	return ""
}

func isValidTenantID(tenantID string) bool {
	if len(tenantID) > MaxTenantIDLength {
		return false
	}
	return uuidRegex.MatchString(tenantID)
}
