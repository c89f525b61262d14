package middleware

import (
	"context"

	"github.com/automna/backend/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
)

// Profiling attaches pprof labels for the given surface so CPU samples can
// be sliced by route, method and tenant in the profiler UI. It must run
// after the surface's auth middleware so tenant attribution is available.
func Profiling(surface string) gin.HandlerFunc {
	return func(c *gin.Context) {
		labels := telemetry.RequestLabels(surface, c.FullPath(), c.Request.Method, profilingTenantID(c))

		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

// profilingTenantID resolves the tenant from whichever auth middleware ran,
// the API-key gate or the dashboard JWT.
func profilingTenantID(c *gin.Context) string {
	if tc, ok := GetTenantContext(c); ok {
		return tc.TenantID.String()
	}
	return GetJWTTenantID(c)
}
