package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/automna/backend/internal/application/gate"
	"github.com/automna/backend/internal/domain/identity"
	"github.com/automna/backend/internal/interfaces/http/dto"
)

// TenantContextKey is the gin context key holding the resolved tenant
const TenantContextKey = "tenant_context"

// GateConfig holds configuration for the request gate middleware
type GateConfig struct {
	// Gate is required; it performs token resolution and quota checks
	Gate *gate.GateService
	// Logger for middleware logging
	Logger *zap.Logger
}

// Gate authenticates and rate-limits gated routes. On success the
// resolved tenant context is stored under TenantContextKey; on rejection
// the request is aborted with the wire error body. Infrastructure
// failures deny the request: an unattributed or unmetered call must
// never reach an upstream.
func Gate(cfg GateConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		tc, err := cfg.Gate.Authorize(ctx, c.Request.Header)
		if err != nil {
			var authErr *gate.AuthError
			message := "Invalid API key"
			if errors.As(err, &authErr) {
				message = authErr.Message
			} else {
				logger.Error("authorization failed", zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewAuthenticationError(message))
			return
		}

		if _, err := cfg.Gate.CheckQuota(ctx, tc); err != nil {
			var limitErr *gate.RateLimitedError
			if errors.As(err, &limitErr) {
				if retryAfter := limitErr.RetryAfterSeconds(); retryAfter > 0 {
					c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
				}
				c.AbortWithStatusJSON(http.StatusTooManyRequests,
					dto.NewRateLimitError(limitErr.Result.Reason, limitErr.Result.Limits))
				return
			}

			logger.Error("quota check failed",
				zap.String("tenant_id", tc.TenantID.String()),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				dto.NewAPIError("Unable to verify usage limits"))
			return
		}

		c.Set(TenantContextKey, tc)
		c.Next()
	}
}

// GetTenantContext returns the tenant context stored by the gate
// middleware. The second return is false on ungated routes.
func GetTenantContext(c *gin.Context) (*identity.TenantContext, bool) {
	value, exists := c.Get(TenantContextKey)
	if !exists {
		return nil, false
	}
	tc, ok := value.(*identity.TenantContext)
	return tc, ok
}
