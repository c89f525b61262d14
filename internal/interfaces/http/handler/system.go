package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// SystemHandler handles liveness and readiness endpoints
type SystemHandler struct {
	BaseHandler
	startTime time.Time
	checks    map[string]HealthChecker
}

// NewSystemHandler creates a new SystemHandler. The checks map names each
// dependency probed by the readiness endpoint.
func NewSystemHandler(checks map[string]HealthChecker) *SystemHandler {
	return &SystemHandler{
		startTime: time.Now(),
		checks:    checks,
	}
}

// HealthResponse is the liveness payload
type HealthResponse struct {
	Status    string `json:"status"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// Health reports process liveness. It never touches dependencies: a
// wedged database must not make the orchestrator restart the process.
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// ReadyResponse is the readiness payload
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Ready reports whether the process can serve traffic. Each configured
// dependency is probed with a short timeout; any failure flips the
// response to 503.
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	response := ReadyResponse{Status: "ready", Checks: results}
	if status != http.StatusOK {
		response.Status = "unavailable"
	}
	c.JSON(status, response)
}
