package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/automna/backend/internal/application/metering"
	"github.com/automna/backend/internal/domain/billing"
	"github.com/automna/backend/internal/domain/identity"
)

// UsageSummarizer aggregates the current month's usage
type UsageSummarizer interface {
	MonthlySummary(ctx context.Context, tenantID uuid.UUID) (*metering.UsageSummaryDTO, error)
	ListEvents(ctx context.Context, tenantID uuid.UUID, from, to time.Time, limit int) ([]*billing.UsageEvent, error)
}

// LimitsReader reads the quota gates without counting a request
type LimitsReader interface {
	Snapshot(ctx context.Context, tc *identity.TenantContext) (*billing.LimitsSnapshot, error)
}

// TenantFinder loads a tenant account
type TenantFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error)
}

// UsageHandler serves the dashboard usage endpoints
type UsageHandler struct {
	BaseHandler
	usage   UsageSummarizer
	limits  LimitsReader
	tenants TenantFinder
}

// NewUsageHandler creates a new UsageHandler
func NewUsageHandler(usage UsageSummarizer, limits LimitsReader, tenants TenantFinder) *UsageHandler {
	return &UsageHandler{usage: usage, limits: limits, tenants: tenants}
}

// UsageResponse is the GET /usage payload
type UsageResponse struct {
	Plan    string                    `json:"plan"`
	Summary *metering.UsageSummaryDTO `json:"summary"`
	Limits  *billing.LimitsSnapshot   `json:"limits"`
}

// GetUsage returns the current month's per-kind totals together with a
// snapshot of both quota gates.
func (h *UsageHandler) GetUsage(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid session")
		return
	}
	ctx := c.Request.Context()

	tenant, err := h.tenants.FindByID(ctx, tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	summary, err := h.usage.MonthlySummary(ctx, tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	tc := &identity.TenantContext{TenantID: tenant.ID, Plan: tenant.Plan, BYOK: tenant.BYOK}
	limits, err := h.limits.Snapshot(ctx, tc)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, UsageResponse{
		Plan:    string(tenant.Plan),
		Summary: summary,
		Limits:  limits,
	})
}

// UsageEventResponse is the wire form of one metered event
type UsageEventResponse struct {
	ID         uuid.UUID        `json:"id"`
	Kind       string           `json:"kind"`
	CostMicro  int64            `json:"cost_micro"`
	Credits    int64            `json:"credits"`
	OccurredAt time.Time        `json:"occurred_at"`
	ErrorTag   string           `json:"error_tag,omitempty"`
	Metadata   billing.Metadata `json:"metadata,omitempty"`
}

// GetEvents returns recent usage events, newest first. Query parameters:
// from/to as RFC 3339 timestamps (default: start of month to now) and
// limit (default 100, max 1000).
func (h *UsageHandler) GetEvents(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid session")
		return
	}

	now := time.Now().UTC()
	from := billing.MonthStartUTC(now)
	to := now

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.BadRequest(c, "Invalid 'from' timestamp")
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.BadRequest(c, "Invalid 'to' timestamp")
			return
		}
		to = parsed
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.BadRequest(c, "Invalid 'limit' value")
			return
		}
		limit = min(parsed, 1000)
	}

	events, err := h.usage.ListEvents(c.Request.Context(), tenantID, from, to, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	response := make([]UsageEventResponse, 0, len(events))
	for _, event := range events {
		response = append(response, UsageEventResponse{
			ID:         event.ID,
			Kind:       string(event.Kind),
			CostMicro:  event.CostMicro,
			Credits:    event.Credits,
			OccurredAt: event.OccurredAt,
			ErrorTag:   event.ErrorTag,
			Metadata:   event.Metadata,
		})
	}
	h.Success(c, response)
}
