package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/automna/backend/internal/application/gate"
	"github.com/automna/backend/internal/domain/billing"
	"github.com/automna/backend/internal/interfaces/http/dto"
	"github.com/automna/backend/internal/interfaces/http/middleware"
)

// GatewayHandler serves the gated metering surface. Service shims report
// finished upstream work here under the tenant's own API key; the gate
// middleware has already authorized and rate-counted the request.
type GatewayHandler struct {
	gate *gate.GateService
}

// NewGatewayHandler creates a new GatewayHandler
func NewGatewayHandler(gateService *gate.GateService) *GatewayHandler {
	return &GatewayHandler{gate: gateService}
}

// SettleRequest describes one finished upstream call
type SettleRequest struct {
	Kind      string           `json:"kind" binding:"required,eventkind"`
	CostMicro int64            `json:"cost_micro" binding:"min=0"`
	ErrorTag  string           `json:"error_tag"`
	Metadata  billing.Metadata `json:"metadata"`
}

// Settle records a billable event for the authenticated tenant. The
// response never blocks on the ledger or balance writes; a 202 means
// the event was accepted for settlement.
func (h *GatewayHandler) Settle(c *gin.Context) {
	tc, ok := middleware.GetTenantContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, dto.NewAuthenticationError("Missing API key"))
		return
	}

	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewAPIError("Invalid request body: "+middleware.ValidationMessage(err)))
		return
	}

	h.gate.Settle(c.Request.Context(), tc, gate.SettleInput{
		Kind:      billing.EventKind(req.Kind),
		CostMicro: req.CostMicro,
		ErrorTag:  req.ErrorTag,
		Metadata:  req.Metadata,
	})

	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
