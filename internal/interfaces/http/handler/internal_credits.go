package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	creditapp "github.com/automna/backend/internal/application/credit"
	"github.com/automna/backend/internal/domain/credit"
	"github.com/automna/backend/internal/domain/shared"
	"github.com/automna/backend/internal/interfaces/http/dto"
)

// idempotencyTTL is how long a handled Idempotency-Key suppresses
// replays of the same deduct request.
const idempotencyTTL = 24 * time.Hour

// CreditDeductor applies a labelled debit to a tenant balance
type CreditDeductor interface {
	DebitWithDescription(ctx context.Context, tenantID uuid.UUID, amount int64, description string) (*creditapp.DebitResult, error)
}

// BalanceFinder reads an existing tenant balance
type BalanceFinder interface {
	Find(ctx context.Context, tenantID uuid.UUID) (*credit.CreditBalance, error)
}

// InternalCreditHandler serves the service-to-service deduct endpoint.
// Sibling services that meter their own usage (sandboxes, schedulers)
// call it instead of going through the request gate.
type InternalCreditHandler struct {
	BaseHandler
	deductor    CreditDeductor
	balances    BalanceFinder
	idempotency shared.IdempotencyStore
	logger      *zap.Logger
}

// NewInternalCreditHandler creates a new InternalCreditHandler
func NewInternalCreditHandler(deductor CreditDeductor, balances BalanceFinder, idempotency shared.IdempotencyStore, logger *zap.Logger) *InternalCreditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InternalCreditHandler{
		deductor:    deductor,
		balances:    balances,
		idempotency: idempotency,
		logger:      logger,
	}
}

// DeductRequest is the internal deduct request body
type DeductRequest struct {
	TenantID    uuid.UUID `json:"tenant_id" binding:"required"`
	Amount      int64     `json:"amount" binding:"required,gt=0"`
	Description string    `json:"description"`
}

// DeductResponse is the internal deduct response body
type DeductResponse struct {
	Allowed  bool  `json:"allowed"`
	Balance  int64 `json:"balance"`
	Deducted int64 `json:"deducted"`
}

// Deduct applies a debit for a sibling service. A tenant with no balance
// row is a 404: internal callers must not implicitly enroll tenants. A
// drained balance is not an error; the caller gets allowed=false and
// decides whether to cut the tenant off.
func (h *InternalCreditHandler) Deduct(c *gin.Context) {
	var req DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()

	if key := c.GetHeader("Idempotency-Key"); key != "" && h.idempotency != nil {
		fresh, err := h.idempotency.MarkProcessed(ctx, "deduct:"+key, idempotencyTTL)
		if err != nil {
			// The store is advisory. Losing it means duplicates are
			// possible, not that deducts must stop.
			h.logger.Warn("idempotency store unavailable", zap.Error(err))
		} else if !fresh {
			h.replayResponse(c, req.TenantID)
			return
		}
	}

	balance, err := h.balances.Find(ctx, req.TenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if balance.Balance <= 0 {
		c.JSON(http.StatusOK, DeductResponse{Allowed: false, Balance: balance.Balance, Deducted: 0})
		return
	}

	result, err := h.deductor.DebitWithDescription(ctx, req.TenantID, req.Amount, req.Description)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, DeductResponse{
		Allowed:  true,
		Balance:  result.Balance,
		Deducted: result.Debited,
	})
}

// replayResponse answers a duplicate Idempotency-Key without debiting
// again. The decision is derived from the current balance rather than
// replayed verbatim: a caller retrying a deduct that was rejected on a
// drained balance must not suddenly be told it went through.
func (h *InternalCreditHandler) replayResponse(c *gin.Context, tenantID uuid.UUID) {
	balance, err := h.balances.Find(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, DeductResponse{
		Allowed:  balance.Balance > 0,
		Balance:  balance.Balance,
		Deducted: 0,
	})
}
