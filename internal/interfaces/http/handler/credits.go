package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	creditapp "github.com/automna/backend/internal/application/credit"
	"github.com/automna/backend/internal/domain/credit"
	"github.com/automna/backend/internal/interfaces/http/dto"
)

// CreditAccountService exposes the tenant-facing credit operations
type CreditAccountService interface {
	Overview(ctx context.Context, tenantID uuid.UUID) (*creditapp.OverviewDTO, error)
	UpdateSettings(ctx context.Context, tenantID uuid.UUID, settings credit.RefillSettings) (*credit.CreditBalance, error)
	Purchase(ctx context.Context, tenantID uuid.UUID, packID, paymentRef string) (*credit.CreditBalance, error)
	GrantSignupBonus(ctx context.Context, tenantID uuid.UUID) (*credit.CreditBalance, error)
}

// CreditHandler serves the dashboard credit endpoints
type CreditHandler struct {
	BaseHandler
	credits CreditAccountService
}

// NewCreditHandler creates a new CreditHandler
func NewCreditHandler(credits CreditAccountService) *CreditHandler {
	return &CreditHandler{credits: credits}
}

// BalanceResponse is the wire form of a credit balance
type BalanceResponse struct {
	TenantID            uuid.UUID `json:"tenant_id"`
	Balance             int64     `json:"balance"`
	AutoRefillEnabled   bool      `json:"auto_refill_enabled"`
	AutoRefillThreshold int64     `json:"auto_refill_threshold"`
	RefillAmountCents   int64     `json:"refill_amount_cents"`
	MonthlyCapCents     int64     `json:"monthly_cap_cents"`
	MonthlySpentCents   int64     `json:"monthly_spent_cents"`
}

func toBalanceResponse(b *credit.CreditBalance) BalanceResponse {
	return BalanceResponse{
		TenantID:            b.TenantID,
		Balance:             b.Balance,
		AutoRefillEnabled:   b.AutoRefillEnabled,
		AutoRefillThreshold: b.AutoRefillThreshold,
		RefillAmountCents:   b.RefillAmountCents,
		MonthlyCapCents:     b.MonthlyCapCents,
		MonthlySpentCents:   b.MonthlySpentCents,
	}
}

// CreditOverviewResponse is the GET /credits payload
type CreditOverviewResponse struct {
	*creditapp.OverviewDTO
	Packs []credit.CreditPack `json:"packs"`
}

// GetOverview returns the balance, auto-refill settings, recent ledger
// lines and the purchasable pack catalog.
func (h *CreditHandler) GetOverview(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid session")
		return
	}

	overview, err := h.credits.Overview(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, CreditOverviewResponse{OverviewDTO: overview, Packs: credit.Packs})
}

// UpdateSettingsRequest is the auto-refill settings update body. Absent
// fields keep their current value.
type UpdateSettingsRequest struct {
	Enabled         *bool  `json:"enabled"`
	AmountCents     *int64 `json:"amount_cents"`
	Threshold       *int64 `json:"threshold"`
	MonthlyCapCents *int64 `json:"monthly_cap_cents"`
}

// UpdateSettings merges auto-refill settings into the tenant's balance.
// Values below the floors are clamped up, not rejected.
func (h *CreditHandler) UpdateSettings(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid session")
		return
	}

	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Invalid request body: "+err.Error())
		return
	}

	balance, err := h.credits.UpdateSettings(c.Request.Context(), tenantID, credit.RefillSettings{
		Enabled:         req.Enabled,
		AmountCents:     req.AmountCents,
		Threshold:       req.Threshold,
		MonthlyCapCents: req.MonthlyCapCents,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toBalanceResponse(balance))
}

// PurchaseRequest is the pack purchase body. The payment reference comes
// from the already-completed checkout flow.
type PurchaseRequest struct {
	PackID     string `json:"pack_id" binding:"required"`
	PaymentRef string `json:"payment_ref" binding:"required"`
}

// Purchase applies a paid credit pack to the balance
func (h *CreditHandler) Purchase(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid session")
		return
	}

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Invalid request body: "+err.Error())
		return
	}

	balance, err := h.credits.Purchase(c.Request.Context(), tenantID, req.PackID, req.PaymentRef)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toBalanceResponse(balance))
}

// BonusRequest is the internal signup-bonus grant body
type BonusRequest struct {
	TenantID uuid.UUID `json:"tenant_id" binding:"required"`
}

// GrantBonus credits the one-time signup bonus. Called by the identity
// service on signup; replays return the current balance unchanged.
func (h *CreditHandler) GrantBonus(c *gin.Context) {
	var req BonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Invalid request body: "+err.Error())
		return
	}

	balance, err := h.credits.GrantSignupBonus(c.Request.Context(), req.TenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toBalanceResponse(balance))
}
