// Package credit provides the application service for the prepaid credit
// balance: debits, purchases, the signup bonus and automatic refills.
package credit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/automna/backend/internal/domain/credit"
	"github.com/automna/backend/internal/domain/identity"
	"github.com/automna/backend/internal/domain/shared"
	"github.com/automna/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentProcessor charges a stored payment method without the customer
// present. Implemented by the Stripe adapter.
type PaymentProcessor interface {
	// ChargeOffSession creates and confirms an off-session charge against
	// the customer's default payment method. Returns the provider's
	// payment reference on success.
	ChargeOffSession(ctx context.Context, customerID string, amountCents int64, description string) (string, error)
}

// RefillMetrics receives counters about auto-refill outcomes. A nil
// RefillMetrics disables recording.
type RefillMetrics interface {
	// RecordRefill counts one auto-refill attempt by outcome
	// ("succeeded", "skipped_cap", "failed_charge", "failed_no_customer")
	RecordRefill(ctx context.Context, outcome string)
}

// CreditService coordinates the balance aggregate, the transaction ledger
// and the payment provider.
type CreditService struct {
	balances     credit.BalanceRepository
	transactions credit.TransactionRepository
	tenants      identity.TenantRepository
	payments     PaymentProcessor
	metrics      RefillMetrics
	logger       *zap.Logger

	writeTimeout   time.Duration
	paymentTimeout time.Duration

	// refillInFlight guards against concurrent refill attempts for the
	// same tenant within this process. Keyed by tenant UUID.
	refillInFlight sync.Map
}

// CreditServiceConfig contains configuration for CreditService
type CreditServiceConfig struct {
	Balances       credit.BalanceRepository
	Transactions   credit.TransactionRepository
	Tenants        identity.TenantRepository
	Payments       PaymentProcessor
	Metrics        RefillMetrics // Optional
	Logger         *zap.Logger
	WriteTimeout   time.Duration // Default: 3s
	PaymentTimeout time.Duration // Default: 15s
}

// NewCreditService creates a new CreditService
func NewCreditService(cfg CreditServiceConfig) *CreditService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 3 * time.Second
	}
	paymentTimeout := cfg.PaymentTimeout
	if paymentTimeout <= 0 {
		paymentTimeout = 15 * time.Second
	}
	return &CreditService{
		balances:       cfg.Balances,
		transactions:   cfg.Transactions,
		tenants:        cfg.Tenants,
		payments:       cfg.Payments,
		metrics:        cfg.Metrics,
		logger:         logger,
		writeTimeout:   writeTimeout,
		paymentTimeout: paymentTimeout,
	}
}

// DebitResult is the outcome of a balance debit
type DebitResult struct {
	TenantID        uuid.UUID `json:"tenant_id"`
	Debited         int64     `json:"debited"`
	Balance         int64     `json:"balance"`
	RefillTriggered bool      `json:"refill_triggered"`
}

// Debit reduces the tenant's balance by the given credit amount, clamping
// at zero. Returns shared.ErrNotFound when the tenant has no balance row:
// a debit never creates one. May kick off an asynchronous auto-refill.
func (s *CreditService) Debit(ctx context.Context, tenantID uuid.UUID, amount int64) (*DebitResult, error) {
	return s.DebitWithDescription(ctx, tenantID, amount, "Usage debit")
}

// DebitWithDescription is Debit with a caller-supplied ledger line
// description, used by the internal deduct endpoint so sibling services
// can label their charges.
func (s *CreditService) DebitWithDescription(ctx context.Context, tenantID uuid.UUID, amount int64, description string) (*DebitResult, error) {
	if amount <= 0 {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Debit amount must be positive")
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "credit", "debit",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrAmount, amount))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	balance, err := s.balances.Find(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// The clamp happens inside the UPDATE so a concurrent refill grant is
	// never overwritten by this debit.
	newBalance, err := s.balances.DebitClamped(ctx, tenantID, amount)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("debit balance: %w", err)
	}

	if description == "" {
		description = "Usage debit"
	}
	tx, err := credit.NewCreditTransaction(tenantID, credit.TransactionTypeUsage, -amount, newBalance, description)
	if err != nil {
		return nil, err
	}
	if err := s.transactions.Append(ctx, tx); err != nil {
		// The balance write already took effect. A ledger gap is logged
		// rather than unwinding the debit.
		s.logger.Error("failed to append usage transaction",
			zap.String("tenant_id", tenantID.String()),
			zap.Int64("amount", amount),
			zap.Error(err))
	}

	triggered := balance.NeedsRefill(newBalance)
	if triggered {
		go s.runAutoRefill(tenantID)
	}

	return &DebitResult{
		TenantID:        tenantID,
		Debited:         amount,
		Balance:         newBalance,
		RefillTriggered: triggered,
	}, nil
}

// runAutoRefill attempts one automatic top-up for a tenant. At most one
// attempt runs per tenant per process at a time; every exit path is
// logged and counted, nothing is retried.
func (s *CreditService) runAutoRefill(tenantID uuid.UUID) {
	if _, loaded := s.refillInFlight.LoadOrStore(tenantID, struct{}{}); loaded {
		return
	}
	defer s.refillInFlight.Delete(tenantID)

	// Deployments without a payment key run with no processor; refill
	// stays enabled in settings but never charges.
	if s.payments == nil {
		s.recordRefill(context.Background(), "skipped_no_processor")
		s.logger.Info("auto-refill skipped, no payment processor configured",
			zap.String("tenant_id", tenantID.String()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.paymentTimeout+s.writeTimeout)
	defer cancel()

	logger := s.logger.With(zap.String("tenant_id", tenantID.String()))

	// Re-read under the guard: the balance may have been topped up since
	// the debit that triggered us.
	balance, err := s.balances.Find(ctx, tenantID)
	if err != nil {
		logger.Warn("auto-refill aborted, balance read failed", zap.Error(err))
		return
	}
	if !balance.AutoRefillEnabled || balance.Balance >= balance.AutoRefillThreshold {
		return
	}

	now := time.Now().UTC()
	if balance.MonthlyResetDue(now) {
		if err := s.balances.ResetMonthlySpent(ctx, tenantID, credit.NextMonthResetUTC(now)); err != nil {
			logger.Warn("auto-refill aborted, cycle reset failed", zap.Error(err))
			return
		}
		balance.MonthlySpentCents = 0
	}

	if balance.CapBlocksRefill() {
		s.recordRefill(ctx, "skipped_cap")
		logger.Info("auto-refill skipped, monthly cap reached",
			zap.Int64("spent_cents", balance.MonthlySpentCents),
			zap.Int64("cap_cents", balance.MonthlyCapCents))
		return
	}

	pack := credit.ClosestPack(balance.RefillAmountCents)

	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil || tenant.StripeID == "" {
		s.recordRefill(ctx, "failed_no_customer")
		logger.Warn("auto-refill aborted, no billing customer", zap.Error(err))
		return
	}

	chargeCtx, chargeCancel := context.WithTimeout(ctx, s.paymentTimeout)
	paymentRef, err := s.payments.ChargeOffSession(chargeCtx, tenant.StripeID, pack.PriceCents,
		fmt.Sprintf("Auto-refill: %s pack", pack.Label))
	chargeCancel()
	if err != nil {
		s.recordRefill(ctx, "failed_charge")
		logger.Warn("auto-refill charge failed",
			zap.String("pack", pack.ID),
			zap.Int64("price_cents", pack.PriceCents),
			zap.Error(err))
		return
	}

	if err := s.balances.AddCredits(ctx, tenantID, pack.Credits, pack.PriceCents); err != nil {
		// The customer was charged but the balance write failed. This is
		// the one state that needs an operator; log loudly.
		logger.Error("auto-refill charged but credit grant failed",
			zap.String("payment_ref", paymentRef),
			zap.Int64("credits", pack.Credits),
			zap.Error(err))
		return
	}

	tx, err := credit.NewCreditTransaction(tenantID, credit.TransactionTypeRefill, pack.Credits,
		balance.Balance+pack.Credits, fmt.Sprintf("Auto-refill: %s pack", pack.Label))
	if err == nil {
		if appendErr := s.transactions.Append(ctx, tx.WithPaymentRef(paymentRef)); appendErr != nil {
			logger.Error("failed to append refill transaction", zap.Error(appendErr))
		}
	}

	s.recordRefill(ctx, "succeeded")
	logger.Info("auto-refill succeeded",
		zap.String("pack", pack.ID),
		zap.Int64("credits", pack.Credits),
		zap.String("payment_ref", paymentRef))
}

// GrantSignupBonus credits the one-time signup bonus. The unique ledger
// constraint on (tenant, bonus) makes this idempotent: a second call
// returns the current balance without granting anything.
func (s *CreditService) GrantSignupBonus(ctx context.Context, tenantID uuid.UUID) (*credit.CreditBalance, error) {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	balance, err := s.balances.FindOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	tx, err := credit.NewCreditTransaction(tenantID, credit.TransactionTypeBonus, credit.SignupBonusCredits,
		balance.Balance+credit.SignupBonusCredits, "Signup bonus")
	if err != nil {
		return nil, err
	}
	if err := s.transactions.Append(ctx, tx); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return balance, nil
		}
		return nil, fmt.Errorf("append bonus transaction: %w", err)
	}

	if err := s.balances.AddCredits(ctx, tenantID, credit.SignupBonusCredits, 0); err != nil {
		return nil, fmt.Errorf("grant bonus credits: %w", err)
	}
	balance.Balance += credit.SignupBonusCredits

	s.logger.Info("signup bonus granted",
		zap.String("tenant_id", tenantID.String()),
		zap.Int64("credits", credit.SignupBonusCredits))
	return balance, nil
}

// Purchase applies an already-paid credit pack to the balance. The caller
// supplies the payment reference from the checkout flow.
func (s *CreditService) Purchase(ctx context.Context, tenantID uuid.UUID, packID, paymentRef string) (*credit.CreditBalance, error) {
	pack, ok := credit.PackByID(packID)
	if !ok {
		return nil, shared.NewDomainError("UNKNOWN_PACK", "Unknown credit pack")
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "credit", "purchase",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrPackID, pack.ID))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	balance, err := s.balances.FindOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if err := s.balances.AddCredits(ctx, tenantID, pack.Credits, 0); err != nil {
		return nil, fmt.Errorf("apply purchase: %w", err)
	}
	balance.Balance += pack.Credits

	tx, err := credit.NewCreditTransaction(tenantID, credit.TransactionTypePurchase, pack.Credits,
		balance.Balance, fmt.Sprintf("Purchase: %s pack", pack.Label))
	if err != nil {
		return nil, err
	}
	if err := s.transactions.Append(ctx, tx.WithPaymentRef(paymentRef)); err != nil {
		s.logger.Error("failed to append purchase transaction",
			zap.String("tenant_id", tenantID.String()),
			zap.String("payment_ref", paymentRef),
			zap.Error(err))
	}

	return balance, nil
}

// UpdateSettings merges the auto-refill configuration into the tenant's
// balance row, creating it when absent. Out-of-range values are clamped,
// never rejected.
func (s *CreditService) UpdateSettings(ctx context.Context, tenantID uuid.UUID, settings credit.RefillSettings) (*credit.CreditBalance, error) {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	balance, err := s.balances.FindOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	settings.Apply(balance)
	if err := s.balances.UpdateSettings(ctx, balance); err != nil {
		return nil, fmt.Errorf("update refill settings: %w", err)
	}
	return balance, nil
}

// OverviewDTO combines the balance with its recent ledger activity
type OverviewDTO struct {
	TenantID            uuid.UUID        `json:"tenant_id"`
	Balance             int64            `json:"balance"`
	AutoRefillEnabled   bool             `json:"auto_refill_enabled"`
	AutoRefillThreshold int64            `json:"auto_refill_threshold"`
	RefillAmountCents   int64            `json:"refill_amount_cents"`
	MonthlyCapCents     int64            `json:"monthly_cap_cents"`
	MonthlySpentCents   int64            `json:"monthly_spent_cents"`
	Transactions        []TransactionDTO `json:"transactions"`
}

// TransactionDTO is one ledger line in API form
type TransactionDTO struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Overview returns the tenant's balance with recent transactions, lazily
// creating the default balance row for first-time callers.
func (s *CreditService) Overview(ctx context.Context, tenantID uuid.UUID) (*OverviewDTO, error) {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	balance, err := s.balances.FindOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	recent, err := s.transactions.RecentByTenant(ctx, tenantID, 20)
	if err != nil {
		return nil, err
	}

	dto := &OverviewDTO{
		TenantID:            tenantID,
		Balance:             balance.Balance,
		AutoRefillEnabled:   balance.AutoRefillEnabled,
		AutoRefillThreshold: balance.AutoRefillThreshold,
		RefillAmountCents:   balance.RefillAmountCents,
		MonthlyCapCents:     balance.MonthlyCapCents,
		MonthlySpentCents:   balance.MonthlySpentCents,
		Transactions:        make([]TransactionDTO, 0, len(recent)),
	}
	for _, tx := range recent {
		dto.Transactions = append(dto.Transactions, TransactionDTO{
			ID:           tx.ID,
			Type:         string(tx.Type),
			Amount:       tx.Amount,
			BalanceAfter: tx.BalanceAfter,
			Description:  tx.Description,
			CreatedAt:    tx.CreatedAt,
		})
	}
	return dto, nil
}

func (s *CreditService) recordRefill(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordRefill(ctx, outcome)
	}
}
