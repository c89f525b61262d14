package credit

import (
	"context"
	"errors"
	"testing"
	"time"

	creditdomain "github.com/automna/backend/internal/domain/credit"
	"github.com/automna/backend/internal/domain/identity"
	"github.com/automna/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock implementations

type mockBalanceRepository struct {
	mock.Mock
}

func (m *mockBalanceRepository) Find(ctx context.Context, tenantID uuid.UUID) (*creditdomain.CreditBalance, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*creditdomain.CreditBalance), args.Error(1)
}

func (m *mockBalanceRepository) FindOrCreate(ctx context.Context, tenantID uuid.UUID) (*creditdomain.CreditBalance, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*creditdomain.CreditBalance), args.Error(1)
}

func (m *mockBalanceRepository) DebitClamped(ctx context.Context, tenantID uuid.UUID, amount int64) (int64, error) {
	args := m.Called(ctx, tenantID, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBalanceRepository) AddCredits(ctx context.Context, tenantID uuid.UUID, creditDelta, spentCentsDelta int64) error {
	args := m.Called(ctx, tenantID, creditDelta, spentCentsDelta)
	return args.Error(0)
}

func (m *mockBalanceRepository) ResetMonthlySpent(ctx context.Context, tenantID uuid.UUID, nextReset time.Time) error {
	args := m.Called(ctx, tenantID, nextReset)
	return args.Error(0)
}

func (m *mockBalanceRepository) UpdateSettings(ctx context.Context, balance *creditdomain.CreditBalance) error {
	args := m.Called(ctx, balance)
	return args.Error(0)
}

type mockTransactionRepository struct {
	mock.Mock
}

func (m *mockTransactionRepository) Append(ctx context.Context, tx *creditdomain.CreditTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockTransactionRepository) RecentByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*creditdomain.CreditTransaction, error) {
	args := m.Called(ctx, tenantID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*creditdomain.CreditTransaction), args.Error(1)
}

func (m *mockTransactionRepository) HasAny(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tenantID)
	return args.Bool(0), args.Error(1)
}

type mockTenantRepository struct {
	mock.Mock
}

func (m *mockTenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Tenant), args.Error(1)
}

func (m *mockTenantRepository) SetStripeID(ctx context.Context, id uuid.UUID, stripeID string) error {
	args := m.Called(ctx, id, stripeID)
	return args.Error(0)
}

type mockPaymentProcessor struct {
	mock.Mock
}

func (m *mockPaymentProcessor) ChargeOffSession(ctx context.Context, customerID string, amountCents int64, description string) (string, error) {
	args := m.Called(ctx, customerID, amountCents, description)
	return args.String(0), args.Error(1)
}

type refillOutcomes struct {
	outcomes chan string
}

func newRefillOutcomes() *refillOutcomes {
	return &refillOutcomes{outcomes: make(chan string, 8)}
}

func (r *refillOutcomes) RecordRefill(_ context.Context, outcome string) {
	r.outcomes <- outcome
}

func newService(balances *mockBalanceRepository, txs *mockTransactionRepository, tenants *mockTenantRepository, payments *mockPaymentProcessor, metrics RefillMetrics) *CreditService {
	return NewCreditService(CreditServiceConfig{
		Balances:     balances,
		Transactions: txs,
		Tenants:      tenants,
		Payments:     payments,
		Metrics:      metrics,
	})
}

func balanceFixture(tenantID uuid.UUID, amount int64) *creditdomain.CreditBalance {
	b := creditdomain.NewCreditBalance(tenantID)
	b.Balance = amount
	return b
}

func TestCreditService_Debit(t *testing.T) {
	tenantID := uuid.New()

	t.Run("debits and appends a usage transaction", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		txs := new(mockTransactionRepository)
		svc := newService(balances, txs, nil, nil, nil)

		balances.On("Find", mock.Anything, tenantID).Return(balanceFixture(tenantID, 50_000), nil)
		balances.On("DebitClamped", mock.Anything, tenantID, int64(300)).Return(int64(49_700), nil)
		txs.On("Append", mock.Anything, mock.MatchedBy(func(tx *creditdomain.CreditTransaction) bool {
			return tx.Type == creditdomain.TransactionTypeUsage && tx.Amount == -300 && tx.BalanceAfter == 49_700
		})).Return(nil)

		result, err := svc.Debit(context.Background(), tenantID, 300)
		require.NoError(t, err)
		assert.Equal(t, int64(49_700), result.Balance)
		assert.False(t, result.RefillTriggered)
		balances.AssertExpectations(t)
		txs.AssertExpectations(t)
	})

	t.Run("clamps at zero instead of going negative", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		txs := new(mockTransactionRepository)
		svc := newService(balances, txs, nil, nil, nil)

		balances.On("Find", mock.Anything, tenantID).Return(balanceFixture(tenantID, 100), nil)
		balances.On("DebitClamped", mock.Anything, tenantID, int64(5_000)).Return(int64(0), nil)
		txs.On("Append", mock.Anything, mock.Anything).Return(nil)

		result, err := svc.Debit(context.Background(), tenantID, 5_000)
		require.NoError(t, err)
		assert.Zero(t, result.Balance)
		assert.Equal(t, int64(5_000), result.Debited)
	})

	t.Run("missing balance row surfaces not found", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		svc := newService(balances, new(mockTransactionRepository), nil, nil, nil)

		balances.On("Find", mock.Anything, tenantID).Return(nil, shared.ErrNotFound)

		result, err := svc.Debit(context.Background(), tenantID, 100)
		require.ErrorIs(t, err, shared.ErrNotFound)
		assert.Nil(t, result)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		svc := newService(new(mockBalanceRepository), new(mockTransactionRepository), nil, nil, nil)

		_, err := svc.Debit(context.Background(), tenantID, 0)
		require.Error(t, err)
		_, err = svc.Debit(context.Background(), tenantID, -5)
		require.Error(t, err)
	})

	t.Run("ledger append failure does not fail the debit", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		txs := new(mockTransactionRepository)
		svc := newService(balances, txs, nil, nil, nil)

		balances.On("Find", mock.Anything, tenantID).Return(balanceFixture(tenantID, 1_000), nil)
		balances.On("DebitClamped", mock.Anything, tenantID, int64(100)).Return(int64(900), nil)
		txs.On("Append", mock.Anything, mock.Anything).Return(errors.New("db down"))

		result, err := svc.Debit(context.Background(), tenantID, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(900), result.Balance)
	})

	t.Run("flags refill when post-debit balance crosses the threshold", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		txs := new(mockTransactionRepository)
		tenants := new(mockTenantRepository)
		svc := newService(balances, txs, tenants, new(mockPaymentProcessor), nil)

		b := balanceFixture(tenantID, 10_100)
		b.AutoRefillEnabled = true // threshold defaults to 10,000
		balances.On("Find", mock.Anything, tenantID).Return(b, nil).Maybe()
		// The background refill may or may not get this far before the
		// test ends; either way it aborts without a billing customer.
		tenants.On("FindByID", mock.Anything, tenantID).Return(nil, shared.ErrNotFound).Maybe()
		balances.On("DebitClamped", mock.Anything, tenantID, int64(200)).Return(int64(9_900), nil)
		txs.On("Append", mock.Anything, mock.Anything).Return(nil)

		result, err := svc.Debit(context.Background(), tenantID, 200)
		require.NoError(t, err)
		assert.True(t, result.RefillTriggered)
	})
}

func TestCreditService_AutoRefill(t *testing.T) {
	tenantID := uuid.New()

	refillable := func(balance int64) *creditdomain.CreditBalance {
		b := balanceFixture(tenantID, balance)
		b.AutoRefillEnabled = true
		b.RefillAmountCents = 1_000
		return b
	}

	tenant := &identity.Tenant{StripeID: "cus_123"}

	t.Run("charges closest pack and grants its credits", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		txs := new(mockTransactionRepository)
		tenants := new(mockTenantRepository)
		payments := new(mockPaymentProcessor)
		metrics := newRefillOutcomes()
		svc := newService(balances, txs, tenants, payments, metrics)

		balances.On("Find", mock.Anything, tenantID).Return(refillable(5_000), nil)
		tenants.On("FindByID", mock.Anything, tenantID).Return(tenant, nil)
		// The standard pack is priced exactly at the configured $10.
		payments.On("ChargeOffSession", mock.Anything, "cus_123", int64(1_000), mock.Anything).
			Return("pi_abc", nil)
		balances.On("AddCredits", mock.Anything, tenantID, int64(10_500), int64(1_000)).Return(nil)
		txs.On("Append", mock.Anything, mock.MatchedBy(func(tx *creditdomain.CreditTransaction) bool {
			return tx.Type == creditdomain.TransactionTypeRefill && tx.Amount == 10_500 && tx.PaymentRef == "pi_abc"
		})).Return(nil)

		svc.runAutoRefill(tenantID)

		assert.Equal(t, "succeeded", <-metrics.outcomes)
		balances.AssertExpectations(t)
		payments.AssertExpectations(t)
	})

	t.Run("skips without charging when no processor is configured", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		metrics := newRefillOutcomes()
		svc := NewCreditService(CreditServiceConfig{
			Balances:     balances,
			Transactions: new(mockTransactionRepository),
			Tenants:      new(mockTenantRepository),
			Metrics:      metrics,
		})

		svc.runAutoRefill(tenantID)

		assert.Equal(t, "skipped_no_processor", <-metrics.outcomes)
		balances.AssertNotCalled(t, "Find", mock.Anything, mock.Anything)
	})

	t.Run("skips when monthly cap would be exceeded", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		payments := new(mockPaymentProcessor)
		metrics := newRefillOutcomes()
		svc := newService(balances, new(mockTransactionRepository), new(mockTenantRepository), payments, metrics)

		b := refillable(5_000)
		b.MonthlyCapCents = 2_000
		b.MonthlySpentCents = 1_500
		balances.On("Find", mock.Anything, tenantID).Return(b, nil)

		svc.runAutoRefill(tenantID)

		assert.Equal(t, "skipped_cap", <-metrics.outcomes)
		payments.AssertNotCalled(t, "ChargeOffSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("resets a lapsed spend cycle before the cap check", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		txs := new(mockTransactionRepository)
		tenants := new(mockTenantRepository)
		payments := new(mockPaymentProcessor)
		metrics := newRefillOutcomes()
		svc := newService(balances, txs, tenants, payments, metrics)

		b := refillable(5_000)
		b.MonthlyCapCents = 2_000
		b.MonthlySpentCents = 1_900 // Would block, but the cycle lapsed
		b.MonthlyResetAt = time.Now().UTC().Add(-time.Hour)
		balances.On("Find", mock.Anything, tenantID).Return(b, nil)
		balances.On("ResetMonthlySpent", mock.Anything, tenantID, mock.AnythingOfType("time.Time")).Return(nil)
		tenants.On("FindByID", mock.Anything, tenantID).Return(tenant, nil)
		payments.On("ChargeOffSession", mock.Anything, "cus_123", int64(1_000), mock.Anything).
			Return("pi_abc", nil)
		balances.On("AddCredits", mock.Anything, tenantID, int64(10_500), int64(1_000)).Return(nil)
		txs.On("Append", mock.Anything, mock.Anything).Return(nil)

		svc.runAutoRefill(tenantID)

		assert.Equal(t, "succeeded", <-metrics.outcomes)
		balances.AssertCalled(t, "ResetMonthlySpent", mock.Anything, tenantID, mock.AnythingOfType("time.Time"))
	})

	t.Run("declined charge grants nothing and is not retried", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		tenants := new(mockTenantRepository)
		payments := new(mockPaymentProcessor)
		metrics := newRefillOutcomes()
		svc := newService(balances, new(mockTransactionRepository), tenants, payments, metrics)

		balances.On("Find", mock.Anything, tenantID).Return(refillable(5_000), nil)
		tenants.On("FindByID", mock.Anything, tenantID).Return(tenant, nil)
		payments.On("ChargeOffSession", mock.Anything, "cus_123", int64(1_000), mock.Anything).
			Return("", errors.New("card_declined")).Once()

		svc.runAutoRefill(tenantID)

		assert.Equal(t, "failed_charge", <-metrics.outcomes)
		balances.AssertNotCalled(t, "AddCredits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("aborts without a stored billing customer", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		tenants := new(mockTenantRepository)
		payments := new(mockPaymentProcessor)
		metrics := newRefillOutcomes()
		svc := newService(balances, new(mockTransactionRepository), tenants, payments, metrics)

		balances.On("Find", mock.Anything, tenantID).Return(refillable(5_000), nil)
		tenants.On("FindByID", mock.Anything, tenantID).Return(&identity.Tenant{}, nil)

		svc.runAutoRefill(tenantID)

		assert.Equal(t, "failed_no_customer", <-metrics.outcomes)
		payments.AssertNotCalled(t, "ChargeOffSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no-ops when balance recovered above the threshold", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		payments := new(mockPaymentProcessor)
		metrics := newRefillOutcomes()
		svc := newService(balances, new(mockTransactionRepository), new(mockTenantRepository), payments, metrics)

		balances.On("Find", mock.Anything, tenantID).Return(refillable(50_000), nil)

		svc.runAutoRefill(tenantID)

		select {
		case outcome := <-metrics.outcomes:
			t.Fatalf("unexpected refill outcome %q", outcome)
		default:
		}
		payments.AssertNotCalled(t, "ChargeOffSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCreditService_GrantSignupBonus(t *testing.T) {
	tenantID := uuid.New()

	t.Run("grants the bonus once", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		txs := new(mockTransactionRepository)
		svc := newService(balances, txs, nil, nil, nil)

		balances.On("FindOrCreate", mock.Anything, tenantID).Return(balanceFixture(tenantID, 0), nil)
		txs.On("Append", mock.Anything, mock.MatchedBy(func(tx *creditdomain.CreditTransaction) bool {
			return tx.Type == creditdomain.TransactionTypeBonus && tx.Amount == creditdomain.SignupBonusCredits
		})).Return(nil)
		balances.On("AddCredits", mock.Anything, tenantID, creditdomain.SignupBonusCredits, int64(0)).Return(nil)

		balance, err := svc.GrantSignupBonus(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, creditdomain.SignupBonusCredits, balance.Balance)
	})

	t.Run("second grant is a no-op", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		txs := new(mockTransactionRepository)
		svc := newService(balances, txs, nil, nil, nil)

		balances.On("FindOrCreate", mock.Anything, tenantID).Return(balanceFixture(tenantID, 2_500), nil)
		txs.On("Append", mock.Anything, mock.Anything).Return(shared.ErrAlreadyExists)

		balance, err := svc.GrantSignupBonus(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, int64(2_500), balance.Balance)
		balances.AssertNotCalled(t, "AddCredits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCreditService_Purchase(t *testing.T) {
	tenantID := uuid.New()

	t.Run("applies a catalog pack", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		txs := new(mockTransactionRepository)
		svc := newService(balances, txs, nil, nil, nil)

		balances.On("FindOrCreate", mock.Anything, tenantID).Return(balanceFixture(tenantID, 1_000), nil)
		balances.On("AddCredits", mock.Anything, tenantID, int64(27_500), int64(0)).Return(nil)
		txs.On("Append", mock.Anything, mock.MatchedBy(func(tx *creditdomain.CreditTransaction) bool {
			return tx.Type == creditdomain.TransactionTypePurchase && tx.PaymentRef == "pi_xyz"
		})).Return(nil)

		balance, err := svc.Purchase(context.Background(), tenantID, "plus", "pi_xyz")
		require.NoError(t, err)
		assert.Equal(t, int64(28_500), balance.Balance)
	})

	t.Run("rejects unknown packs", func(t *testing.T) {
		svc := newService(new(mockBalanceRepository), new(mockTransactionRepository), nil, nil, nil)

		_, err := svc.Purchase(context.Background(), tenantID, "mega", "pi_xyz")
		require.Error(t, err)
	})
}

func TestCreditService_UpdateSettings(t *testing.T) {
	tenantID := uuid.New()

	t.Run("clamps values below the floors", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		svc := newService(balances, new(mockTransactionRepository), nil, nil, nil)

		enabled := true
		amount := int64(100)    // Below the 500 cent floor
		threshold := int64(250) // Below the 1,000 credit floor
		balances.On("FindOrCreate", mock.Anything, tenantID).Return(balanceFixture(tenantID, 0), nil)
		balances.On("UpdateSettings", mock.Anything, mock.MatchedBy(func(b *creditdomain.CreditBalance) bool {
			return b.AutoRefillEnabled && b.RefillAmountCents == 500 && b.AutoRefillThreshold == 1_000
		})).Return(nil)

		balance, err := svc.UpdateSettings(context.Background(), tenantID, creditdomain.RefillSettings{
			Enabled:     &enabled,
			AmountCents: &amount,
			Threshold:   &threshold,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(500), balance.RefillAmountCents)
	})
}

func TestCreditService_Overview(t *testing.T) {
	tenantID := uuid.New()

	t.Run("combines balance and recent ledger lines", func(t *testing.T) {
		balances := new(mockBalanceRepository)
		txs := new(mockTransactionRepository)
		svc := newService(balances, txs, nil, nil, nil)

		tx, err := creditdomain.NewCreditTransaction(tenantID, creditdomain.TransactionTypePurchase, 5_000, 5_000, "Purchase: Starter Pack")
		require.NoError(t, err)
		balances.On("FindOrCreate", mock.Anything, tenantID).Return(balanceFixture(tenantID, 5_000), nil)
		txs.On("RecentByTenant", mock.Anything, tenantID, 20).Return([]*creditdomain.CreditTransaction{tx}, nil)

		overview, err := svc.Overview(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, int64(5_000), overview.Balance)
		require.Len(t, overview.Transactions, 1)
		assert.Equal(t, "purchase", overview.Transactions[0].Type)
	})
}
