package metering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/automna/backend/internal/domain/billing"
	"github.com/automna/backend/internal/domain/identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock implementations

type mockUsageEventRepository struct {
	mock.Mock
}

func (m *mockUsageEventRepository) Append(ctx context.Context, event *billing.UsageEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockUsageEventRepository) MonthlyCreditsUsed(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUsageEventRepository) MonthlyTotalsByKind(ctx context.Context, tenantID uuid.UUID) ([]billing.KindTotal, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.KindTotal), args.Error(1)
}

func (m *mockUsageEventRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID, from, to time.Time, limit int) ([]*billing.UsageEvent, error) {
	args := m.Called(ctx, tenantID, from, to, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.UsageEvent), args.Error(1)
}

type mockRateWindowRepository struct {
	mock.Mock
	incremented chan uuid.UUID
}

func newMockRateWindowRepository() *mockRateWindowRepository {
	return &mockRateWindowRepository{incremented: make(chan uuid.UUID, 16)}
}

func (m *mockRateWindowRepository) GetOrCreate(ctx context.Context, tenantID uuid.UUID, minute int64) (*billing.RateWindow, error) {
	args := m.Called(ctx, tenantID, minute)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RateWindow), args.Error(1)
}

func (m *mockRateWindowRepository) Reset(ctx context.Context, tenantID uuid.UUID, minute int64) error {
	args := m.Called(ctx, tenantID, minute)
	return args.Error(0)
}

func (m *mockRateWindowRepository) Increment(ctx context.Context, tenantID uuid.UUID) error {
	args := m.Called(ctx, tenantID)
	select {
	case m.incremented <- tenantID:
	default:
	}
	return args.Error(0)
}

func proContext(tenantID uuid.UUID) *identity.TenantContext {
	return &identity.TenantContext{
		TenantID:   tenantID,
		Plan:       identity.PlanPro,
		ResolvedAt: time.Now().UTC(),
	}
}

func TestRateLimitService_Check(t *testing.T) {
	tenantID := uuid.New()

	t.Run("allows request under both limits and counts it", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		windows := newMockRateWindowRepository()
		svc := NewRateLimitService(RateLimitServiceConfig{Events: events, Windows: windows})

		events.On("MonthlyCreditsUsed", mock.Anything, tenantID).Return(int64(500), nil)
		windows.On("GetOrCreate", mock.Anything, tenantID, mock.AnythingOfType("int64")).Return(&billing.RateWindow{
			TenantID:           tenantID,
			CurrentMinute:      billing.MinuteOf(time.Now()),
			RequestsThisMinute: 3,
		}, nil)
		windows.On("Increment", mock.Anything, tenantID).Return(nil)

		result, err := svc.Check(context.Background(), proContext(tenantID))
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Empty(t, result.Reason)
		assert.Zero(t, result.RetryAfter)
		assert.Equal(t, int64(500), result.Limits.MonthlyCredits.Used)
		assert.Equal(t, int64(4), result.Limits.RequestsPerMinute.Used)

		select {
		case got := <-windows.incremented:
			assert.Equal(t, tenantID, got)
		case <-time.After(2 * time.Second):
			t.Fatal("expected async increment")
		}
	})

	t.Run("rejects when monthly credits exhausted", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		windows := newMockRateWindowRepository()
		svc := NewRateLimitService(RateLimitServiceConfig{Events: events, Windows: windows})

		limits := identity.PlanPro.Limits()
		events.On("MonthlyCreditsUsed", mock.Anything, tenantID).Return(limits.MonthlyCredits, nil)

		result, err := svc.Check(context.Background(), proContext(tenantID))
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Contains(t, result.Reason, "Monthly credit limit reached")
		assert.Zero(t, result.RetryAfter, "monthly gate offers no retry window")
		assert.Equal(t, limits.MonthlyCredits, result.Limits.MonthlyCredits.Used)
		windows.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything, mock.Anything)
		windows.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything)
	})

	t.Run("formats large figures with separators", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		windows := newMockRateWindowRepository()
		svc := NewRateLimitService(RateLimitServiceConfig{Events: events, Windows: windows})

		events.On("MonthlyCreditsUsed", mock.Anything, tenantID).Return(int64(1_000_000), nil)

		result, err := svc.Check(context.Background(), proContext(tenantID))
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Contains(t, result.Reason, "1,000,000/1,000,000")
	})

	t.Run("rejects with retry-after when minute window full", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		windows := newMockRateWindowRepository()
		svc := NewRateLimitService(RateLimitServiceConfig{Events: events, Windows: windows})

		limits := identity.PlanPro.Limits()
		events.On("MonthlyCreditsUsed", mock.Anything, tenantID).Return(int64(10), nil)
		windows.On("GetOrCreate", mock.Anything, tenantID, mock.AnythingOfType("int64")).Return(&billing.RateWindow{
			TenantID:           tenantID,
			CurrentMinute:      billing.MinuteOf(time.Now()),
			RequestsThisMinute: limits.RequestsPerMinute,
		}, nil)

		result, err := svc.Check(context.Background(), proContext(tenantID))
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Contains(t, result.Reason, "Rate limit exceeded")
		assert.GreaterOrEqual(t, result.RetryAfter, int64(1))
		assert.LessOrEqual(t, result.RetryAfter, int64(60))
		windows.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything)
	})

	t.Run("resets stale window before judging", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		windows := newMockRateWindowRepository()
		svc := NewRateLimitService(RateLimitServiceConfig{Events: events, Windows: windows})

		limits := identity.PlanPro.Limits()
		staleMinute := billing.MinuteOf(time.Now()) - 5
		events.On("MonthlyCreditsUsed", mock.Anything, tenantID).Return(int64(10), nil)
		windows.On("GetOrCreate", mock.Anything, tenantID, mock.AnythingOfType("int64")).Return(&billing.RateWindow{
			TenantID:           tenantID,
			CurrentMinute:      staleMinute,
			RequestsThisMinute: limits.RequestsPerMinute + 50,
		}, nil)
		windows.On("Reset", mock.Anything, tenantID, mock.AnythingOfType("int64")).Return(nil)
		windows.On("Increment", mock.Anything, tenantID).Return(nil)

		result, err := svc.Check(context.Background(), proContext(tenantID))
		require.NoError(t, err)
		assert.True(t, result.Allowed, "stale counter must not reject the new minute")
		windows.AssertCalled(t, "Reset", mock.Anything, tenantID, mock.AnythingOfType("int64"))
	})

	t.Run("propagates monthly usage lookup failure", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		windows := newMockRateWindowRepository()
		svc := NewRateLimitService(RateLimitServiceConfig{Events: events, Windows: windows})

		events.On("MonthlyCreditsUsed", mock.Anything, tenantID).Return(int64(0), errors.New("db down"))

		result, err := svc.Check(context.Background(), proContext(tenantID))
		require.Error(t, err)
		assert.Nil(t, result)
	})
}

func TestRateLimitService_Snapshot(t *testing.T) {
	tenantID := uuid.New()

	t.Run("reports both gates without counting", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		windows := newMockRateWindowRepository()
		svc := NewRateLimitService(RateLimitServiceConfig{Events: events, Windows: windows})

		events.On("MonthlyCreditsUsed", mock.Anything, tenantID).Return(int64(2_000), nil)
		windows.On("GetOrCreate", mock.Anything, tenantID, mock.AnythingOfType("int64")).Return(&billing.RateWindow{
			TenantID:           tenantID,
			CurrentMinute:      billing.MinuteOf(time.Now()),
			RequestsThisMinute: 7,
		}, nil)

		snapshot, err := svc.Snapshot(context.Background(), proContext(tenantID))
		require.NoError(t, err)
		assert.Equal(t, int64(2_000), snapshot.MonthlyCredits.Used)
		assert.Equal(t, int64(7), snapshot.RequestsPerMinute.Used)
		windows.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything)
	})

	t.Run("stale window reads as zero requests", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		windows := newMockRateWindowRepository()
		svc := NewRateLimitService(RateLimitServiceConfig{Events: events, Windows: windows})

		events.On("MonthlyCreditsUsed", mock.Anything, tenantID).Return(int64(0), nil)
		windows.On("GetOrCreate", mock.Anything, tenantID, mock.AnythingOfType("int64")).Return(&billing.RateWindow{
			TenantID:           tenantID,
			CurrentMinute:      billing.MinuteOf(time.Now()) - 2,
			RequestsThisMinute: 40,
		}, nil)

		snapshot, err := svc.Snapshot(context.Background(), proContext(tenantID))
		require.NoError(t, err)
		assert.Zero(t, snapshot.RequestsPerMinute.Used)
	})
}
