package metering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/automna/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	mu      sync.Mutex
	events  map[billing.EventKind]int64
	dropped map[billing.EventKind]int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		events:  make(map[billing.EventKind]int64),
		dropped: make(map[billing.EventKind]int64),
	}
}

func (m *recordingMetrics) RecordUsageEvent(_ context.Context, kind billing.EventKind, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[kind]++
}

func (m *recordingMetrics) RecordDroppedWrite(_ context.Context, kind billing.EventKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[kind]++
}

func (m *recordingMetrics) droppedCount(kind billing.EventKind) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[kind]
}

func TestLedgerService_Record(t *testing.T) {
	tenantID := uuid.New()

	t.Run("persists event and counts it", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		metrics := newRecordingMetrics()
		svc := NewLedgerService(LedgerServiceConfig{Events: events, Metrics: metrics})

		event, err := billing.NewUsageEvent(tenantID, billing.EventKindSearch, billing.CostSearchPerQuery)
		require.NoError(t, err)
		events.On("Append", mock.Anything, event).Return(nil)

		require.NoError(t, svc.Record(context.Background(), event))
		events.AssertExpectations(t)
		assert.Equal(t, int64(1), metrics.events[billing.EventKindSearch])
	})

	t.Run("returns write failure and counts the drop", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		metrics := newRecordingMetrics()
		svc := NewLedgerService(LedgerServiceConfig{Events: events, Metrics: metrics})

		event, err := billing.NewUsageEvent(tenantID, billing.EventKindBrowser, billing.CostBrowserPerSession)
		require.NoError(t, err)
		events.On("Append", mock.Anything, event).Return(errors.New("db down"))

		require.Error(t, svc.Record(context.Background(), event))
		assert.Equal(t, int64(1), metrics.droppedCount(billing.EventKindBrowser))
	})
}

func TestLedgerService_RecordAsync(t *testing.T) {
	tenantID := uuid.New()

	t.Run("never propagates write failures", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		metrics := newRecordingMetrics()
		svc := NewLedgerService(LedgerServiceConfig{Events: events, Metrics: metrics})

		event, err := billing.NewUsageEvent(tenantID, billing.EventKindEmail, billing.CostEmailSend)
		require.NoError(t, err)
		events.On("Append", mock.Anything, event).Return(errors.New("db down"))

		svc.RecordAsync(event)

		require.Eventually(t, func() bool {
			return metrics.droppedCount(billing.EventKindEmail) == 1
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestLedgerService_MonthlySummary(t *testing.T) {
	tenantID := uuid.New()

	t.Run("aggregates totals across kinds", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		svc := NewLedgerService(LedgerServiceConfig{Events: events})

		events.On("MonthlyTotalsByKind", mock.Anything, tenantID).Return([]billing.KindTotal{
			{Kind: billing.EventKindInference, Events: 10, Credits: 450, CostMicro: 45_000},
			{Kind: billing.EventKindSearch, Events: 3, Credits: 90, CostMicro: 9_000},
		}, nil)

		summary, err := svc.MonthlySummary(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, int64(540), summary.TotalCredits)
		assert.Equal(t, int64(54_000), summary.TotalCostMicro)
		assert.Len(t, summary.ByKind, 2)
		assert.Equal(t, int64(10), summary.ByKind["inference"].Events)
		assert.Equal(t, billing.MonthStartUTC(summary.PeriodEnd), summary.PeriodStart)
	})

	t.Run("propagates repository failure", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		svc := NewLedgerService(LedgerServiceConfig{Events: events})

		events.On("MonthlyTotalsByKind", mock.Anything, tenantID).Return(nil, errors.New("db down"))

		summary, err := svc.MonthlySummary(context.Background(), tenantID)
		require.Error(t, err)
		assert.Nil(t, summary)
	})
}

func TestLedgerService_ListEvents(t *testing.T) {
	tenantID := uuid.New()

	t.Run("defaults the range to the current month", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		svc := NewLedgerService(LedgerServiceConfig{Events: events})

		events.On("FindByTenant", mock.Anything, tenantID,
			mock.MatchedBy(func(from time.Time) bool { return from.Day() == 1 }),
			mock.AnythingOfType("time.Time"), 100).Return([]*billing.UsageEvent{}, nil)

		_, err := svc.ListEvents(context.Background(), tenantID, time.Time{}, time.Time{}, 0)
		require.NoError(t, err)
		events.AssertExpectations(t)
	})

	t.Run("caps oversized limits", func(t *testing.T) {
		events := new(mockUsageEventRepository)
		svc := NewLedgerService(LedgerServiceConfig{Events: events})

		events.On("FindByTenant", mock.Anything, tenantID,
			mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time"), 100).
			Return([]*billing.UsageEvent{}, nil)

		_, err := svc.ListEvents(context.Background(), tenantID, time.Time{}, time.Time{}, 10_000)
		require.NoError(t, err)
		events.AssertExpectations(t)
	})
}
