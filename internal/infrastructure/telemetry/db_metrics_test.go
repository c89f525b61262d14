package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newManualMeter(t *testing.T, name string) (*sdkmetric.ManualReader, metric.Meter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider.Meter(name)
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func hasMetric(rm metricdata.ResourceMetrics, name string) bool {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return true
			}
		}
	}
	return false
}

func TestDefaultDBMetricsConfig(t *testing.T) {
	cfg := DefaultDBMetricsConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThreshold)
	assert.Equal(t, 15*time.Second, cfg.PoolStatsInterval)
}

func TestNewDBMetrics(t *testing.T) {
	_, meter := newManualMeter(t, "metering.db")

	t.Run("creates all instruments", func(t *testing.T) {
		m, err := NewDBMetrics(meter, DefaultDBMetricsConfig(), zap.NewNop())
		require.NoError(t, err)

		assert.NotNil(t, m.poolConnections)
		assert.NotNil(t, m.poolConnectionsMax)
		assert.NotNil(t, m.queryTotal)
		assert.NotNil(t, m.queryDuration)
		assert.NotNil(t, m.slowQueryTotal)
	})

	t.Run("fills zero config values", func(t *testing.T) {
		m, err := NewDBMetrics(meter, DBMetricsConfig{Enabled: true}, zap.NewNop())
		require.NoError(t, err)

		assert.Equal(t, 200*time.Millisecond, m.config.SlowQueryThreshold)
		assert.Equal(t, 15*time.Second, m.config.PoolStatsInterval)
	})

	t.Run("nil logger falls back to nop", func(t *testing.T) {
		m, err := NewDBMetrics(meter, DefaultDBMetricsConfig(), nil)
		require.NoError(t, err)
		require.NotNil(t, m.logger)
	})
}

func TestDBMetricsRecordQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("records count and latency", func(t *testing.T) {
		reader, meter := newManualMeter(t, "metering.db.query")
		m, err := NewDBMetrics(meter, DefaultDBMetricsConfig(), zap.NewNop())
		require.NoError(t, err)

		m.RecordQuery(ctx, "SELECT", "usage_events", 50*time.Millisecond)

		rm := collectMetrics(t, reader)
		assert.True(t, hasMetric(rm, "db_query_total"))
		assert.True(t, hasMetric(rm, "db_query_duration_seconds"))
	})

	t.Run("counts queries over the slow threshold", func(t *testing.T) {
		reader, meter := newManualMeter(t, "metering.db.slow")
		m, err := NewDBMetrics(meter, DBMetricsConfig{
			Enabled:            true,
			SlowQueryThreshold: 100 * time.Millisecond,
		}, zap.NewNop())
		require.NoError(t, err)

		m.RecordQuery(ctx, "SELECT", "credit_transactions", 250*time.Millisecond)

		rm := collectMetrics(t, reader)
		assert.True(t, hasMetric(rm, "db_slow_query_total"))
	})

	t.Run("fast queries leave the slow counter at zero", func(t *testing.T) {
		reader, meter := newManualMeter(t, "metering.db.fast")
		m, err := NewDBMetrics(meter, DefaultDBMetricsConfig(), zap.NewNop())
		require.NoError(t, err)

		m.RecordQuery(ctx, "SELECT", "tenants", 5*time.Millisecond)

		rm := collectMetrics(t, reader)
		for _, sm := range rm.ScopeMetrics {
			for _, md := range sm.Metrics {
				if md.Name != "db_slow_query_total" {
					continue
				}
				sum := md.Data.(metricdata.Sum[int64])
				for _, dp := range sum.DataPoints {
					assert.Equal(t, int64(0), dp.Value)
				}
			}
		}
	})

	t.Run("empty operation is recorded as UNKNOWN", func(t *testing.T) {
		reader, meter := newManualMeter(t, "metering.db.unknown")
		m, err := NewDBMetrics(meter, DefaultDBMetricsConfig(), zap.NewNop())
		require.NoError(t, err)

		m.RecordQuery(ctx, "", "tenants", time.Millisecond)

		rm := collectMetrics(t, reader)
		assert.True(t, hasMetric(rm, "db_query_total"))
	})

	t.Run("slow query with empty table uses the unknown table label", func(t *testing.T) {
		reader, meter := newManualMeter(t, "metering.db.notable")
		m, err := NewDBMetrics(meter, DBMetricsConfig{
			Enabled:            true,
			SlowQueryThreshold: 10 * time.Millisecond,
		}, zap.NewNop())
		require.NoError(t, err)

		m.RecordQuery(ctx, "SELECT", "", 100*time.Millisecond)

		rm := collectMetrics(t, reader)
		assert.True(t, hasMetric(rm, "db_slow_query_total"))
	})
}

func TestDBMetricsPoolStats(t *testing.T) {
	openSQLDB := func(t *testing.T) *gorm.DB {
		t.Helper()
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		require.NoError(t, err)
		return db
	}

	t.Run("samples pool stats on the interval", func(t *testing.T) {
		reader, meter := newManualMeter(t, "metering.db.pool")
		db := openSQLDB(t)
		sqlDB, err := db.DB()
		require.NoError(t, err)

		m, err := NewDBMetrics(meter, DBMetricsConfig{
			Enabled:           true,
			PoolStatsInterval: 20 * time.Millisecond,
		}, zap.NewNop())
		require.NoError(t, err)

		m.SetSQLDB(sqlDB)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		m.StartPoolStatsCollection(ctx)

		require.Eventually(t, func() bool {
			rm := collectMetrics(t, reader)
			return hasMetric(rm, "db_pool_connections") && hasMetric(rm, "db_pool_connections_max")
		}, time.Second, 10*time.Millisecond)

		m.Stop()
	})

	t.Run("warns and returns when sqlDB not set", func(t *testing.T) {
		_, meter := newManualMeter(t, "metering.db.nodb")
		m, err := NewDBMetrics(meter, DefaultDBMetricsConfig(), zap.NewNop())
		require.NoError(t, err)

		m.StartPoolStatsCollection(context.Background())
		m.Stop()
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		_, meter := newManualMeter(t, "metering.db.cancel")
		db := openSQLDB(t)
		sqlDB, err := db.DB()
		require.NoError(t, err)

		m, err := NewDBMetrics(meter, DBMetricsConfig{
			Enabled:           true,
			PoolStatsInterval: time.Second,
		}, zap.NewNop())
		require.NoError(t, err)

		m.SetSQLDB(sqlDB)

		ctx, cancel := context.WithCancel(context.Background())
		m.StartPoolStatsCollection(ctx)
		cancel()
		m.Stop()
	})

	t.Run("Stop is idempotent and does not block", func(t *testing.T) {
		_, meter := newManualMeter(t, "metering.db.stop")
		db := openSQLDB(t)
		sqlDB, err := db.DB()
		require.NoError(t, err)

		m, err := NewDBMetrics(meter, DBMetricsConfig{
			Enabled:           true,
			PoolStatsInterval: 50 * time.Millisecond,
		}, zap.NewNop())
		require.NoError(t, err)

		m.SetSQLDB(sqlDB)
		m.StartPoolStatsCollection(context.Background())

		done := make(chan struct{})
		go func() {
			m.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Stop blocked")
		}

		assert.NotPanics(t, m.Stop)
	})
}

func TestDBMetricsPlugin(t *testing.T) {
	reader, meter := newManualMeter(t, "metering.db.plugin")
	m, err := NewDBMetrics(meter, DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	plugin := NewDBMetricsPlugin(m, zap.NewNop())
	assert.Equal(t, "db_metrics", plugin.Name())

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Use(plugin))

	type rateWindow struct {
		ID    string `gorm:"primaryKey"`
		Count int64
	}
	require.NoError(t, db.AutoMigrate(&rateWindow{}))

	t.Run("records metrics for hooked operations", func(t *testing.T) {
		require.NoError(t, db.Create(&rateWindow{ID: "w1", Count: 3}).Error)

		var got rateWindow
		require.NoError(t, db.First(&got, "id = ?", "w1").Error)

		rm := collectMetrics(t, reader)
		assert.True(t, hasMetric(rm, "db_query_total"))
		assert.True(t, hasMetric(rm, "db_query_duration_seconds"))
	})

	t.Run("raw SQL operation is sniffed", func(t *testing.T) {
		var count int64
		require.NoError(t, db.Raw("SELECT COUNT(*) FROM rate_windows").Scan(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestDetectOperationType(t *testing.T) {
	tests := []struct {
		sql      string
		expected string
	}{
		{"SELECT * FROM usage_events", "SELECT"},
		{"  select id from tenants", "SELECT"},
		{"INSERT INTO credit_transactions (id) VALUES ('t1')", "INSERT"},
		{"update credit_balances set balance = 0", "UPDATE"},
		{"DELETE FROM rate_windows WHERE window_start < ?", "DELETE"},
		{"TRUNCATE TABLE usage_events", "OTHER"},
		{"", "OTHER"},
	}

	for _, tc := range tests {
		t.Run(tc.expected+" "+tc.sql, func(t *testing.T) {
			assert.Equal(t, tc.expected, detectOperationType(tc.sql))
		})
	}
}

func TestDBMetricsConcurrentRecordQuery(t *testing.T) {
	ctx := context.Background()
	reader, meter := newManualMeter(t, "metering.db.concurrent")
	m, err := NewDBMetrics(meter, DefaultDBMetricsConfig(), zap.NewNop())
	require.NoError(t, err)

	operations := []string{"SELECT", "INSERT", "UPDATE", "DELETE"}
	tables := []string{"tenants", "usage_events", "credit_balances", "rate_windows"}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.RecordQuery(ctx, operations[i%4], tables[i%4], time.Duration(i)*time.Millisecond)
		}(i)
	}
	wg.Wait()

	rm := collectMetrics(t, reader)
	assert.True(t, hasMetric(rm, "db_query_total"))
}
