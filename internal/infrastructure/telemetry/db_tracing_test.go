package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type meterRecord struct {
	ID      uint   `gorm:"primaryKey"`
	Kind    string `gorm:"size:32"`
	Credits int64
}

func openTracedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&meterRecord{}))
	return db
}

func newSpanRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()

	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
	assert.Equal(t, "postgresql", cfg.DBSystem)
	assert.True(t, cfg.WithoutVariables)
}

func TestNewDBTracingPlugin(t *testing.T) {
	t.Run("fills zero-value settings", func(t *testing.T) {
		p := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())
		assert.Equal(t, 200*time.Millisecond, p.config.SlowQueryThresh)
		assert.Equal(t, "postgresql", p.config.DBSystem)
	})
}

func TestRegisterOtelGorm(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		db := openTracedDB(t)
		p := NewDBTracingPlugin(DBTracingConfig{Enabled: false}, zap.NewNop())
		require.NoError(t, p.RegisterOtelGorm(db))
	})

	t.Run("enabled registers without error and queries still work", func(t *testing.T) {
		db := openTracedDB(t)
		p := NewDBTracingPlugin(DBTracingConfig{
			Enabled:          true,
			DBSystem:         "sqlite",
			WithoutVariables: true,
		}, zap.NewNop())
		require.NoError(t, p.RegisterOtelGorm(db))

		require.NoError(t, db.Create(&meterRecord{Kind: "inference", Credits: 30}).Error)

		var rec meterRecord
		require.NoError(t, db.First(&rec).Error)
		assert.Equal(t, int64(30), rec.Credits)
	})

	t.Run("registering twice fails on duplicate callbacks", func(t *testing.T) {
		db := openTracedDB(t)
		p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop())
		require.NoError(t, p.RegisterOtelGorm(db))
		assert.Error(t, p.RegisterOtelGorm(db))
	})
}

func TestEnrichSpan(t *testing.T) {
	t.Run("adds table and row attributes to the active span", func(t *testing.T) {
		db := openTracedDB(t)
		tp, recorder := newSpanRecorder(t)

		ctx, span := tp.Tracer("test").Start(context.Background(), "settle")
		p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop())

		result := db.WithContext(ctx).Create(&meterRecord{Kind: "search", Credits: 30})
		require.NoError(t, result.Error)
		p.enrichSpan(result)
		span.End()

		spans := recorder.Ended()
		require.Len(t, spans, 1)

		attrs := map[string]any{}
		for _, attr := range spans[0].Attributes() {
			attrs[string(attr.Key)] = attr.Value.AsInterface()
		}
		assert.Equal(t, "meter_records", attrs["db.sql.table"])
		assert.Equal(t, int64(1), attrs["db.rows_affected"])
	})

	t.Run("flags queries past the slow threshold", func(t *testing.T) {
		db := openTracedDB(t)
		tp, recorder := newSpanRecorder(t)

		ctx, span := tp.Tracer("test").Start(context.Background(), "slow")
		ctx = context.WithValue(ctx, queryStartTimeKey, time.Now().Add(-time.Second))

		p := NewDBTracingPlugin(DBTracingConfig{
			Enabled:         true,
			DBSystem:        "sqlite",
			SlowQueryThresh: time.Millisecond,
		}, zap.NewNop())

		result := db.WithContext(ctx).Find(&[]meterRecord{})
		require.NoError(t, result.Error)
		p.enrichSpan(result)
		span.End()

		spans := recorder.Ended()
		require.Len(t, spans, 1)

		found := false
		for _, attr := range spans[0].Attributes() {
			if attr.Key == "db.slow_query" && attr.Value.AsBool() {
				found = true
			}
		}
		assert.True(t, found, "span should carry the slow-query flag")

		events := spans[0].Events()
		require.NotEmpty(t, events)
		assert.Equal(t, "slow_query_warning", events[0].Name)
	})

	t.Run("non-recording span is left alone", func(t *testing.T) {
		db := openTracedDB(t)
		p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop())

		// No tracer provider: context carries only a non-recording span
		result := db.WithContext(context.Background()).Find(&[]meterRecord{})
		require.NoError(t, result.Error)
		p.enrichSpan(result)
	})

	t.Run("nil statement context does not panic", func(t *testing.T) {
		p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop())
		p.enrichSpan(&gorm.DB{Statement: &gorm.Statement{}})
	})
}
