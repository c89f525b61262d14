package telemetry

import (
	"context"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database query tracing
type DBTracingConfig struct {
	Enabled bool
	// LogFullSQL includes full SQL text in spans. Statements on the gate
	// path carry token hashes and tenant IDs, so this stays off outside
	// development.
	LogFullSQL       bool
	SlowQueryThresh  time.Duration // default 200ms
	DBSystem         string        // default "postgresql"
	WithoutVariables bool          // strip bind variables from recorded SQL
}

// DefaultDBTracingConfig returns the secure defaults: disabled, no SQL
// text, no variables.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThresh:  200 * time.Millisecond,
		DBSystem:         "postgresql",
		WithoutVariables: true,
	}
}

// DBTracingPlugin attaches otelgorm spans to every query and augments
// them with row counts, table names, errors and slow-query events.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates a new database tracing plugin
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	return &DBTracingPlugin{config: cfg, logger: logger}
}

// RegisterOtelGorm registers the otelgorm plugin plus the timing
// callbacks on the GORM instance. A no-op when tracing is disabled.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{
		otelgorm.WithDBName(p.config.DBSystem),
	}
	if !p.config.LogFullSQL || p.config.WithoutVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}

	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}
	if err := p.registerTimingCallbacks(db); err != nil {
		return err
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.String("db_system", p.config.DBSystem),
	)
	return nil
}

// registerTimingCallbacks hooks every GORM operation with a start-time
// marker before, and the span-enrichment callback after.
func (p *DBTracingPlugin) registerTimingCallbacks(db *gorm.DB) error {
	before := func(db *gorm.DB) {
		if db.Statement.Context != nil {
			db.Statement.Context = context.WithValue(db.Statement.Context, queryStartTimeKey, time.Now())
		}
	}

	registrations := []func() error{
		func() error {
			return db.Callback().Create().Before("gorm:create").Register("otel_timing:before_create", before)
		},
		func() error {
			return db.Callback().Create().After("gorm:create").Register("otel_timing:after_create", p.enrichSpan)
		},
		func() error {
			return db.Callback().Query().Before("gorm:query").Register("otel_timing:before_query", before)
		},
		func() error {
			return db.Callback().Query().After("gorm:query").Register("otel_timing:after_query", p.enrichSpan)
		},
		func() error {
			return db.Callback().Update().Before("gorm:update").Register("otel_timing:before_update", before)
		},
		func() error {
			return db.Callback().Update().After("gorm:update").Register("otel_timing:after_update", p.enrichSpan)
		},
		func() error {
			return db.Callback().Delete().Before("gorm:delete").Register("otel_timing:before_delete", before)
		},
		func() error {
			return db.Callback().Delete().After("gorm:delete").Register("otel_timing:after_delete", p.enrichSpan)
		},
		func() error {
			return db.Callback().Row().Before("gorm:row").Register("otel_timing:before_row", before)
		},
		func() error {
			return db.Callback().Row().After("gorm:row").Register("otel_timing:after_row", p.enrichSpan)
		},
		func() error {
			return db.Callback().Raw().Before("gorm:raw").Register("otel_timing:before_raw", before)
		},
		func() error {
			return db.Callback().Raw().After("gorm:raw").Register("otel_timing:after_raw", p.enrichSpan)
		},
	}

	for _, register := range registrations {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}

// enrichSpan runs after each operation, adding gate-relevant attributes
// to the otelgorm span and flagging slow queries.
func (p *DBTracingPlugin) enrichSpan(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}

	// Not-found is a routine gate outcome (unknown token, no balance row)
	if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	if startTime, ok := ctx.Value(queryStartTimeKey).(time.Time); ok {
		if elapsed := time.Since(startTime); elapsed > p.config.SlowQueryThresh {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
			span.AddEvent("slow_query_warning", trace.WithAttributes(
				attribute.Int64("duration_ms", elapsed.Milliseconds()),
				attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
			))
		}
	}
}

type contextKey string

const queryStartTimeKey contextKey = "otel_query_start_time"
