package telemetry

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig holds configuration for database metrics collection
type DBMetricsConfig struct {
	Enabled            bool
	SlowQueryThreshold time.Duration // default 200ms
	PoolStatsInterval  time.Duration // default 15s
}

// DefaultDBMetricsConfig returns the default database metrics settings
func DefaultDBMetricsConfig() DBMetricsConfig {
	return DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: 200 * time.Millisecond,
		PoolStatsInterval:  15 * time.Second,
	}
}

// DBMetrics owns the database instruments: per-operation query counts
// and latency, slow-query counts, and connection pool gauges sampled on
// an interval. The gate's hot path is a handful of small queries per
// request, so pool saturation shows up here before it shows up as 5xx.
type DBMetrics struct {
	poolConnections    *Gauge
	poolConnectionsMax *Gauge
	queryTotal         *Counter
	queryDuration      *Histogram
	slowQueryTotal     *Counter

	config   DBMetricsConfig
	logger   *zap.Logger
	sqlDB    *sql.DB
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
}

// NewDBMetrics creates the database instruments on the given meter
func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThreshold == 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.PoolStatsInterval == 0 {
		cfg.PoolStatsInterval = 15 * time.Second
	}

	m := &DBMetrics{
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	var err error
	if m.poolConnections, err = NewGauge(meter,
		"db_pool_connections",
		"Number of connections in the pool by state",
		"{connection}"); err != nil {
		return nil, err
	}
	if m.poolConnectionsMax, err = NewGauge(meter,
		"db_pool_connections_max",
		"Maximum number of connections in the pool",
		"{connection}"); err != nil {
		return nil, err
	}
	if m.queryTotal, err = NewCounter(meter,
		"db_query_total",
		"Total number of database queries by operation type",
		"{query}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query latency distribution in seconds",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = NewCounter(meter,
		"db_slow_query_total",
		"Total number of slow database queries",
		"{query}"); err != nil {
		return nil, err
	}

	return m, nil
}

// SetSQLDB provides the sql.DB whose pool stats will be sampled. Must
// be called before StartPoolStatsCollection.
func (m *DBMetrics) SetSQLDB(sqlDB *sql.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sqlDB = sqlDB
}

// StartPoolStatsCollection samples connection pool statistics on the
// configured interval until Stop or context cancellation.
func (m *DBMetrics) StartPoolStatsCollection(ctx context.Context) {
	m.mu.RLock()
	sqlDB := m.sqlDB
	m.mu.RUnlock()

	if sqlDB == nil {
		m.logger.Warn("Cannot start pool stats collection: sqlDB not set")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.PoolStatsInterval)
		defer ticker.Stop()

		m.collectPoolStats(ctx)
		for {
			select {
			case <-ticker.C:
				m.collectPoolStats(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	m.logger.Info("Started database connection pool stats collection",
		zap.Duration("interval", m.config.PoolStatsInterval))
}

func (m *DBMetrics) collectPoolStats(ctx context.Context) {
	m.mu.RLock()
	sqlDB := m.sqlDB
	m.mu.RUnlock()
	if sqlDB == nil {
		return
	}

	stats := sqlDB.Stats()
	m.poolConnectionsMax.Record(ctx, int64(stats.MaxOpenConnections))
	m.poolConnections.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	m.poolConnections.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	m.poolConnections.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
}

// Stop terminates pool stats collection. Safe to call more than once.
func (m *DBMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		m.logger.Debug("Database metrics stopped")
	})
}

// RecordQuery records count, latency, and the slow-query counter for
// one completed query.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation string, table string, duration time.Duration) {
	operation = strings.ToUpper(operation)
	if operation == "" {
		operation = "UNKNOWN"
	}

	m.queryTotal.Inc(ctx, AttrDBOperation.String(operation))
	m.queryDuration.RecordDuration(ctx, duration, AttrDBOperation.String(operation))

	if duration > m.config.SlowQueryThreshold {
		if table == "" {
			table = "unknown"
		}
		m.slowQueryTotal.Inc(ctx, AttrDBTable.String(table))
	}
}

// DBMetricsPlugin is the GORM plugin feeding DBMetrics from query
// callbacks.
type DBMetricsPlugin struct {
	metrics *DBMetrics
	logger  *zap.Logger
}

// NewDBMetricsPlugin creates the GORM plugin for database metrics
func NewDBMetricsPlugin(metrics *DBMetrics, logger *zap.Logger) *DBMetricsPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBMetricsPlugin{metrics: metrics, logger: logger}
}

// Name implements gorm.Plugin
func (p *DBMetricsPlugin) Name() string {
	return "db_metrics"
}

// Initialize implements gorm.Plugin, hooking every operation with a
// timing marker before and a metrics record after.
func (p *DBMetricsPlugin) Initialize(db *gorm.DB) error {
	before := func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		db.Statement.Context = context.WithValue(ctx, dbMetricsStartTimeKey, time.Now())
	}
	after := func(operation string) func(*gorm.DB) {
		return func(db *gorm.DB) {
			p.record(db, operation)
		}
	}
	// Row and Raw carry arbitrary SQL, so the operation is sniffed
	sniffed := func(db *gorm.DB) {
		p.record(db, detectOperationType(db.Statement.SQL.String()))
	}

	registrations := []func() error{
		func() error {
			return db.Callback().Create().Before("gorm:create").Register("db_metrics:before_create", before)
		},
		func() error {
			return db.Callback().Create().After("gorm:create").Register("db_metrics:after_create", after("INSERT"))
		},
		func() error {
			return db.Callback().Query().Before("gorm:query").Register("db_metrics:before_query", before)
		},
		func() error {
			return db.Callback().Query().After("gorm:query").Register("db_metrics:after_query", after("SELECT"))
		},
		func() error {
			return db.Callback().Update().Before("gorm:update").Register("db_metrics:before_update", before)
		},
		func() error {
			return db.Callback().Update().After("gorm:update").Register("db_metrics:after_update", after("UPDATE"))
		},
		func() error {
			return db.Callback().Delete().Before("gorm:delete").Register("db_metrics:before_delete", before)
		},
		func() error {
			return db.Callback().Delete().After("gorm:delete").Register("db_metrics:after_delete", after("DELETE"))
		},
		func() error {
			return db.Callback().Row().Before("gorm:row").Register("db_metrics:before_row", before)
		},
		func() error {
			return db.Callback().Row().After("gorm:row").Register("db_metrics:after_row", sniffed)
		},
		func() error {
			return db.Callback().Raw().Before("gorm:raw").Register("db_metrics:before_raw", before)
		},
		func() error {
			return db.Callback().Raw().After("gorm:raw").Register("db_metrics:after_raw", sniffed)
		},
	}
	for _, register := range registrations {
		if err := register(); err != nil {
			return err
		}
	}

	p.logger.Info("Database metrics plugin initialized")
	return nil
}

func (p *DBMetricsPlugin) record(db *gorm.DB, operation string) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var duration time.Duration
	if startTime, ok := ctx.Value(dbMetricsStartTimeKey).(time.Time); ok {
		duration = time.Since(startTime)
	}

	p.metrics.RecordQuery(ctx, operation, db.Statement.Table, duration)
}

func detectOperationType(sql string) string {
	sql = strings.TrimSpace(strings.ToUpper(sql))
	switch {
	case strings.HasPrefix(sql, "SELECT"):
		return "SELECT"
	case strings.HasPrefix(sql, "INSERT"):
		return "INSERT"
	case strings.HasPrefix(sql, "UPDATE"):
		return "UPDATE"
	case strings.HasPrefix(sql, "DELETE"):
		return "DELETE"
	default:
		return "OTHER"
	}
}

type dbMetricsContextKey string

const dbMetricsStartTimeKey dbMetricsContextKey = "db_metrics_start_time"
