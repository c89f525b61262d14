package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/automna/backend/internal/infrastructure/logger"
)

// LogsConfig holds log export configuration.
type LogsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
}

// LoggerProvider wraps the OpenTelemetry LoggerProvider with lifecycle
// management. Disabled configs yield a no-op provider.
type LoggerProvider struct {
	provider *sdklog.LoggerProvider
	logger   *zap.Logger
	config   LogsConfig
}

// NewLoggerProvider configures OTLP gRPC log export and installs the
// provider globally.
func NewLoggerProvider(ctx context.Context, cfg LogsConfig, log *zap.Logger) (*LoggerProvider, error) {
	lp := &LoggerProvider{
		logger: log,
		config: cfg,
	}

	if !cfg.Enabled {
		log.Info("Log export disabled, using no-op logger provider")
		return lp, nil
	}

	exporterOpts := []otlploggrpc.Option{
		otlploggrpc.WithEndpoint(cfg.CollectorEndpoint),
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP logs exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	lp.provider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	global.SetLoggerProvider(lp.provider)

	log.Info("Logger provider initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.String("service_name", cfg.ServiceName),
	)

	return lp, nil
}

// Shutdown flushes pending log records, bounded to 10s.
func (lp *LoggerProvider) Shutdown(ctx context.Context) error {
	if lp.provider == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := lp.provider.Shutdown(shutdownCtx); err != nil {
		lp.logger.Error("Error shutting down logger provider", zap.Error(err))
		return fmt.Errorf("failed to shutdown logger provider: %w", err)
	}

	lp.logger.Info("Logger provider shutdown complete")
	return nil
}

// IsEnabled reports whether log export is active.
func (lp *LoggerProvider) IsEnabled() bool {
	return lp.config.Enabled && lp.provider != nil
}

// ForceFlush exports all pending log records immediately.
func (lp *LoggerProvider) ForceFlush(ctx context.Context) error {
	if lp.provider == nil {
		return nil
	}
	return lp.provider.ForceFlush(ctx)
}

// ZapBridgeConfig configures the zap to OpenTelemetry log bridge.
type ZapBridgeConfig struct {
	ServiceName    string
	LoggerProvider *LoggerProvider
	Level          zapcore.Level
}

// NewZapOTELCore builds a zapcore.Core that forwards log entries to the
// collector. Combine it with the stdout core via NewBridgedLogger so
// every entry lands in both places. Returns a no-op core when log
// export is disabled.
func NewZapOTELCore(cfg ZapBridgeConfig) zapcore.Core {
	if cfg.LoggerProvider == nil || !cfg.LoggerProvider.IsEnabled() {
		return zapcore.NewNopCore()
	}

	core := otelzap.NewCore(cfg.ServiceName,
		otelzap.WithLoggerProvider(cfg.LoggerProvider.provider),
	)

	// otelzap has no minimum level of its own
	if cfg.Level != zapcore.DebugLevel {
		return &levelFilterCore{Core: core, minLevel: cfg.Level}
	}
	return core
}

type levelFilterCore struct {
	zapcore.Core
	minLevel zapcore.Level
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.minLevel && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(entry.Level) {
		return ce
	}
	return c.Core.Check(entry, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:     c.Core.With(fields),
		minLevel: c.minLevel,
	}
}

// NewBridgedLogger tees the base core and the collector core into one
// logger.
func NewBridgedLogger(baseCore, otelCore zapcore.Core, opts ...zap.Option) *zap.Logger {
	return zap.New(zapcore.NewTee(baseCore, otelCore), opts...)
}

// CreateBridgedLoggerFromConfig builds the application logger from its
// usual config and tees it to the collector. The base core comes from
// the logger package so stdout output stays identical whether or not
// export is on.
func CreateBridgedLoggerFromConfig(
	baseConfig *logger.Config,
	logsProvider *LoggerProvider,
	serviceName string,
) (*zap.Logger, error) {
	base, err := logger.New(baseConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create base logger: %w", err)
	}

	otelCore := NewZapOTELCore(ZapBridgeConfig{
		ServiceName:    serviceName,
		LoggerProvider: logsProvider,
		Level:          logger.ParseLevel(baseConfig.Level),
	})

	return NewBridgedLogger(base.Core(), otelCore,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}
