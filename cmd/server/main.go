package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	creditapp "github.com/automna/backend/internal/application/credit"
	gateapp "github.com/automna/backend/internal/application/gate"
	meteringapp "github.com/automna/backend/internal/application/metering"
	reportingapp "github.com/automna/backend/internal/application/reporting"
	"github.com/automna/backend/internal/infrastructure/auth"
	"github.com/automna/backend/internal/infrastructure/cache"
	"github.com/automna/backend/internal/infrastructure/config"
	"github.com/automna/backend/internal/infrastructure/logger"
	"github.com/automna/backend/internal/infrastructure/payment"
	"github.com/automna/backend/internal/infrastructure/persistence"
	"github.com/automna/backend/internal/infrastructure/storage"
	"github.com/automna/backend/internal/infrastructure/telemetry"
	"github.com/automna/backend/internal/interfaces/http/handler"
	"github.com/automna/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting metering gateway",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	// Initialize database connection with zap-backed GORM logging
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected")

	if err := db.Migrate(); err != nil {
		log.Fatal("Failed to run schema migration", zap.Error(err))
	}

	// Repositories
	tenantRepo := persistence.NewTenantRepository(db.DB)
	credentialRepo := persistence.NewCredentialRepository(db.DB)
	usageEventRepo := persistence.NewUsageEventRepository(db.DB)
	rateWindowRepo := persistence.NewRateWindowRepository(db.DB)
	creditBalanceRepo := persistence.NewCreditBalanceRepository(db.DB)
	creditTransactionRepo := persistence.NewCreditTransactionRepository(db.DB)

	// Cache tier: credential cache plus the deduct idempotency store
	cacheFactory := cache.NewFactory(cfg.Cache, cfg.Redis, cache.WithLogger(log))
	tokenCache, err := cacheFactory.CreateTokenCache()
	if err != nil {
		log.Fatal("Failed to create credential cache", zap.Error(err))
	}
	idempotencyStore, err := cacheFactory.CreateIdempotencyStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	defer func() {
		if err := idempotencyStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	// Telemetry: metrics are optional, the gate runs without them
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Logs bridge: when telemetry is on, tee application logs to the collector
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logs provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down logs provider", zap.Error(err))
		}
	}()
	if loggerProvider.IsEnabled() {
		bridged, err := telemetry.CreateBridgedLoggerFromConfig(&logger.Config{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			Output:     cfg.Log.Output,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		}, loggerProvider, cfg.Telemetry.ServiceName)
		if err != nil {
			log.Warn("Failed to bridge logs to collector", zap.Error(err))
		} else {
			log = bridged
		}
	}

	// Continuous profiling
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.ProfilingEnabled,
		ServerAddress:     cfg.Telemetry.ProfilingServer,
		ApplicationName:   cfg.App.Name,
		ProfileCPU:        true,
		ProfileAllocSpace: true,
		ProfileInuseSpace: true,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Error("Error stopping profiler", zap.Error(err))
		}
	}()
	if profiler.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	// Database query tracing, a no-op unless enabled
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:          cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:       cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh:  cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:         "postgresql",
		WithoutVariables: !cfg.Telemetry.DBLogFullSQL,
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Warn("Failed to register database tracing", zap.Error(err))
	}

	var appMeter metric.Meter
	var gatewayMetrics *telemetry.GatewayMetrics
	if meterProvider.IsEnabled() {
		appMeter = meterProvider.Meter("github.com/automna/backend")

		dbMetrics, err := telemetry.NewDBMetrics(appMeter, telemetry.DefaultDBMetricsConfig(), log)
		if err != nil {
			log.Warn("Failed to initialize database metrics", zap.Error(err))
		} else {
			if err := db.DB.Use(telemetry.NewDBMetricsPlugin(dbMetrics, log)); err != nil {
				log.Warn("Failed to register database metrics plugin", zap.Error(err))
			}
			if sqlDB, err := db.DB.DB(); err == nil {
				dbMetrics.SetSQLDB(sqlDB)
				dbMetrics.StartPoolStatsCollection(ctx)
			}
			defer dbMetrics.Stop()
		}

		statsProvider, _ := tokenCache.(telemetry.CacheStatsProvider)
		gatewayMetrics, err = telemetry.NewGatewayMetrics(telemetry.GatewayMetricsConfig{
			Meter:      appMeter,
			Logger:     log,
			CacheStats: statsProvider,
		})
		if err != nil {
			log.Fatal("Failed to initialize gateway metrics", zap.Error(err))
		}
		gatewayMetrics.StartPeriodicCollection(ctx, time.Minute)
		defer gatewayMetrics.Stop()
	}

	// Application services
	resolver := gateapp.NewResolver(gateapp.ResolverConfig{
		Credentials: credentialRepo,
		Cache:       tokenCache,
		Logger:      log,
		ReadTimeout: cfg.Gate.ReadTimeout,
	})

	rateLimitService := meteringapp.NewRateLimitService(meteringapp.RateLimitServiceConfig{
		Events:      usageEventRepo,
		Windows:     rateWindowRepo,
		Logger:      log,
		ReadTimeout: cfg.Gate.ReadTimeout,
	})

	ledgerConfig := meteringapp.LedgerServiceConfig{
		Events: usageEventRepo,
		Logger: log,
	}
	if gatewayMetrics != nil {
		ledgerConfig.Metrics = gatewayMetrics
	}
	ledgerService := meteringapp.NewLedgerService(ledgerConfig)

	creditConfig := creditapp.CreditServiceConfig{
		Balances:       creditBalanceRepo,
		Transactions:   creditTransactionRepo,
		Tenants:        tenantRepo,
		Logger:         log,
		PaymentTimeout: cfg.Stripe.PaymentTimeout,
	}
	if gatewayMetrics != nil {
		creditConfig.Metrics = gatewayMetrics
	}
	if cfg.Stripe.APIKey != "" {
		processor, err := payment.NewStripeProcessor(cfg.Stripe.APIKey)
		if err != nil {
			log.Fatal("Failed to initialize payment processor", zap.Error(err))
		}
		creditConfig.Payments = processor
		log.Info("Auto-refill charging enabled")
	} else {
		log.Warn("No payment provider configured, auto-refill will skip charges")
	}
	creditService := creditapp.NewCreditService(creditConfig)

	gateService := gateapp.NewGateService(gateapp.GateServiceConfig{
		Resolver:          resolver,
		Quota:             rateLimitService,
		Ledger:            ledgerService,
		Credits:           creditService,
		Credentials:       credentialRepo,
		Logger:            log,
		ExtraTokenHeaders: cfg.Gate.ExtraTokenHeaders,
	})

	// Report archival backend
	var reportStorage reportingapp.ReportStorage
	switch cfg.Storage.Backend {
	case "s3":
		s3Storage, err := storage.NewS3ObjectStorage(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to initialize object storage", zap.Error(err))
		}
		if err := s3Storage.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to ensure report bucket", zap.Error(err))
		}
		reportStorage = s3Storage
		log.Info("Report archival using S3", zap.String("bucket", cfg.Storage.Bucket))
	default:
		reportStorage = storage.NewStubObjectStorage()
		log.Warn("Report archival using in-memory stub storage")
	}

	reportService := reportingapp.NewReportService(reportingapp.ReportServiceConfig{
		Events:  usageEventRepo,
		Storage: reportStorage,
		Logger:  log,
	})

	jwtService := auth.NewJWTService(cfg.JWT)

	// Handlers
	systemHandler := handler.NewSystemHandler(map[string]handler.HealthChecker{
		"database": databaseCheck{db},
	})
	gatewayHandler := handler.NewGatewayHandler(gateService)
	creditHandler := handler.NewCreditHandler(creditService)
	usageHandler := handler.NewUsageHandler(ledgerService, rateLimitService, tenantRepo)
	reportHandler := handler.NewReportHandler(reportService)
	internalCreditHandler := handler.NewInternalCreditHandler(creditService, creditBalanceRepo, idempotencyStore, log)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	router.Setup(engine, router.Config{
		Logger:           log,
		Gate:             gateService,
		JWTService:       jwtService,
		InternalSecret:   cfg.Gate.InternalSecret,
		System:           systemHandler,
		Gateway:          gatewayHandler,
		Credits:          creditHandler,
		Usage:            usageHandler,
		Reports:          reportHandler,
		InternalCredits:  internalCreditHandler,
		CORSOrigins:      cfg.HTTP.CORSAllowOrigins,
		MaxBodyBytes:     cfg.HTTP.MaxBodySize,
		Meter:            appMeter,
		ProfilingEnabled: profiler.IsEnabled(),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// databaseCheck adapts the database pool to the readiness probe.
type databaseCheck struct {
	db *persistence.Database
}

func (c databaseCheck) Ping(context.Context) error {
	return c.db.Ping()
}
