// Package router assembles the gateway's three HTTP surfaces: the gated
// metering routes keyed by tenant API keys, the JWT-authed dashboard API
// and the shared-secret internal API.
package router

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/automna/backend/internal/application/gate"
	"github.com/automna/backend/internal/infrastructure/auth"
	"github.com/automna/backend/internal/infrastructure/logger"
	"github.com/automna/backend/internal/interfaces/http/handler"
	"github.com/automna/backend/internal/interfaces/http/middleware"
)

// defaultMaxBodyBytes caps request bodies; settle and deduct payloads
// are small.
const defaultMaxBodyBytes = 1 << 20 // 1 MiB

// Config wires the handlers and cross-cutting middleware into an engine
type Config struct {
	Logger *zap.Logger

	// Gate handles API-key authorization and quota on /gateway routes
	Gate *gate.GateService
	// JWTService validates dashboard sessions on /api routes
	JWTService *auth.JWTService
	// InternalSecret guards the /internal routes
	InternalSecret string

	System          *handler.SystemHandler
	Gateway         *handler.GatewayHandler
	Credits         *handler.CreditHandler
	Usage           *handler.UsageHandler
	Reports         *handler.ReportHandler
	InternalCredits *handler.InternalCreditHandler

	// CORSOrigins is the dashboard origin whitelist; empty rejects all
	// cross-origin requests.
	CORSOrigins []string
	// MaxBodyBytes caps request body size, defaultMaxBodyBytes when 0
	MaxBodyBytes int64
	// ProfilingEnabled attaches per-request pprof labels for the
	// continuous profiler
	ProfilingEnabled bool
	// Meter enables the per-request OTel metrics middleware when set
	Meter metric.Meter
}

// Setup registers all routes and middleware on the engine
func Setup(engine *gin.Engine, cfg Config) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	middleware.SetupValidator()

	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing())
	if cfg.Meter != nil {
		engine.Use(middleware.HTTPMetricsWithMeter(cfg.Meter, true))
	}
	engine.Use(middleware.BodyLimit(maxBody))
	engine.Use(middleware.Secure())

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Liveness and readiness stay outside every auth layer
	engine.GET("/health", cfg.System.Health)
	engine.GET("/ready", cfg.System.Ready)

	// Gated metering surface, authorized by tenant API keys
	gateway := engine.Group("/gateway/v1")
	gateway.Use(middleware.Gate(middleware.GateConfig{Gate: cfg.Gate, Logger: log}))
	if cfg.ProfilingEnabled {
		gateway.Use(middleware.Profiling("gateway"))
	}
	{
		gateway.POST("/usage", cfg.Gateway.Settle)
	}

	// Dashboard API, authorized by JWT sessions
	api := engine.Group("/api/v1")
	api.Use(middleware.JWTAuthMiddleware(cfg.JWTService))
	if cfg.ProfilingEnabled {
		api.Use(middleware.Profiling("dashboard"))
	}
	{
		api.GET("/credits", cfg.Credits.GetOverview)
		api.POST("/credits/settings", cfg.Credits.UpdateSettings)
		api.POST("/credits/purchase", cfg.Credits.Purchase)

		api.GET("/usage", cfg.Usage.GetUsage)
		api.GET("/usage/events", cfg.Usage.GetEvents)

		api.POST("/reports/export", cfg.Reports.Export)
		api.GET("/reports/:month/download", cfg.Reports.Download)
	}

	// Service-to-service surface, authorized by the shared secret
	internal := engine.Group("/internal/v1")
	internal.Use(middleware.InternalAuth(cfg.InternalSecret))
	if cfg.ProfilingEnabled {
		internal.Use(middleware.Profiling("internal"))
	}
	{
		internal.POST("/credits/deduct", cfg.InternalCredits.Deduct)
		internal.POST("/credits/bonus", cfg.Credits.GrantBonus)
	}
}
