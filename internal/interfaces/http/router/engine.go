package router

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/config"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/logger"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/telemetry"
	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/handler"
	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/middleware"
)

// HealthPath is served outside the versioned API and skipped by the access
// log and tracing.
const HealthPath = "/health"

// ErrValidatorRequired is returned when trigger auth is enabled without a
// token validator
var ErrValidatorRequired = errors.New("token validator is required when trigger auth is enabled")

// EngineOptions carries what NewEngine wires into the gin engine
type EngineOptions struct {
	Config        *config.Config
	Logger        *zap.Logger
	MeterProvider *telemetry.MeterProvider
	Validator     middleware.TokenValidator
	Sync          *handler.SyncHandler
	System        *handler.SystemHandler
}

// NewEngine builds the HTTP engine with the middleware chain and every route
// of the trigger API. The returned stop function releases the per-client rate
// limiter.
func NewEngine(opts EngineOptions) (*gin.Engine, func(), error) {
	cfg := opts.Config
	l := opts.Logger
	if l == nil {
		l = zap.NewNop()
	}

	guard := Open()
	if cfg.Trigger.AuthEnabled {
		if opts.Validator == nil {
			return nil, nil, ErrValidatorRequired
		}
		guard = JWTGuard(opts.Validator, l)
	}

	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, nil, fmt.Errorf("trusted proxies: %w", err)
	}

	tracing := middleware.DefaultTracingConfig()
	tracing.ServiceName = cfg.Telemetry.ServiceName
	tracing.Enabled = cfg.Telemetry.Enabled

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.HTTP.CORSAllowOrigins

	engine.Use(
		logger.Recovery(l),
		middleware.RequestID(),
		middleware.TracingWithConfig(tracing),
		middleware.TracingAttributeInjector(),
		logger.GinMiddleware(l, HealthPath),
		middleware.HTTPMetrics(opts.MeterProvider, l),
		middleware.Profiling(middleware.ProfilingConfig{
			Enabled:   cfg.Telemetry.ProfilingEnabled,
			SkipPaths: []string{HealthPath},
		}),
		middleware.Secure(),
		middleware.CORSWithConfig(cors),
	)

	stop := func() {}
	if cfg.HTTP.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
		engine.Use(middleware.RateLimit(limiter))
		stop = limiter.Stop
	}
	engine.Use(
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		middleware.Timeout(cfg.HTTP.RequestTimeout),
	)

	if opts.System != nil {
		engine.GET(HealthPath, opts.System.Health)
	}

	if cfg.Swagger.Enabled {
		access := middleware.DocsAccess{AllowedIPs: cfg.Swagger.AllowedIPs}
		if cfg.Swagger.RequireAuth {
			if opts.Validator == nil {
				stop()
				return nil, nil, ErrValidatorRequired
			}
			access.Authenticate = middleware.JWTAuthMiddleware(opts.Validator, l)
		}
		protect, err := middleware.SwaggerProtection(access)
		if err != nil {
			stop()
			return nil, nil, err
		}
		MountSwagger(engine, protect)
	}

	r := NewRouter(engine, WithGuard(guard))
	if opts.Sync != nil {
		r.Mount(SyncRoutes(opts.Sync))
	}
	if opts.System != nil {
		r.Mount(SystemRoutes(opts.System, cfg.HTTP.EnableSystemStats))
	}
	r.Setup()
	l.Debug("Routes mounted", zap.Strings("routes", r.Paths()))

	return engine, stop, nil
}
