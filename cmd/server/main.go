package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/app"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/auth"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/config"
	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/handler"
	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/middleware"
	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/router"
)

// @title           autoworld-crawl sync trigger API
// @version         1.0
// @description     Triggers catalog sync batches and administers identity mappings.
// @BasePath        /api/v1
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Bearer token with the sync:run or sync:mappings scope
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg)
	if err != nil {
		panic("Failed to initialize runtime: " + err.Error())
	}
	log := rt.Logger
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			log.Error("Error during shutdown", zap.Error(err))
		}
	}()

	log.Info("Starting autoworld sync server",
		zap.String("port", cfg.App.Port),
		zap.String("catalog", cfg.Catalog.Endpoint),
		zap.Bool("auth", cfg.Trigger.AuthEnabled),
		zap.Bool("distributed_lock", cfg.Sync.DistributedLock),
		zap.Bool("schedule", cfg.Schedule.Enabled),
	)

	// Trigger auth
	var validator middleware.TokenValidator
	if cfg.Trigger.AuthEnabled {
		jwtService, err := auth.NewJWTService(cfg.Trigger)
		if err != nil {
			log.Fatal("Failed to initialize token validation", zap.Error(err))
		}
		validator = jwtService
	}

	// Handlers
	var checks []handler.SystemOption
	if rt.Redis != nil {
		checks = append(checks, handler.WithDependency("redis", handler.PingFunc(func(ctx context.Context) error {
			return rt.Redis.Ping(ctx).Err()
		})))
	}
	if rt.Bucket != nil {
		checks = append(checks, handler.WithDependency("records", rt.Bucket))
	}
	systemHandler := handler.NewSystemHandler(cfg.App.Name,
		handler.PingFunc(rt.PingDatabase), rt.Service, rt.Limiter, checks...)
	syncHandler := handler.NewSyncHandler(rt.Service)

	engine, stopLimiter, err := router.NewEngine(router.EngineOptions{
		Config:        cfg,
		Logger:        log,
		MeterProvider: rt.Meter,
		Validator:     validator,
		Sync:          syncHandler,
		System:        systemHandler,
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}
	defer stopLimiter()

	// Periodic bucket sync
	stopSchedule, err := rt.StartSchedule(ctx)
	if err != nil {
		log.Fatal("Failed to start sync schedule", zap.Error(err))
	}

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			log.Error("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := stopSchedule(shutdownCtx); err != nil {
		log.Error("Sync schedule did not stop cleanly", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return
	}
	log.Info("Server exited gracefully")
}
