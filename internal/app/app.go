// Package app wires configuration, telemetry, storage and the sync engine
// into one runtime shared by the HTTP server and the sync CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	syncapp "github.com/sebastiansabo/autoworld-crawl/internal/application/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/cache"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/config"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/ecommerce"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/logger"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/migration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/persistence"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/ratelimit"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/storage"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/telemetry"
)

// Option adjusts how the runtime is assembled
type Option func(*options)

type options struct {
	source     integration.RecordSource
	catalog    integration.CatalogClient
	logOutput  string
	loggerName string
}

// WithRecordSource replaces the configured object store source, e.g. with a
// local file source for CLI runs.
func WithRecordSource(src integration.RecordSource) Option {
	return func(o *options) { o.source = src }
}

// WithCatalogClient replaces the storefront client
func WithCatalogClient(c integration.CatalogClient) Option {
	return func(o *options) { o.catalog = c }
}

// WithLogOutput overrides log.output, e.g. stderr for CLI runs that print
// results on stdout.
func WithLogOutput(output string) Option {
	return func(o *options) { o.logOutput = output }
}

// WithLoggerName names the root logger
func WithLoggerName(name string) Option {
	return func(o *options) { o.loggerName = name }
}

// App is the assembled runtime
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Tracer   *telemetry.TracerProvider
	Meter    *telemetry.MeterProvider
	DB       *persistence.Database
	Mappings *persistence.GormIdentityMappingRepository
	Limiter  *ratelimit.Limiter
	Redis    *redis.Client
	Source   integration.RecordSource
	// Bucket is set when the object store source is in use
	Bucket  *storage.S3RecordSource
	Engine  *syncapp.SyncEngine
	Service *syncapp.SyncService

	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// New assembles the runtime. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := a.initTelemetry(ctx, o); err != nil {
		return nil, err
	}
	if err := a.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.initSource(ctx, o); err != nil {
		return nil, err
	}
	if err := a.initEngine(ctx, o); err != nil {
		return nil, err
	}
	return a, nil
}

// OpenStore assembles only telemetry and the mapping store, for tooling that
// never reaches the catalog. Engine, Service and Limiter stay nil.
func OpenStore(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := a.initTelemetry(ctx, o); err != nil {
		return nil, err
	}
	if err := a.initDatabase(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) initTelemetry(ctx context.Context, o *options) error {
	cfg := a.Config
	logCfg := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if o.logOutput != "" {
		logCfg.Output = o.logOutput
	}

	// bootstrap logger for provider setup, replaced once the log bridge exists
	boot, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	exporter := telemetry.Exporter{
		Endpoint:    cfg.Telemetry.CollectorEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
	}
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Exporter: exporter,
		Enabled:  cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
	}, boot)
	if err != nil {
		return err
	}
	a.onClose("logs", lp.Shutdown)

	name := o.loggerName
	if name == "" {
		name = cfg.App.Name
	}
	l, err := logger.New(logCfg,
		logger.WithExtraCore(telemetry.NewZapOTELCore(cfg.Telemetry.ServiceName, lp, logger.ParseLevel(cfg.Log.Level))),
		logger.WithFields(zap.String("app", name), zap.String("env", cfg.App.Env)),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.Logger = l

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Exporter:      exporter,
		Enabled:       cfg.Telemetry.Enabled,
		SamplingRatio: cfg.Telemetry.SamplingRatio,
	}, l)
	if err != nil {
		return err
	}
	a.Tracer = tp
	a.onClose("tracer", tp.Shutdown)

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Exporter:       exporter,
		Enabled:        cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		ExportInterval: cfg.Telemetry.MetricsExportInterval,
	}, l)
	if err != nil {
		return err
	}
	a.Meter = mp
	a.onClose("meter", mp.Shutdown)

	prof, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingServerAddress,
		ApplicationName: cfg.Telemetry.ServiceName,
	}, l)
	if err != nil {
		return err
	}
	if prof.IsEnabled() {
		tp.EnableSpanProfiles()
	}
	a.onClose("profiler", func(context.Context) error { return prof.Stop() })
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	cfg := a.Config
	gormLog := logger.NewGormLogger(a.Logger, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
		logger.WithFullSQL(cfg.App.Env == "development"),
	)

	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithGormLogger(gormLog))
	if err != nil {
		return err
	}
	a.DB = db
	a.onClose("database", func(context.Context) error { return db.Close() })

	dbSystem := "postgresql"
	if cfg.Database.Driver == config.DriverSQLite {
		dbSystem = "sqlite"
	}
	tracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.App.Env == "development",
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        dbSystem,
	}, a.Logger)
	if err := tracing.Register(db.DB); err != nil {
		return err
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if a.Meter.IsEnabled() {
		pool, err := telemetry.NewDBPoolMetrics(a.Meter.Meter("autoworld-crawl/db"), sqlDB)
		if err != nil {
			return err
		}
		a.onClose("db pool metrics", func(context.Context) error { return pool.Stop() })
	}

	if cfg.Database.AutoMigrate {
		if err := a.migrate(sqlDB); err != nil {
			return err
		}
	}

	a.Mappings = persistence.NewGormIdentityMappingRepository(db.DB)
	a.Logger.Info("Mapping store ready", zap.String("driver", cfg.Database.Driver))
	return nil
}

// migrate applies pending migrations. SQLite shares the application handle
// so in-memory databases see the schema; the migrator is then left open
// because closing it would close that handle.
func (a *App) migrate(shared *sql.DB) error {
	cfg := &a.Config.Database
	if cfg.Driver == config.DriverSQLite {
		m, err := migration.New(shared, migration.DriverSQLite, cfg.MigrationsPath, a.Logger)
		if err != nil {
			return err
		}
		return m.Up()
	}

	db, err := migration.Open(cfg)
	if err != nil {
		return err
	}
	m, err := migration.New(db, migration.DriverPostgres, cfg.MigrationsPath, a.Logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}

func (a *App) initSource(ctx context.Context, o *options) error {
	if o.source != nil {
		a.Source = o.source
		return nil
	}
	if !a.Config.Storage.Enabled {
		return nil
	}
	bucket, err := storage.NewS3RecordSource(ctx, &a.Config.Storage, storage.WithLogger(a.Logger))
	if err != nil {
		return err
	}
	a.Bucket = bucket
	a.Source = bucket
	return nil
}

func (a *App) initEngine(ctx context.Context, o *options) error {
	cfg := a.Config

	syncMetrics, err := telemetry.NewSyncMetrics(a.Meter.Meter(telemetry.SyncMetricsMeterName))
	if err != nil {
		return err
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		MaxConcurrent: cfg.Limiter.MaxConcurrent,
		MinInterval:   cfg.Limiter.MinInterval,
	}, ratelimit.WithLogger(a.Logger), ratelimit.WithWaitObserver(syncMetrics.ObserveLimiterWait))
	if err != nil {
		return err
	}
	a.Limiter = limiter

	catalog := o.catalog
	if catalog == nil {
		client, err := ecommerce.NewStorefrontClient(&ecommerce.StorefrontConfig{
			Endpoint:           cfg.Catalog.Endpoint,
			APIVersion:         cfg.Catalog.APIVersion,
			AccessToken:        cfg.Catalog.AccessToken,
			MetafieldNamespace: cfg.Catalog.MetafieldNamespace,
			SKUPrefix:          cfg.Catalog.SKUPrefix,
			DefaultProductType: cfg.Catalog.DefaultProductType,
			TimeoutSeconds:     cfg.Catalog.TimeoutSeconds,
		}, ecommerce.WithLogger(a.Logger))
		if err != nil {
			return err
		}
		catalog = client
	}

	var locker integration.KeyLocker
	if cfg.Sync.DistributedLock {
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		a.Redis = client
		a.onClose("redis", func(context.Context) error { return client.Close() })
		locker = cache.NewRedisKeyLocker(client,
			cache.WithLockTTL(cfg.Sync.LockTTL),
			cache.WithLockLogger(a.Logger),
		)
	}

	a.Engine = syncapp.NewSyncEngine(a.Mappings, catalog, limiter, locker, syncapp.EngineConfig{
		Concurrency: cfg.Sync.Concurrency,
		Retry: syncapp.RetryPolicy{
			MaxAttempts: cfg.Sync.RetryAttempts,
			BaseDelay:   cfg.Sync.RetryBaseDelay,
			MaxDelay:    cfg.Sync.RetryMaxDelay,
		},
		ReconcileBySKU:          cfg.Sync.ReconcileBySKU,
		StorageFailureThreshold: cfg.Sync.StorageFailureThreshold,
	}, syncapp.WithEngineLogger(a.Logger), syncapp.WithEngineMetrics(syncMetrics))

	a.Service = syncapp.NewSyncService(a.Engine, a.Mappings, a.Source, a.Logger)
	return nil
}

// PingDatabase checks the mapping store connection
func (a *App) PingDatabase(ctx context.Context) error {
	sqlDB, err := a.DB.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases every resource in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	if a.Logger != nil {
		logger.Sync(a.Logger)
	}
	return errors.Join(errs...)
}
