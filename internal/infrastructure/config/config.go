package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrCatalogNotConfigured is returned when the catalog endpoint or credential is missing.
// It is fatal at startup: no record may be processed without it.
var ErrCatalogNotConfigured = errors.New("config: catalog endpoint and access token are required")

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Trigger   TriggerConfig
	Catalog   CatalogConfig
	Limiter   LimiterConfig
	Sync      SyncConfig
	Storage   StorageConfig
	Schedule  ScheduleConfig
	Swagger   SwaggerConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds mapping store connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	SQLitePath      string // file path, or ":memory:"
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	AutoMigrate     bool
	MigrationsPath  string
}

// RedisConfig holds Redis connection settings for the distributed key lock
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64
	RateLimitEnabled  bool
	RateLimitRPS      float64
	RateLimitBurst    int
	TrustedProxies    []string
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	CORSAllowOrigins  []string
	EnableSystemStats bool
}

// TriggerConfig holds authentication settings for the sync trigger endpoints
type TriggerConfig struct {
	AuthEnabled bool
	JWTSecret   string
	Issuer      string
}

// CatalogConfig holds the remote storefront admin API settings
type CatalogConfig struct {
	Endpoint           string
	APIVersion         string
	AccessToken        string
	TimeoutSeconds     int
	MetafieldNamespace string
	SKUPrefix          string
	DefaultProductType string
}

// LimiterConfig holds the outbound call limiter bounds
type LimiterConfig struct {
	MaxConcurrent int
	MinInterval   time.Duration
}

// SyncConfig holds sync engine settings
type SyncConfig struct {
	Concurrency             int
	RetryAttempts           int
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	ReconcileBySKU          bool
	DistributedLock         bool
	LockTTL                 time.Duration
	StorageFailureThreshold int
}

// StorageConfig holds object storage settings for the record source
type StorageConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string
}

// ScheduleConfig holds the periodic bucket sync settings of the server
type ScheduleConfig struct {
	Enabled       bool
	Interval      time.Duration
	Objects       []string // object keys synced on every tick
	Format        string   // record format when the extension does not tell
	RunOnStart    bool
	Workers       int
	JobTimeout    time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// SwaggerConfig holds the API documentation endpoint settings. RequireAuth
// uses the trigger token guard and needs trigger.auth_enabled.
type SwaggerConfig struct {
	Enabled     bool
	RequireAuth bool
	AllowedIPs  []string // single IPs or CIDRs, empty allows all
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled                bool    // Whether to enable OpenTelemetry
	CollectorEndpoint      string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio          float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName            string
	Insecure               bool
	MetricsEnabled         bool
	MetricsExportInterval  time.Duration
	LogsEnabled            bool
	DBTraceEnabled         bool
	DBSlowQueryThresh      time.Duration
	ProfilingEnabled       bool
	ProfilingServerAddress string
}

// loadOptions controls Load behaviour
type loadOptions struct {
	configFile  string
	skipCatalog bool
	extraPaths  []string
}

// LoadOption configures Load
type LoadOption func(*loadOptions)

// WithConfigFile reads the given file instead of searching for config.toml
func WithConfigFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.configFile = path
	}
}

// WithoutCatalog skips catalog credential validation (migrations, mapping admin)
func WithoutCatalog() LoadOption {
	return func(o *loadOptions) {
		o.skipCatalog = true
	}
}

// WithSearchPath adds a directory searched for config.toml
func WithSearchPath(dir string) LoadOption {
	return func(o *loadOptions) {
		o.extraPaths = append(o.extraPaths, dir)
	}
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with AUTOWORLD_ prefix (e.g., AUTOWORLD_CATALOG_ACCESS_TOKEN)
// 2. config.toml
// 3. Built-in defaults
func Load(opts ...LoadOption) (*Config, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	v := viper.New()
	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/autoworld")
		for _, p := range o.extraPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("AUTOWORLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(v.GetString("database.driver")),
			SQLitePath:      v.GetString("database.sqlite_path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
			MigrationsPath:  v.GetString("database.migrations_path"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRPS:      v.GetFloat64("http.rate_limit_rps"),
			RateLimitBurst:    v.GetInt("http.rate_limit_burst"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
			ShutdownTimeout:   v.GetDuration("http.shutdown_timeout"),
			RequestTimeout:    v.GetDuration("http.request_timeout"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			EnableSystemStats: v.GetBool("http.enable_system_stats"),
		},
		Trigger: TriggerConfig{
			AuthEnabled: v.GetBool("trigger.auth_enabled"),
			JWTSecret:   v.GetString("trigger.jwt_secret"),
			Issuer:      v.GetString("trigger.issuer"),
		},
		Catalog: CatalogConfig{
			Endpoint:           v.GetString("catalog.endpoint"),
			APIVersion:         v.GetString("catalog.api_version"),
			AccessToken:        v.GetString("catalog.access_token"),
			TimeoutSeconds:     v.GetInt("catalog.timeout_seconds"),
			MetafieldNamespace: v.GetString("catalog.metafield_namespace"),
			SKUPrefix:          v.GetString("catalog.sku_prefix"),
			DefaultProductType: v.GetString("catalog.default_product_type"),
		},
		Limiter: LimiterConfig{
			MaxConcurrent: v.GetInt("limiter.max_concurrent"),
			MinInterval:   v.GetDuration("limiter.min_interval"),
		},
		Sync: SyncConfig{
			Concurrency:             v.GetInt("sync.concurrency"),
			RetryAttempts:           v.GetInt("sync.retry_attempts"),
			RetryBaseDelay:          v.GetDuration("sync.retry_base_delay"),
			RetryMaxDelay:           v.GetDuration("sync.retry_max_delay"),
			DistributedLock:         v.GetBool("sync.distributed_lock"),
			LockTTL:                 v.GetDuration("sync.lock_ttl"),
			StorageFailureThreshold: v.GetInt("sync.storage_failure_threshold"),
		},
		Storage: StorageConfig{
			Enabled:      v.GetBool("storage.enabled"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			Prefix:       v.GetString("storage.prefix"),
		},
		Schedule: ScheduleConfig{
			Enabled:       v.GetBool("schedule.enabled"),
			Interval:      v.GetDuration("schedule.interval"),
			Objects:       v.GetStringSlice("schedule.objects"),
			Format:        strings.ToLower(v.GetString("schedule.format")),
			RunOnStart:    v.GetBool("schedule.run_on_start"),
			Workers:       v.GetInt("schedule.workers"),
			JobTimeout:    v.GetDuration("schedule.job_timeout"),
			RetryAttempts: v.GetInt("schedule.retry_attempts"),
			RetryDelay:    v.GetDuration("schedule.retry_delay"),
		},
		Swagger: SwaggerConfig{
			Enabled:     v.GetBool("swagger.enabled"),
			RequireAuth: v.GetBool("swagger.require_auth"),
			AllowedIPs:  v.GetStringSlice("swagger.allowed_ips"),
		},
		Telemetry: TelemetryConfig{
			Enabled:                v.GetBool("telemetry.enabled"),
			CollectorEndpoint:      v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:          v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:            v.GetString("telemetry.service_name"),
			Insecure:               v.GetBool("telemetry.insecure"),
			MetricsEnabled:         v.GetBool("telemetry.metrics_enabled"),
			MetricsExportInterval:  v.GetDuration("telemetry.metrics_export_interval"),
			LogsEnabled:            v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:         v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh:      v.GetDuration("telemetry.db_slow_query_thresh"),
			ProfilingEnabled:       v.GetBool("telemetry.profiling_enabled"),
			ProfilingServerAddress: v.GetString("telemetry.profiling_server_address"),
		},
	}

	// SKU reconciliation is on unless explicitly disabled
	cfg.Sync.ReconcileBySKU = true
	if v.IsSet("sync.reconcile_by_sku") {
		cfg.Sync.ReconcileBySKU = v.GetBool("sync.reconcile_by_sku")
	}

	applyDefaults(cfg)

	if err := cfg.validate(!o.skipCatalog); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for unset configuration
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "autoworld-crawl"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.Driver == DriverSQLite && cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "autoworld.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "autoworld"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 5
	}
	if cfg.Database.MigrationsPath == "" {
		cfg.Database.MigrationsPath = "migrations"
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		// sync runs answer synchronously and may take minutes
		cfg.HTTP.WriteTimeout = 15 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 120 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 32 << 20
	}
	if cfg.HTTP.RateLimitRPS == 0 {
		cfg.HTTP.RateLimitRPS = 1
	}
	if cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = 5
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = 14 * time.Minute
	}

	if cfg.Trigger.Issuer == "" {
		cfg.Trigger.Issuer = "autoworld-crawler"
	}

	if cfg.Catalog.APIVersion == "" {
		cfg.Catalog.APIVersion = "2024-10"
	}
	if cfg.Catalog.TimeoutSeconds == 0 {
		cfg.Catalog.TimeoutSeconds = 30
	}
	if cfg.Catalog.MetafieldNamespace == "" {
		cfg.Catalog.MetafieldNamespace = "vehicle"
	}
	if cfg.Catalog.SKUPrefix == "" {
		cfg.Catalog.SKUPrefix = "AW"
	}

	if cfg.Limiter.MaxConcurrent == 0 {
		cfg.Limiter.MaxConcurrent = 2
	}
	if cfg.Limiter.MinInterval == 0 {
		cfg.Limiter.MinInterval = 500 * time.Millisecond
	}

	if cfg.Sync.Concurrency == 0 {
		cfg.Sync.Concurrency = cfg.Limiter.MaxConcurrent
	}
	if cfg.Sync.RetryAttempts == 0 {
		cfg.Sync.RetryAttempts = 3
	}
	if cfg.Sync.RetryBaseDelay == 0 {
		cfg.Sync.RetryBaseDelay = time.Second
	}
	if cfg.Sync.RetryMaxDelay == 0 {
		cfg.Sync.RetryMaxDelay = 30 * time.Second
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 2 * time.Minute
	}
	if cfg.Sync.StorageFailureThreshold == 0 {
		cfg.Sync.StorageFailureThreshold = 3
	}

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}

	if cfg.Schedule.Interval == 0 {
		cfg.Schedule.Interval = time.Hour
	}
	if cfg.Schedule.Workers == 0 {
		cfg.Schedule.Workers = 1
	}
	if cfg.Schedule.JobTimeout == 0 {
		cfg.Schedule.JobTimeout = 30 * time.Minute
	}
	if cfg.Schedule.RetryDelay == 0 {
		cfg.Schedule.RetryDelay = 5 * time.Minute
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 && cfg.App.Env != "production" {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsExportInterval == 0 {
		cfg.Telemetry.MetricsExportInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate(requireCatalog bool) error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be positive")
		}
		if c.Database.MaxIdleConns < 0 {
			return fmt.Errorf("database.max_idle_conns cannot be negative")
		}
		if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
			return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
				c.Database.MaxIdleConns, c.Database.MaxOpenConns)
		}
	case DriverSQLite:
		// path is always defaulted
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}

	if c.Limiter.MaxConcurrent < 0 {
		return fmt.Errorf("limiter.max_concurrent must be positive")
	}
	if c.Limiter.MinInterval < 0 {
		return fmt.Errorf("limiter.min_interval cannot be negative")
	}
	if c.Sync.Concurrency < 0 {
		return fmt.Errorf("sync.concurrency must be positive")
	}
	if c.Sync.RetryAttempts < 1 {
		return fmt.Errorf("sync.retry_attempts must be at least 1")
	}
	if c.Sync.RetryMaxDelay < c.Sync.RetryBaseDelay {
		return fmt.Errorf("sync.retry_max_delay (%s) cannot be less than sync.retry_base_delay (%s)",
			c.Sync.RetryMaxDelay, c.Sync.RetryBaseDelay)
	}

	if c.Trigger.AuthEnabled && len(c.Trigger.JWTSecret) < 32 {
		return fmt.Errorf("trigger.jwt_secret must be at least 32 characters when trigger.auth_enabled is set")
	}

	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.enabled is set")
	}

	if c.Schedule.Enabled {
		if !c.Storage.Enabled {
			return fmt.Errorf("schedule.enabled requires storage.enabled")
		}
		if len(c.Schedule.Objects) == 0 {
			return fmt.Errorf("schedule.objects is required when schedule.enabled is set")
		}
		if c.Schedule.Interval < time.Minute {
			return fmt.Errorf("schedule.interval must be at least 1m, got %s", c.Schedule.Interval)
		}
		if c.Schedule.RetryAttempts < 0 {
			return fmt.Errorf("schedule.retry_attempts cannot be negative")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if requireCatalog {
		if err := c.Catalog.Validate(); err != nil {
			return err
		}
	}

	if c.App.Env == "production" {
		if c.Database.Driver == DriverPostgres && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if !strings.HasPrefix(c.Catalog.Endpoint, "https://") && requireCatalog {
			return fmt.Errorf("catalog.endpoint must use https in production")
		}
		if c.Swagger.Enabled && !c.Swagger.RequireAuth && len(c.Swagger.AllowedIPs) == 0 {
			return fmt.Errorf("swagger endpoint must require authentication or have an IP restriction in production")
		}
	}
	if c.Swagger.RequireAuth && c.Swagger.Enabled && !c.Trigger.AuthEnabled {
		return fmt.Errorf("swagger.require_auth needs trigger.auth_enabled")
	}
	return nil
}

// Validate checks that the catalog endpoint and credential are present
func (c *CatalogConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("%w: catalog.endpoint is empty", ErrCatalogNotConfigured)
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("%w: catalog.access_token is empty", ErrCatalogNotConfigured)
	}
	return nil
}

// DSN returns the PostgreSQL connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// SQLiteDSN returns the SQLite data source with a busy timeout
func (d *DatabaseConfig) SQLiteDSN() string {
	path := d.SQLitePath
	if path == "" {
		path = "autoworld.db"
	}
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000"
}

// Addr returns host:port for the Redis connection
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
