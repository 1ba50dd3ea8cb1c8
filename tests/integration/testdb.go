// Package integration runs the mapping store and the sync runtime against a
// real PostgreSQL started with testcontainers.
package integration

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/config"
	"github.com/sebastiansabo/autoworld-crawl/tests/testutil"
)

var (
	// Shared container for all tests in the package
	sharedContainer   testcontainers.Container
	sharedContainerMu sync.Mutex
	sharedDatabase    config.DatabaseConfig
)

// NewPostgres returns the configuration of a fresh PostgreSQL container.
// Migrations are applied by whoever opens it with AutoMigrate set.
func NewPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	ctx := context.Background()
	container, err := startPostgres(ctx, "autoworld_test")
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	cfg, err := databaseConfig(ctx, container, "autoworld_test")
	require.NoError(t, err)
	cfg.MigrationsPath = testutil.MigrationsPath(t)
	return cfg
}

// NewSharedPostgres returns a container shared by the package. Tests must
// use distinct identity keys.
func NewSharedPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	if sharedContainer == nil {
		ctx := context.Background()
		container, err := startPostgres(ctx, "autoworld_shared_test")
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
		cfg, err := databaseConfig(ctx, container, "autoworld_shared_test")
		require.NoError(t, err)
		sharedContainer = container
		sharedDatabase = cfg
	}

	cfg := sharedDatabase
	cfg.MigrationsPath = testutil.MigrationsPath(t)
	return cfg
}

// CleanupSharedContainer terminates the shared container. Call it from
// TestMain.
func CleanupSharedContainer() {
	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	if sharedContainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = sharedContainer.Terminate(ctx)
		sharedContainer = nil
		sharedDatabase = config.DatabaseConfig{}
	}
}

func startPostgres(ctx context.Context, dbName string) (*tcpostgres.PostgresContainer, error) {
	return tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase(dbName),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("autoworld"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
}

func databaseConfig(ctx context.Context, container testcontainers.Container, dbName string) (config.DatabaseConfig, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return config.DatabaseConfig{}, err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return config.DatabaseConfig{}, err
	}
	n, err := strconv.Atoi(port.Port())
	if err != nil {
		return config.DatabaseConfig{}, err
	}
	return config.DatabaseConfig{
		Driver:          config.DriverPostgres,
		Host:            host,
		Port:            n,
		User:            "postgres",
		Password:        "autoworld",
		DBName:          dbName,
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5,
		AutoMigrate:     true,
	}, nil
}
