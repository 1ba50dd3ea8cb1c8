// Package testutil provides common test utilities: a scriptable catalog
// client and store configurations backed by temporary databases.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/config"
)

// StubCatalog is an in-memory catalog client. Created entities get
// sequential Shopify style ids.
type StubCatalog struct {
	mu       sync.Mutex
	products map[string]integration.RemoteIdentity // by sku
	created  int
	updated  int

	// FailKeys makes create and update fail for these identity keys
	FailKeys map[string]error
}

// NewStubCatalog creates an empty catalog
func NewStubCatalog() *StubCatalog {
	return &StubCatalog{products: make(map[string]integration.RemoteIdentity)}
}

// SKU prefixes the identity key
func (c *StubCatalog) SKU(rec integration.NormalizedRecord) string { return "AW-" + rec.Key() }

// CreateEntity records a new product
func (c *StubCatalog) CreateEntity(_ context.Context, rec integration.NormalizedRecord) (integration.RemoteIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.FailKeys[rec.Key()]; err != nil {
		return integration.RemoteIdentity{}, err
	}
	c.created++
	ids := integration.RemoteIdentity{
		ProductID: fmt.Sprintf("gid://shopify/Product/%d", c.created),
		VariantID: fmt.Sprintf("gid://shopify/ProductVariant/%d", c.created),
	}
	c.products[c.SKU(rec)] = ids
	return ids, nil
}

// UpdateEntity counts updates
func (c *StubCatalog) UpdateEntity(_ context.Context, _ integration.RemoteIdentity, rec integration.NormalizedRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.FailKeys[rec.Key()]; err != nil {
		return err
	}
	c.updated++
	return nil
}

// FindBySKU looks up products created through this stub or seeded with Seed
func (c *StubCatalog) FindBySKU(_ context.Context, sku string) (integration.RemoteIdentity, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok := c.products[sku]
	return ids, ok, nil
}

// Seed registers a product that exists remotely without a local mapping
func (c *StubCatalog) Seed(sku string, ids integration.RemoteIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[sku] = ids
}

// Counts returns the number of creates and updates
func (c *StubCatalog) Counts() (created, updated int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created, c.updated
}

// MigrationsPath walks up from the working directory to the migrations dir
func MigrationsPath(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("migrations directory not found")
		}
		dir = parent
	}
}

// Config returns a complete test configuration for db
func Config(db config.DatabaseConfig) *config.Config {
	return &config.Config{
		App:       config.AppConfig{Name: "autoworld-crawl", Env: "test"},
		Log:       config.LogConfig{Level: "error", Format: "json", Output: "stderr"},
		Database:  db,
		Trigger:   config.TriggerConfig{JWTSecret: "test-secret-0123456789abcdef", Issuer: "autoworld-test"},
		Limiter:   config.LimiterConfig{MaxConcurrent: 2},
		Sync:      config.SyncConfig{Concurrency: 2, RetryAttempts: 1},
		Telemetry: config.TelemetryConfig{ServiceName: "autoworld-crawl-test"},
	}
}

// SQLiteConfig returns a test configuration with an auto-migrated sqlite
// file in a temporary directory.
func SQLiteConfig(t *testing.T) *config.Config {
	t.Helper()
	return Config(config.DatabaseConfig{
		Driver:         config.DriverSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "mappings.db"),
		AutoMigrate:    true,
		MigrationsPath: MigrationsPath(t),
	})
}
