package migration

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/config"
)

// Open opens a database handle dedicated to a Migrator, which closes it on
// Close. An in-memory SQLite database cannot be migrated through its own
// handle; pass the application's handle to New instead and skip Close.
func Open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	var (
		driverName string
		dsn        string
	)
	switch cfg.Driver {
	case config.DriverPostgres, "":
		driverName, dsn = "postgres", cfg.DSN()
	case config.DriverSQLite:
		driverName, dsn = "sqlite3", cfg.SQLiteDSN()
	default:
		return nil, fmt.Errorf("unsupported migration driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
