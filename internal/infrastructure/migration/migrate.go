// Package migration runs versioned SQL migrations for the mapping store.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Migrator applies the mapping store migrations through golang-migrate
type Migrator struct {
	m   *migrate.Migrate
	log *zap.Logger
}

// New creates a Migrator for an open connection of the given driver. An
// empty driver name means postgres.
func New(db *sql.DB, driverName, migrationsPath string, log *zap.Logger) (*Migrator, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		drv    database.Driver
		scheme string
		err    error
	)
	switch driverName {
	case DriverPostgres, "":
		scheme = "postgres"
		drv, err = postgres.WithInstance(db, &postgres.Config{})
	case DriverSQLite:
		scheme = "sqlite3"
		drv, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		return nil, fmt.Errorf("unsupported migration driver %q", driverName)
	}
	if err != nil {
		return nil, fmt.Errorf("%s migration driver: %w", scheme, err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, scheme, drv)
	if err != nil {
		return nil, fmt.Errorf("open migrations %s: %w", migrationsPath, err)
	}
	log = log.With(zap.String("driver", scheme))
	m.Log = migrateLogger{log: log}
	return &Migrator{m: m, log: log}, nil
}

// apply runs one golang-migrate operation. ErrNoChange is success; the
// resulting version is logged either way.
func (m *Migrator) apply(op string, run func() error, fields ...zap.Field) error {
	m.log.Info("Migrating", append(fields, zap.String("op", op))...)
	err := run()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		m.log.Info("Schema already current", zap.String("op", op))
		return nil
	case err != nil:
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.log.Info("Migration finished", zap.String("op", op), zap.Uint("version", v), zap.Bool("dirty", dirty))
	return nil
}

// Up runs all pending migrations
func (m *Migrator) Up() error { return m.apply("up", m.m.Up) }

// Down rolls back all migrations
func (m *Migrator) Down() error { return m.apply("down", m.m.Down) }

// Steps applies n migrations; negative n rolls back
func (m *Migrator) Steps(n int) error {
	return m.apply("steps", func() error { return m.m.Steps(n) }, zap.Int("steps", n))
}

// GoTo migrates up or down to version
func (m *Migrator) GoTo(version uint) error {
	return m.apply("goto", func() error { return m.m.Migrate(version) }, zap.Uint("target_version", version))
}

// Version returns the current migration version; 0 when none was applied
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return v, dirty, nil
}

// Force records version without running migrations, clearing a dirty state
func (m *Migrator) Force(version int) error {
	m.log.Warn("Forcing migration version", zap.Int("version", version))
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

// Close releases the source and the database driver. The driver closes
// the *sql.DB passed to New.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// migrateLogger adapts zap to migrate.Logger. Per-file progress is debug.
type migrateLogger struct{ log *zap.Logger }

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.log.Core().Enabled(zap.DebugLevel)
}
