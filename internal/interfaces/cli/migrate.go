package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/logger"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/migration"
)

// MigrateOptions holds flags for the migrate commands.
type MigrateOptions struct {
	*RootOptions
	Path     string
	LogLevel string
}

// NewMigrateCommand creates the standalone migration command tree used by
// cmd/migrate.
func NewMigrateCommand() *cobra.Command {
	opts := &RootOptions{Format: "text"}
	cmd := newMigrateCommand(opts)
	cmd.Use = "migrate"
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to config.toml")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", DefaultEnvFile, "dotenv file loaded before the configuration")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(opts.EnvFile, cmd.Flags().Changed("env-file"))
	}
	return cmd
}

func newMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage mapping store schema migrations",
		Long: `Apply, roll back and inspect the versioned SQL migrations of the
mapping store. The store is selected with database.driver (postgres or
sqlite) and the AUTOWORLD_DATABASE_* variables.

Example:
  autoworld-sync migrate up
  autoworld-sync migrate step -- -1
  AUTOWORLD_DATABASE_DRIVER=sqlite autoworld-sync migrate version
  autoworld-sync migrate create add_sync_runs "Record batch summaries"`,
	}
	cmd.PersistentFlags().StringVar(&opts.Path, "path", "", "migrations directory (default: database.migrations_path)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")

	cmd.AddCommand(
		migrateAction(opts, "up", "Apply all pending migrations", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Up() }),
		migrateAction(opts, "down", "Roll back all migrations", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Down() }),
		migrateAction(opts, "step <n>", "Apply n migrations (negative rolls back)", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid step count %q", args[0]))
				}
				return m.Steps(n)
			}),
		migrateAction(opts, "goto <version>", "Migrate to a specific version", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid version %q", args[0]))
				}
				return m.GoTo(uint(v))
			}),
		migrateAction(opts, "force <version>", "Force the recorded version without running migrations", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid version %q", args[0]))
				}
				return m.Force(v)
			}),
		newMigrateVersionCommand(opts),
		newMigrateCreateCommand(opts),
		newMigrateListCommand(opts),
	)
	return cmd
}

// migrationsPath resolves --path, then database.migrations_path, to an
// absolute directory.
func (o *MigrateOptions) migrationsPath(configured string) (string, error) {
	path := o.Path
	if path == "" {
		path = configured
	}
	if path == "" {
		path = "migrations"
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid migrations path", err)
	}
	return abs, nil
}

func (o *MigrateOptions) logger() (*zap.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      o.LogLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialize logger", err)
	}
	return l, nil
}

// withMigrator opens the configured store and runs fn. The migrator owns
// the connection and closes it.
func (o *MigrateOptions) withMigrator(fn func(m *migration.Migrator, log *zap.Logger) error) error {
	cfg, err := o.config(false)
	if err != nil {
		return err
	}
	path, err := o.migrationsPath(cfg.Database.MigrationsPath)
	if err != nil {
		return err
	}
	log, err := o.logger()
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	db, err := migration.Open(&cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to database", err)
	}
	m, err := migration.New(db, cfg.Database.Driver, path, log)
	if err != nil {
		_ = db.Close()
		return WrapExitError(ExitCommandError, "failed to create migrator", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("Failed to close migrator", zap.Error(err))
		}
	}()

	log.Debug("Migrating", zap.String("driver", cfg.Database.Driver), zap.String("migrations_path", path))
	return fn(m, log)
}

func migrateAction(opts *MigrateOptions, use, short string, args cobra.PositionalArgs, fn func(m *migration.Migrator, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMigrator(func(m *migration.Migrator, _ *zap.Logger) error {
				if err := fn(m, args); err != nil {
					return migrationError(strings.Fields(use)[0], err)
				}
				return nil
			})
		},
	}
}

func migrationError(action string, err error) error {
	if GetExitCode(err) == ExitCommandError {
		return err
	}
	return WrapExitError(ExitFailure, "migrate "+action+" failed", err)
}

func newMigrateVersionCommand(opts *MigrateOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMigrator(func(m *migration.Migrator, _ *zap.Logger) error {
				v, dirty, err := m.Version()
				if err != nil {
					return migrationError("version", err)
				}
				return output{format: opts.RootOptions.Format, w: cmd.OutOrStdout()}.write(schemaVersion{Version: v, Dirty: dirty})
			})
		},
	}
}

type schemaVersion struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func (v schemaVersion) text() string {
	switch {
	case v.Version == 0:
		return "no migrations applied"
	case v.Dirty:
		return fmt.Sprintf("version %d (dirty)", v.Version)
	default:
		return fmt.Sprintf("version %d", v.Version)
	}
}

func newMigrateCreateCommand(opts *MigrateOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name> [description]",
		Short: "Create the next migration file pair",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.migrationsPath(configuredPath(opts))
			if err != nil {
				return err
			}
			description := ""
			if len(args) > 1 {
				description = args[1]
			}
			mf, err := migration.CreateMigration(path, args[0], description)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to create migration", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", mf.UpPath, mf.DownPath)
			return err
		},
	}
}

func newMigrateListCommand(opts *MigrateOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.migrationsPath(configuredPath(opts))
			if err != nil {
				return err
			}
			names, err := migration.ListMigrations(path)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list migrations", err)
			}
			for _, n := range names {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), n); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// configuredPath reads database.migrations_path without requiring a
// reachable store. Configuration errors fall back to the default directory.
func configuredPath(opts *MigrateOptions) string {
	if opts.Path != "" {
		return ""
	}
	cfg, err := opts.config(false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
		return ""
	}
	return cfg.Database.MigrationsPath
}
