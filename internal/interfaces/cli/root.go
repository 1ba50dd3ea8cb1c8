// Package cli implements the autoworld-sync command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sebastiansabo/autoworld-crawl/internal/app"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/config"
)

// DefaultEnvFile is loaded before the configuration when present
const DefaultEnvFile = ".env"

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	EnvFile    string
	Format     string // "json" | "text"

	// AppOptions are appended when a command assembles the runtime (tests
	// inject a catalog client here).
	AppOptions []app.Option
	// LoadConfig overrides configuration loading.
	LoadConfig func(opts ...config.LoadOption) (*config.Config, error)
}

// NewRootCommand creates the root command of the sync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoworld-sync",
		Short: "Sync vehicle records into the storefront catalog",
		Long: `Run sync batches from local files or the record bucket and
administer identity mappings without going through the HTTP trigger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return loadEnvFile(opts.EnvFile, cmd.Flags().Changed("env-file"))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to config.toml")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", DefaultEnvFile, "dotenv file loaded before the configuration")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newMappingCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

// loadEnvFile loads path into the environment without overriding variables
// already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return WrapExitError(ExitCommandError, "failed to load env file", err)
}

func (o *RootOptions) config(requireCatalog bool) (*config.Config, error) {
	var loadOpts []config.LoadOption
	if o.ConfigFile != "" {
		loadOpts = append(loadOpts, config.WithConfigFile(o.ConfigFile))
	}
	if !requireCatalog {
		loadOpts = append(loadOpts, config.WithoutCatalog())
	}
	load := o.LoadConfig
	if load == nil {
		load = config.Load
	}
	cfg, err := load(loadOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return cfg, nil
}
