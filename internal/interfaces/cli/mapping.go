package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sebastiansabo/autoworld-crawl/internal/app"
	syncapp "github.com/sebastiansabo/autoworld-crawl/internal/application/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

func newMappingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Inspect or remove identity mappings",
		Long: `Inspect or remove the stored link between a source identity key and
its remote product. Deleting a mapping makes the next sync of that key
create or adopt the remote product again.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <identity-key>",
		Short: "Show the mapping of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMappings(cmd.Context(), rootOpts, func(repo integration.IdentityMappingRepository) error {
				m, err := repo.FindByKey(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return mappingError(err)
				}
				return output{format: rootOpts.Format, w: cmd.OutOrStdout()}.write(mappingView(syncapp.ToMappingResponse(m)))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <identity-key>",
		Short: "Delete the mapping of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			return withMappings(cmd.Context(), rootOpts, func(repo integration.IdentityMappingRepository) error {
				if err := repo.Delete(cmd.Context(), key); err != nil {
					return mappingError(err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted mapping %s\n", key)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Count stored mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMappings(cmd.Context(), rootOpts, func(repo integration.IdentityMappingRepository) error {
				n, err := repo.Count(cmd.Context())
				if err != nil {
					return mappingError(err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	})
	return cmd
}

// withMappings opens the mapping store only; mapping commands never reach the catalog
func withMappings(ctx context.Context, opts *RootOptions, fn func(repo integration.IdentityMappingRepository) error) error {
	cfg, err := opts.config(false)
	if err != nil {
		return err
	}
	appOpts := append([]app.Option{app.WithLogOutput("stderr"), app.WithLoggerName("autoworld-sync")}, opts.AppOptions...)
	rt, err := app.OpenStore(ctx, cfg, appOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open mapping store", err)
	}
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()
	return fn(rt.Mappings)
}

func mappingError(err error) error {
	switch {
	case errors.Is(err, integration.ErrMappingNotFound):
		return WrapExitError(ExitFailure, "no mapping", err)
	case errors.Is(err, context.Canceled):
		return WrapExitError(ExitFailure, "interrupted", err)
	default:
		return WrapExitError(ExitCommandError, "mapping store error", err)
	}
}

type mappingView syncapp.MappingResponse

func (m mappingView) text() string {
	return fmt.Sprintf("%s -> product %s, variant %s (sku %s, updated %s)",
		m.IdentityKey, m.ProductID, m.VariantID, m.SKU, m.UpdatedAt.Format("2006-01-02 15:04:05"))
}
