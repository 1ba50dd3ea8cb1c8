package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/app"
	syncapp "github.com/sebastiansabo/autoworld-crawl/internal/application/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/logger"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/storage"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	File     string
	Object   string
	Format   string
	BatchID  string
	Strict   bool
}

func newRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync batch",
		Long: `Run one sync batch from a local export file or an object in the
record bucket. The batch summary is printed on stdout; logs go to stderr.

Example:
  autoworld-sync run --file ./exports/stock.csv
  autoworld-sync run --object daily/2026-10-14.xlsx --batch-id nightly-1014`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), opts, output{format: opts.RootOptions.Format, w: cmd.OutOrStdout()})
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "local record file (json, csv or xlsx)")
	cmd.Flags().StringVar(&opts.Object, "object", "", "object key in the record bucket")
	cmd.Flags().StringVar(&opts.Format, "input-format", "", "record format when the extension does not tell (json|csv|xlsx)")
	cmd.Flags().StringVar(&opts.BatchID, "batch-id", "", "batch id (default: generated)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit with status 1 when any record failed")
	cmd.MarkFlagsMutuallyExclusive("file", "object")
	cmd.MarkFlagsOneRequired("file", "object")
	return cmd
}

func runBatch(ctx context.Context, opts *RunOptions, out output) error {
	cfg, err := opts.config(true)
	if err != nil {
		return err
	}

	appOpts := []app.Option{app.WithLogOutput("stderr"), app.WithLoggerName("autoworld-sync")}
	key := opts.Object
	if opts.File != "" {
		key = opts.File
		appOpts = append(appOpts, app.WithRecordSource(storage.NewFileRecordSource("")))
	}
	appOpts = append(appOpts, opts.AppOptions...)

	rt, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize runtime", err)
	}
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

	result, runErr := rt.Service.RunFromSource(ctx, opts.BatchID, integration.SourceRef{
		Key:    key,
		Format: strings.ToLower(opts.Format),
	})
	if result != nil {
		if err := out.write(batchSummary{result}); err != nil {
			return err
		}
	}

	switch {
	case runErr == nil:
	case errors.Is(runErr, syncapp.ErrSourceNotConfigured):
		return WrapExitError(ExitCommandError, "object runs need storage.enabled", runErr)
	case result == nil:
		return WrapExitError(ExitCommandError, "batch did not start", runErr)
	default:
		return WrapExitError(ExitFailure, "batch ended early", runErr)
	}

	logger.FromContextOr(ctx, rt.Logger).Info("Sync batch finished",
		zap.String(logger.FieldBatchID, result.BatchID),
		zap.String("status", result.Status),
	)
	if opts.Strict && result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d records failed", result.Failed, result.Total))
	}
	return nil
}

type batchSummary struct {
	*syncapp.BatchResultResponse
}

func (b batchSummary) text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "batch %s: %s (total %d, created %d, updated %d, failed %d, dropped %d, %dms)",
		b.BatchID, b.Status, b.Total, b.Created, b.Updated, b.Failed, b.Dropped, b.DurationMs)
	for _, f := range b.Failures {
		fmt.Fprintf(&sb, "\n  %s %s: %s", f.ItemID, f.ErrorCode, f.ErrorMessage)
	}
	return sb.String()
}
