package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/auth"
)

var knownScopes = []string{auth.ScopeSyncRun, auth.ScopeMappingsAdmin}

// TokenOptions holds flags for token issue.
type TokenOptions struct {
	*RootOptions
	Subject string
	Scopes  []string
	TTL     time.Duration
}

func newTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage trigger API tokens",
	}

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed trigger token",
		Long: `Issue an HS256 token signed with trigger.jwt_secret for a scheduler
or an operator.

Example:
  autoworld-sync token issue --subject nightly-cron --scope sync:run --ttl 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range opts.Scopes {
				if !slices.Contains(knownScopes, s) {
					return NewExitError(ExitCommandError, fmt.Sprintf("unknown scope %q: must be one of %v", s, knownScopes))
				}
			}
			cfg, err := opts.config(false)
			if err != nil {
				return err
			}
			svc, err := auth.NewJWTService(cfg.Trigger)
			if err != nil {
				return WrapExitError(ExitCommandError, "cannot sign tokens", err)
			}
			token, expiresAt, err := svc.GenerateToken(opts.Subject, opts.Scopes, opts.TTL)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to issue token", err)
			}
			return output{format: opts.RootOptions.Format, w: cmd.OutOrStdout()}.write(issuedToken{
				Token:     token,
				Subject:   opts.Subject,
				Scopes:    opts.Scopes,
				ExpiresAt: expiresAt,
			})
		},
	}
	issue.Flags().StringVar(&opts.Subject, "subject", "", "token subject")
	issue.Flags().StringSliceVar(&opts.Scopes, "scope", []string{auth.ScopeSyncRun}, "granted scopes")
	issue.Flags().DurationVar(&opts.TTL, "ttl", auth.DefaultTokenTTL, "token lifetime")
	_ = issue.MarkFlagRequired("subject")

	cmd.AddCommand(issue)
	return cmd
}

type issuedToken struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t issuedToken) text() string { return t.Token }
