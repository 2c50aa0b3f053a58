package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arklim/session-gate/internal/infra/security"
)

// newTokenCmd signs a bearer token with the configured secret for local testing of the API.
func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		email   string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.App.Env == "production" {
				return fmt.Errorf("token issuing is disabled in production")
			}
			if subject == "" && email == "" {
				return fmt.Errorf("one of --email or --subject is required")
			}

			verifier, err := security.NewTokenVerifier(opts.cfg.Auth)
			if err != nil {
				return err
			}
			token, err := verifier.IssueToken(subject, email, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email claim, used as the user id")
	cmd.Flags().StringVar(&subject, "subject", "", "sub claim, used when no email is given")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
