package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arklim/session-gate/internal/infra/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(cmd.Context(), opts.cfg)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			if err := application.Run(cmd.Context()); err != nil {
				return fmt.Errorf("application stopped: %w", err)
			}
			return nil
		},
	}
}
