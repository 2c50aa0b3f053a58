package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arklim/session-gate/internal/infra/config"
)

type rootOptions struct {
	configFile string
	cfg        *config.AppConfig
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "sessiongate",
		Short:         "Concurrent session limiter for shared accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a config file (yaml, json or toml)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newTokenCmd(opts),
	)

	return rootCmd
}
