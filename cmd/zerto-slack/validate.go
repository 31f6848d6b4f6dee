package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration, send a Slack test message and log in to every ZVM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger := newLogger(os.Stdout, opts.logLevel, cfg.General.LogLevel)
			ctx := cmd.Context()

			var errs error
			if err := newSlack(cfg, nil, logger).SendTest(ctx); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("slack: %w", err))
			}
			for _, cl := range newClients(cfg, cfg.Sources(), logger) {
				if err := cl.Login(ctx); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("zvm %s: %w", cl.Source().Label, err))
					continue
				}
				logger.Info().Str("source", cl.Source().Label).Msg("Authenticated to ZVM")
			}
			if errs != nil {
				return errs
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		},
	}
}
