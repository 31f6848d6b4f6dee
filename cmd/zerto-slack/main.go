package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zertoslack/zertoslack/internal/config"
	"github.com/zertoslack/zertoslack/internal/metrics"
	"github.com/zertoslack/zertoslack/internal/notifier"
	"github.com/zertoslack/zertoslack/internal/types"
	"github.com/zertoslack/zertoslack/internal/version"
	"github.com/zertoslack/zertoslack/internal/zerto"
)

const logBufferSize = 1000

type options struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "zerto-slack",
		Short:         "Forward Zerto ZVM alerts to Slack",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the configuration file")
	flags.StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error); overrides general.log_level")

	cmd.AddCommand(newValidateCommand(opts), newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}

// newLogger builds the process logger. The flag wins over the config file.
func newLogger(w io.Writer, flagLevel, cfgLevel string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(resolveLevel(flagLevel, cfgLevel))

	return zerolog.New(w).With().
		Timestamp().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Logger()
}

func resolveLevel(flagLevel, cfgLevel string) zerolog.Level {
	for _, l := range []string{flagLevel, cfgLevel} {
		if l == "" {
			continue
		}
		if parsed, err := zerolog.ParseLevel(l); err == nil {
			return parsed
		}
	}
	return zerolog.InfoLevel
}

func loadConfig(opts *options) (*config.Config, error) {
	if opts.configPath == "" {
		return nil, errors.New("--config is required")
	}
	return config.LoadConfig(opts.configPath)
}

func newSlack(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *notifier.Slack {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return notifier.NewSlack(notifier.Config{
		WebhookURL:    cfg.Slack.WebhookURL(),
		RatePerSecond: cfg.Slack.RatePerSecond,
		QueueSize:     cfg.Slack.QueueSize,
		Timeout:       cfg.Slack.Timeout,
		Hostname:      hostname,
	}, m, logger)
}

// newClients pairs every source with the ZVM settings it was built from
func newClients(cfg *config.Config, sources []*types.Source, logger zerolog.Logger) []*zerto.Client {
	clients := make([]*zerto.Client, len(sources))
	for i, src := range sources {
		clients[i] = zerto.NewClient(src, zerto.ClientConfig{
			Timeout:            cfg.General.Timeout,
			InsecureSkipVerify: !cfg.Zerto[i].VerifyTLS,
			LoginRetries:       cfg.General.Retries(),
		}, logger)
	}
	return clients
}
