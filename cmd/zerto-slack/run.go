package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/zertoslack/zertoslack/internal/api"
	"github.com/zertoslack/zertoslack/internal/bus"
	"github.com/zertoslack/zertoslack/internal/cache"
	"github.com/zertoslack/zertoslack/internal/config"
	"github.com/zertoslack/zertoslack/internal/logbuffer"
	"github.com/zertoslack/zertoslack/internal/metrics"
	"github.com/zertoslack/zertoslack/internal/notifier"
	"github.com/zertoslack/zertoslack/internal/poller"
	"github.com/zertoslack/zertoslack/internal/store"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, opts *options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logBuffer := logbuffer.New(logBufferSize)
	logger := newLogger(io.MultiWriter(os.Stdout, logBuffer), opts.logLevel, cfg.General.LogLevel)

	logger.Info().
		Str("config_path", opts.configPath).
		Int("source_count", len(cfg.Zerto)).
		Msg("Starting zerto-slack")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	sources := cfg.Sources()
	st, err := store.New(sources, logger)
	if err != nil {
		return err
	}
	c := cache.New(st, m, logger)

	slack := newSlack(cfg, m, logger)
	if err := slack.SendTest(ctx); err != nil {
		return fmt.Errorf("slack webhook test failed: %w", err)
	}
	logger.Info().Msg("Slack webhook test message sent")
	c.Subscribe(slack.Handle)

	if cfg.NATS.Enabled() {
		pub, err := bus.NewPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer pub.Close()
		c.Subscribe(pub.Handle)
		logger.Info().
			Str("url", cfg.NATS.URL).
			Str("subject_prefix", cfg.NATS.SubjectPrefix).
			Msg("Publishing change events to NATS")
	}

	clients := newClients(cfg, sources, logger)
	fetchers := make([]poller.Fetcher, len(clients))
	healthSources := make([]api.HealthSource, len(clients))
	labels := make([]string, len(clients))
	for i, cl := range clients {
		fetchers[i] = cl
		healthSources[i] = cl
		labels[i] = cl.Source().Label
	}

	health := api.NewHealthServer(labels, logger, strconv.Itoa(cfg.API.GRPCPort))

	p := poller.New(c, fetchers, cfg.General.Interval, m, logger)
	p.SetHealthReporter(health)

	apiServer := api.NewServer(st, logger, strconv.Itoa(cfg.API.Port))
	apiServer.SetLogBuffer(logBuffer)
	apiServer.SetHealthSources(healthSources)
	apiServer.SetGatherer(reg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slack.Run(gctx)
		return nil
	})
	g.Go(apiServer.Start)
	g.Go(health.Start)
	g.Go(func() error {
		return config.Watch(gctx, opts.configPath, logger, reloader(cfg, opts, slack, logger))
	})
	g.Go(func() error {
		p.Login(gctx)
		return p.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		health.Stop()
		return apiServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info().Msg("zerto-slack stopped")
	return err
}

// reloader applies the settings that can change without a restart
func reloader(current *config.Config, opts *options, slack *notifier.Slack, logger zerolog.Logger) func(*config.Config) {
	return func(next *config.Config) {
		if opts.logLevel == "" {
			zerolog.SetGlobalLevel(resolveLevel("", next.General.LogLevel))
		}
		slack.SetWebhookURL(next.Slack.WebhookURL())

		if !config.SameSources(current, next) {
			logger.Warn().Msg("ZVM list changed; restart to poll the new sources")
		}
		if next.General.Interval != current.General.Interval {
			logger.Warn().
				Dur("interval", next.General.Interval).
				Msg("Polling interval changed; restart to apply")
		}
	}
}
