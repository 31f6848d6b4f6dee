package poller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zertoslack/zertoslack/internal/cache"
	"github.com/zertoslack/zertoslack/internal/metrics"
	"github.com/zertoslack/zertoslack/internal/types"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentFetches = 8

// Fetcher retrieves the alert snapshot of one source
type Fetcher interface {
	Source() *types.Source
	Login(ctx context.Context) error
	Alerts(ctx context.Context) ([]*types.Alert, error)
}

// HealthReporter is told the outcome of every fetch
type HealthReporter interface {
	SetSourceHealth(label string, healthy bool)
}

// CycleResult summarizes one polling cycle
type CycleResult struct {
	ID       string
	Polled   int
	Failed   int
	Events   int
	Duration time.Duration
}

// Poller drives one reconciliation per source per interval. Fetches run
// concurrently; reconciliation is applied serially in source order.
type Poller struct {
	cache    *cache.Cache
	fetchers []Fetcher
	interval time.Duration
	metrics  *metrics.Metrics
	health   HealthReporter
	logger   zerolog.Logger
}

// New creates a poller. m may be nil.
func New(c *cache.Cache, fetchers []Fetcher, interval time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Poller {
	return &Poller{
		cache:    c,
		fetchers: fetchers,
		interval: interval,
		metrics:  m,
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// SetHealthReporter registers h to receive per-source fetch outcomes
func (p *Poller) SetHealthReporter(h HealthReporter) {
	p.health = h
}

// Login attempts a first session with every source. Failures are logged
// and retried implicitly by the next fetch.
func (p *Poller) Login(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(maxConcurrentFetches)

	for _, f := range p.fetchers {
		f := f
		g.Go(func() error {
			if err := f.Login(ctx); err != nil {
				p.logger.Error().Err(err).Str("source", f.Source().Label).Msg("Authentication to ZVM failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Run polls immediately and then every interval until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().
		Dur("interval", p.interval).
		Int("source_count", len(p.fetchers)).
		Msg("Starting loop to check ZVMs for alerts")

	p.RunOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

type fetchResult struct {
	alerts []*types.Alert
	err    error
}

// RunOnce performs a single cycle over all sources
func (p *Poller) RunOnce(ctx context.Context) CycleResult {
	start := time.Now()
	res := CycleResult{ID: uuid.NewString()}
	logger := p.logger.With().Str("cycle_id", res.ID).Logger()

	results := make([]fetchResult, len(p.fetchers))

	var g errgroup.Group
	g.SetLimit(maxConcurrentFetches)
	for i, f := range p.fetchers {
		i, f := i, f
		g.Go(func() error {
			label := f.Source().Label
			logger.Info().Str("source", label).Msg("Getting alerts")

			fetchStart := time.Now()
			alerts, err := f.Alerts(ctx)
			p.metrics.PollFinished(label, time.Since(fetchStart), err)

			results[i] = fetchResult{alerts: alerts, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, f := range p.fetchers {
		src := f.Source()
		r := results[i]
		if p.health != nil {
			p.health.SetSourceHealth(src.Label, r.err == nil)
		}
		if r.err != nil {
			res.Failed++
			logger.Error().Err(r.err).Str("source", src.Label).Msg("Failed to get alerts")
			continue
		}

		res.Polled++
		rec := p.cache.Reconcile(src, r.alerts)
		res.Events += rec.Events()
	}

	res.Duration = time.Since(start)
	logger.Info().
		Int("polled", res.Polled).
		Int("failed", res.Failed).
		Int("events", res.Events).
		Dur("duration", res.Duration).
		Msg("Alert check completed for all sources")
	return res
}
