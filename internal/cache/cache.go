// Package cache reconciles each fresh alert snapshot from a ZVM against the
// alerts already known for it and publishes exactly the transitions: stale
// alerts removed, new alerts admitted, and alerts whose dismissed flag
// flipped re-admitted.
package cache

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/zertoslack/zertoslack/internal/metrics"
	"github.com/zertoslack/zertoslack/internal/store"
	"github.com/zertoslack/zertoslack/internal/types"
)

// Result summarizes one reconciliation
type Result struct {
	Removed   int
	Added     int
	Changed   int
	Unchanged int
	Skipped   int
}

// Events returns the number of events emitted
func (r Result) Events() int {
	return r.Removed + r.Added + r.Changed
}

// Cache owns the reconciliation of a Store and the event stream derived
// from it. All mutating entry points are serialized by one mutex.
type Cache struct {
	store     *store.Store
	publisher *Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	mu        sync.Mutex
}

// New creates a cache over st. m may be nil.
func New(st *store.Store, m *metrics.Metrics, logger zerolog.Logger) *Cache {
	return &Cache{
		store:     st,
		publisher: NewPublisher(logger),
		metrics:   m,
		logger:    logger.With().Str("component", "cache").Logger(),
	}
}

// Store returns the underlying store
func (c *Cache) Store() *store.Store {
	return c.store
}

// Subscribe registers h for every event emitted from now on
func (c *Cache) Subscribe(h Handler) func() {
	return c.publisher.Subscribe(h)
}

// Reconcile runs the cleanup pass and then the ingest pass for one source
// and one snapshot. Removal events are always emitted before admissions.
func (c *Cache) Reconcile(src *types.Source, snapshot []*types.Alert) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res Result
	if !c.known(src) {
		return res
	}

	c.cleanup(src, snapshot, &res)
	c.ingest(src, snapshot, &res)
	c.metrics.SetStored(src.Label, c.store.Count(src))

	c.logger.Debug().
		Str("source", src.Label).
		Int("snapshot", len(snapshot)).
		Int("removed", res.Removed).
		Int("added", res.Added).
		Int("changed", res.Changed).
		Int("unchanged", res.Unchanged).
		Int("skipped", res.Skipped).
		Msg("Reconciliation finished")
	return res
}

// Cleanup removes every stored alert of src that is absent from snapshot and
// emits a removal notice for each
func (c *Cache) Cleanup(src *types.Source, snapshot []*types.Alert) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res Result
	if c.known(src) {
		c.cleanup(src, snapshot, &res)
	}
	return res
}

// Ingest admits the new and changed alerts of snapshot
func (c *Cache) Ingest(src *types.Source, snapshot []*types.Alert) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res Result
	if c.known(src) {
		c.ingest(src, snapshot, &res)
	}
	return res
}

func (c *Cache) known(src *types.Source) bool {
	if c.store.FindIndex(src) == -1 {
		c.logger.Warn().Str("source", src.String()).Msg("Source is not tracked by the store, ignoring snapshot")
		return false
	}
	return true
}

func (c *Cache) cleanup(src *types.Source, snapshot []*types.Alert, res *Result) {
	stored := c.store.GetAlerts(src)
	if len(stored) == 0 {
		c.logger.Debug().Str("source", src.Label).Msg("Cleanup: nothing stored, nothing to do")
		return
	}

	if len(snapshot) == 0 {
		c.logger.Debug().
			Str("source", src.Label).
			Int("stored", len(stored)).
			Msg("Cleanup: empty snapshot, clearing all stored alerts")

		c.store.RemoveAllAlerts(src)
		for i := range stored {
			c.emitRemoved(src, stored[i], res)
		}
		return
	}

	for i := range stored {
		if inSnapshot(snapshot, stored[i].ID()) {
			continue
		}
		// Removal goes through the identifier, never through a position in
		// either slice.
		if !c.store.RemoveAlert(src, &stored[i]) {
			c.logger.Warn().
				Str("source", src.Label).
				Str("alert_id", stored[i].ID()).
				Msg("Cleanup: stale alert vanished before removal")
			continue
		}
		c.emitRemoved(src, stored[i], res)
	}
}

func (c *Cache) ingest(src *types.Source, snapshot []*types.Alert, res *Result) {
	for _, a := range snapshot {
		if !a.Valid() {
			c.logger.Error().
				Str("source", src.Label).
				Msg("Ingest: alert is null or has no identifier, treating as not new")
			res.Skipped++
			continue
		}

		changed := false
		if existing, found := c.store.FindAlert(src, a); found {
			if existing.IsDismissed == a.IsDismissed {
				res.Unchanged++
				continue
			}
			c.logger.Debug().
				Str("source", src.Label).
				Str("alert_id", a.ID()).
				Bool("is_dismissed", a.IsDismissed).
				Msg("Ingest: dismissed flag changed, replacing stored alert")
			c.store.RemoveAlert(src, a)
			changed = true
		}

		if !c.store.AddAlert(src, a) {
			continue
		}
		if changed {
			res.Changed++
		} else {
			res.Added++
		}

		c.logger.Info().
			Str("source", src.Label).
			Str("alert_id", a.ID()).
			Str("level", a.Level).
			Bool("is_dismissed", a.IsDismissed).
			Msg("New alert, saved to cache and dispatching event")
		c.emit(types.ChangeEvent{Source: src, Alert: a.Clone()})
	}
}

func (c *Cache) emitRemoved(src *types.Source, stored types.Alert, res *Result) {
	res.Removed++
	notice := stored.Clone()
	notice.Level = types.LevelRemoved

	c.logger.Info().
		Str("source", src.Label).
		Str("alert_id", stored.ID()).
		Msg("Removing stale alert")
	c.emit(types.ChangeEvent{Source: src, Alert: notice})
}

func (c *Cache) emit(evt types.ChangeEvent) {
	c.metrics.EventEmitted(evt.Source.Label, evt.Kind())
	c.publisher.Publish(evt)
}

func inSnapshot(snapshot []*types.Alert, id string) bool {
	for _, a := range snapshot {
		if a != nil && a.Link.Identifier == id {
			return true
		}
	}
	return false
}
