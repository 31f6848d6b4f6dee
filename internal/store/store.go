// Package store holds the authoritative in-memory set of currently known
// alerts per ZVM. It is a data structure, not a policy enforcer: every
// operation fails softly and deciding what is new or stale is left to the
// caller.
package store

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zertoslack/zertoslack/internal/types"
)

// ErrNoSources is returned by New when no sources are given
var ErrNoSources = errors.New("at least one source must be provided to init store")

type slot struct {
	source *types.Source
	alerts []types.Alert
}

// Store maps each source to the ordered sequence of alerts currently known
// for it. The set of sources is fixed at construction.
//
// Individual operations are safe for concurrent use. Sequences of operations
// are not atomic; callers that need that serialize around them.
type Store struct {
	logger zerolog.Logger
	mu     sync.RWMutex
	slots  []slot
	index  map[*types.Source]int
}

// New creates a store tracking the given sources
func New(sources []*types.Source, logger zerolog.Logger) (*Store, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	s := &Store{
		logger: logger.With().Str("component", "store").Logger(),
		slots:  make([]slot, 0, len(sources)),
		index:  make(map[*types.Source]int, len(sources)),
	}
	for _, src := range sources {
		if src == nil {
			continue
		}
		if _, dup := s.index[src]; dup {
			continue
		}
		s.index[src] = len(s.slots)
		s.slots = append(s.slots, slot{source: src})
	}
	if len(s.slots) == 0 {
		return nil, ErrNoSources
	}

	s.logger.Debug().Int("source_count", len(s.slots)).Msg("Store initialized")
	return s, nil
}

// Sources returns the tracked sources in initialization order
func (s *Store) Sources() []*types.Source {
	out := make([]*types.Source, len(s.slots))
	for i := range s.slots {
		out[i] = s.slots[i].source
	}
	return out
}

// FindIndex resolves a source to its slot, or -1
func (s *Store) FindIndex(src *types.Source) int {
	if i, ok := s.index[src]; ok {
		return i
	}
	return -1
}

// AddAlert appends a copy of alert to the source's sequence. It does not
// check for duplicate identifiers.
func (s *Store) AddAlert(src *types.Source, alert *types.Alert) bool {
	if !alert.Valid() {
		s.logger.Debug().Str("source", src.String()).Msg("Alert will not be stored, alert value is not defined")
		return false
	}

	i := s.FindIndex(src)
	if i == -1 {
		s.logger.Debug().Str("source", src.String()).Msg("Alert will not be stored, source not found")
		return false
	}

	s.mu.Lock()
	s.slots[i].alerts = append(s.slots[i].alerts, alert.Clone())
	s.mu.Unlock()

	s.logger.Debug().
		Str("source", src.Label).
		Str("alert_id", alert.ID()).
		Msg("Alert stored")
	return true
}

// RemoveAlert removes the one stored record whose identifier matches alert
func (s *Store) RemoveAlert(src *types.Source, alert *types.Alert) bool {
	if !alert.Valid() {
		s.logger.Debug().Str("source", src.String()).Msg("Alert will not be removed, alert value is not defined")
		return false
	}

	i := s.FindIndex(src)
	if i == -1 {
		s.logger.Debug().Str("source", src.String()).Msg("Alert will not be removed, source not found")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := findIn(s.slots[i].alerts, alert)
	if j == -1 {
		s.logger.Debug().
			Str("source", src.Label).
			Str("alert_id", alert.ID()).
			Msg("Alert will not be removed, alert not found")
		return false
	}

	alerts := s.slots[i].alerts
	copy(alerts[j:], alerts[j+1:])
	alerts[len(alerts)-1] = types.Alert{}
	s.slots[i].alerts = alerts[:len(alerts)-1]

	s.logger.Debug().
		Str("source", src.Label).
		Str("alert_id", alert.ID()).
		Msg("Alert removed")
	return true
}

// RemoveAllAlerts clears the source's sequence
func (s *Store) RemoveAllAlerts(src *types.Source) bool {
	i := s.FindIndex(src)
	if i == -1 {
		s.logger.Debug().Str("source", src.String()).Msg("Alerts will not be removed, source not found")
		return false
	}

	s.mu.Lock()
	s.slots[i].alerts = nil
	s.mu.Unlock()

	s.logger.Debug().Str("source", src.Label).Msg("All alerts removed")
	return true
}

// GetAlerts returns a copy of the source's current sequence in insertion
// order. Unknown sources yield an empty slice.
func (s *Store) GetAlerts(src *types.Source) []types.Alert {
	i := s.FindIndex(src)
	if i == -1 {
		return []types.Alert{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Alert, len(s.slots[i].alerts))
	for j := range s.slots[i].alerts {
		out[j] = s.slots[i].alerts[j].Clone()
	}
	return out
}

// FindAlert looks up the stored record with the same identifier as alert
func (s *Store) FindAlert(src *types.Source, alert *types.Alert) (types.Alert, bool) {
	if alert == nil {
		return types.Alert{}, false
	}

	i := s.FindIndex(src)
	if i == -1 {
		return types.Alert{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	j := findIn(s.slots[i].alerts, alert)
	if j == -1 {
		return types.Alert{}, false
	}
	return s.slots[i].alerts[j].Clone(), true
}

// FindAlertIndex returns the position of the stored record with the same
// identifier as alert, or -1
func (s *Store) FindAlertIndex(src *types.Source, alert *types.Alert) int {
	if alert == nil {
		return -1
	}

	i := s.FindIndex(src)
	if i == -1 {
		return -1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return findIn(s.slots[i].alerts, alert)
}

// IsAlertPresent reports whether a record with alert's identifier is stored
func (s *Store) IsAlertPresent(src *types.Source, alert *types.Alert) bool {
	return s.FindAlertIndex(src, alert) != -1
}

// Count returns the number of alerts stored for src
func (s *Store) Count(src *types.Source) int {
	i := s.FindIndex(src)
	if i == -1 {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots[i].alerts)
}

// Total returns the number of alerts stored across all sources
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for i := range s.slots {
		n += len(s.slots[i].alerts)
	}
	return n
}

func findIn(alerts []types.Alert, alert *types.Alert) int {
	for j := range alerts {
		if alerts[j].Link.Identifier == alert.Link.Identifier {
			return j
		}
	}
	return -1
}
