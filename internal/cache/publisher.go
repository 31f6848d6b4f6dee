package cache

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zertoslack/zertoslack/internal/types"
)

// Handler receives every change event published after it subscribed.
// Handlers run synchronously on the publishing goroutine and should hand
// slow work off to their own queue.
type Handler func(types.ChangeEvent) error

type subscription struct {
	id      uint64
	handler Handler
}

// Publisher is an ordered list of observers. Delivery is synchronous and in
// emission order; there is no buffering and no replay for late subscribers.
type Publisher struct {
	logger zerolog.Logger
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewPublisher creates a publisher with no subscribers
func NewPublisher(logger zerolog.Logger) *Publisher {
	return &Publisher{
		logger: logger.With().Str("component", "publisher").Logger(),
	}
}

// Subscribe registers h and returns a function that removes it again
func (p *Publisher) Subscribe(h Handler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.subs = append(p.subs, subscription{id: id, handler: h})

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.subs {
			if s.id == id {
				p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
				return
			}
		}
	}
}

// Subscribers returns the number of registered handlers
func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Publish delivers evt to every subscriber in registration order. Each
// subscriber gets its own copy of the alert. Subscriber errors and panics are
// logged and never reach the caller.
func (p *Publisher) Publish(evt types.ChangeEvent) {
	p.mu.RLock()
	subs := make([]subscription, len(p.subs))
	copy(subs, p.subs)
	p.mu.RUnlock()

	for _, s := range subs {
		p.deliver(s, types.ChangeEvent{Source: evt.Source, Alert: evt.Alert.Clone()})
	}
}

func (p *Publisher) deliver(s subscription, evt types.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Err(fmt.Errorf("panic: %v", r)).
				Uint64("subscriber", s.id).
				Str("source", evt.Source.String()).
				Str("alert_id", evt.Alert.ID()).
				Msg("Subscriber panicked while handling event")
		}
	}()

	if err := s.handler(evt); err != nil {
		p.logger.Error().
			Err(err).
			Uint64("subscriber", s.id).
			Str("source", evt.Source.String()).
			Str("alert_id", evt.Alert.ID()).
			Msg("Subscriber failed to handle event")
	}
}
