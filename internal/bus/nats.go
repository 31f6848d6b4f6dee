package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/zertoslack/zertoslack/internal/types"
)

// Envelope is the JSON document published for each change event
type Envelope struct {
	Source    string      `json:"source"`
	Kind      string      `json:"kind"`
	Alert     types.Alert `json:"alert"`
	EmittedAt time.Time   `json:"emitted_at"`
}

// Conn is the subset of *nats.Conn the publisher needs
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher forwards change events to NATS as JSON envelopes, one subject
// per source
type Publisher struct {
	Conn   Conn
	Prefix string

	nc *nats.Conn
}

// NewPublisher connects to url and publishes under prefix. The connection
// reconnects indefinitely.
func NewPublisher(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("zerto-slack"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{Conn: nc, Prefix: prefix, nc: nc}, nil
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// Subject returns the subject a source's events are published on
func (p *Publisher) Subject(src *types.Source) string {
	return p.Prefix + "." + subjectToken(src.String())
}

// Handle publishes evt; it satisfies cache.Handler
func (p *Publisher) Handle(evt types.ChangeEvent) error {
	data, err := json.Marshal(Envelope{
		Source:    evt.Source.String(),
		Kind:      evt.Kind(),
		Alert:     evt.Alert,
		EmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.Conn.Publish(p.Subject(evt.Source), data)
}

// subjectToken makes a label safe to use as one NATS subject token
func subjectToken(label string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, label)
}
