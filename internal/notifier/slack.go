package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zertoslack/zertoslack/internal/metrics"
	"github.com/zertoslack/zertoslack/internal/types"
	"github.com/zertoslack/zertoslack/internal/version"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultQueueSize = 256
	flushTimeout     = 5 * time.Second

	colorWarning = "#f1a100"
	colorError   = "#f20000"
	colorRemoved = "#00f195"
	colorInfo    = "#00b5f1"

	channelName = "slack"
)

// ErrQueueFull is returned by Handle when the delivery queue has no room
var ErrQueueFull = errors.New("slack delivery queue is full")

// Config tunes the Slack notifier
type Config struct {
	WebhookURL    string
	RatePerSecond float64
	QueueSize     int
	Timeout       time.Duration
	Hostname      string
}

// Slack delivers change events to a Slack incoming webhook. Handle only
// enqueues, so a slow webhook never holds up reconciliation; Run drains
// the queue at the configured rate.
type Slack struct {
	logger   zerolog.Logger
	client   *http.Client
	limiter  *rate.Limiter
	queue    chan types.ChangeEvent
	hostname string
	metrics  *metrics.Metrics
	now      func() time.Time

	flushTimeout time.Duration

	mu         sync.RWMutex
	webhookURL string
}

// NewSlack creates a Slack notifier. m may be nil.
func NewSlack(cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Slack {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Slack{
		logger:       logger.With().Str("component", "slack").Logger(),
		client:       &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(limit, 1),
		queue:        make(chan types.ChangeEvent, cfg.QueueSize),
		hostname:     cfg.Hostname,
		metrics:      m,
		now:          time.Now,
		flushTimeout: flushTimeout,
		webhookURL:   cfg.WebhookURL,
	}
}

// SetWebhookURL swaps the webhook used for subsequent deliveries
func (s *Slack) SetWebhookURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhookURL = url
}

func (s *Slack) webhook() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webhookURL
}

// Handle enqueues evt for delivery without blocking
func (s *Slack) Handle(evt types.ChangeEvent) error {
	select {
	case s.queue <- evt:
		return nil
	default:
		s.metrics.Dropped()
		return fmt.Errorf("%w: dropping alert %s from %s", ErrQueueFull, evt.Alert.ID(), evt.Source)
	}
}

// Pending returns the number of queued events
func (s *Slack) Pending() int {
	return len(s.queue)
}

// Run delivers queued events until ctx is cancelled, then spends up to
// flushTimeout delivering what is still queued
func (s *Slack) Run(ctx context.Context) {
	s.logger.Info().Msg("Slack delivery worker started")
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case evt := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				s.flush(evt)
				return
			}
			s.deliver(ctx, evt)
		}
	}
}

// flush delivers held and queued events until the queue is empty or the
// flush deadline passes
func (s *Slack) flush(held ...types.ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
	defer cancel()

	next := func() (types.ChangeEvent, bool) {
		if len(held) > 0 {
			evt := held[0]
			held = held[1:]
			return evt, true
		}
		select {
		case evt := <-s.queue:
			return evt, true
		default:
			return types.ChangeEvent{}, false
		}
	}

	for {
		evt, ok := next()
		if !ok {
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Warn().
				Int("pending", len(s.queue)+len(held)+1).
				Msg("Shutting down with undelivered notifications")
			return
		}
		s.deliver(ctx, evt)
	}
}

func (s *Slack) deliver(ctx context.Context, evt types.ChangeEvent) {
	err := s.Send(ctx, evt)
	s.metrics.Delivered(channelName, err)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("source", evt.Source.String()).
			Str("alert_id", evt.Alert.ID()).
			Msg("Failed to send alert")
		return
	}
	s.logger.Info().
		Str("source", evt.Source.String()).
		Str("alert_id", evt.Alert.ID()).
		Str("kind", evt.Kind()).
		Msg("Alert sent successfully")
}

// Send formats evt and posts it to the webhook
func (s *Slack) Send(ctx context.Context, evt types.ChangeEvent) error {
	return s.post(ctx, FormatMessage(evt, s.hostname, s.now()))
}

// SendTest posts the service-started message used to validate the webhook
func (s *Slack) SendTest(ctx context.Context) error {
	s.logger.Info().Msg("Starting Slack send test")

	title := "Service started on " + s.hostname
	msg := Message{Attachments: []Attachment{{
		Fallback: title,
		Color:    colorInfo,
		Title:    title,
		Text:     "This service will periodically connect to Zerto ZVM server(s) and relay alerts into this channel",
		Footer:   s.hostname,
		TS:       s.now().Unix(),
	}}}

	if err := s.post(ctx, msg); err != nil {
		return fmt.Errorf("slack test failed: %w", err)
	}
	s.logger.Info().Msg("Slack test success")
	return nil
}

func (s *Slack) post(ctx context.Context, msg Message) error {
	url := s.webhook()
	if url == "" {
		return errors.New("slack webhook is not configured")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack webhook error: %d - %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
