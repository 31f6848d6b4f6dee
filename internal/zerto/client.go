package zerto

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/zertoslack/zertoslack/internal/types"
	"github.com/zertoslack/zertoslack/internal/version"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultLoginRetries   = 3
	defaultBackoffInitial = 2 * time.Second
	defaultBackoffMax     = 60 * time.Second

	sessionHeader = "x-zerto-session"
	loginPath     = "/v1/session/add"
	alertsPath    = "/v1/alerts"
)

// ErrUnauthorized is returned when the ZVM rejects the credentials or the session
var ErrUnauthorized = errors.New("zvm rejected credentials")

// ClientConfig tunes the ZVM client
type ClientConfig struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	LoginRetries       int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
}

// SourceHealth tracks polling state for a ZVM
type SourceHealth struct {
	LoggedIn   bool      `json:"logged_in"`
	LastPoll   time.Time `json:"last_poll"`
	LastError  string    `json:"last_error,omitempty"`
	PollCount  int64     `json:"poll_count"`
	FailCount  int64     `json:"fail_count"`
	AlertCount int       `json:"alert_count"`
	LoginCount int       `json:"login_count"`
}

// Client talks to one ZVM REST API
type Client struct {
	source *types.Source
	cfg    ClientConfig
	http   *http.Client
	logger zerolog.Logger

	mu     sync.RWMutex
	health SourceHealth
}

// NewClient creates a client for src
func NewClient(src *types.Source, cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.LoginRetries < 0 {
		cfg.LoginRetries = defaultLoginRetries
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = defaultBackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}

	return &Client{
		source: src,
		cfg:    cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // ZVMs ship self-signed certificates
				},
			},
		},
		logger: logger.With().Str("source", src.Label).Logger(),
	}
}

// Source returns the ZVM this client polls
func (c *Client) Source() *types.Source {
	return c.source
}

// Health returns the current health status
func (c *Client) Health() SourceHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Login opens a session with the ZVM, retrying transient failures with
// exponential backoff. Rejected credentials are not retried.
func (c *Client) Login(ctx context.Context) error {
	if c.source.Address == "" {
		return errors.New("zvm address is required")
	}
	if c.source.Username == "" || c.source.Password == "" {
		return errors.New("zvm login credentials are required")
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.BackoffInitial
	eb.MaxInterval = c.cfg.BackoffMax
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.LoginRetries)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := c.loginOnce(ctx)
		if errors.Is(err, ErrUnauthorized) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("ZVM login failed, retrying")
	}

	err := backoff.RetryNotify(op, policy, notify)

	c.mu.Lock()
	c.health.LoggedIn = err == nil
	if err != nil {
		c.health.LastError = err.Error()
	} else {
		c.health.LoginCount++
	}
	c.mu.Unlock()

	if err != nil {
		c.source.SetToken("")
		return fmt.Errorf("login to %s: %w", c.source.Label, err)
	}

	c.logger.Info().Str("address", c.source.Address).Msg("Auth success")
	return nil
}

func (c *Client) loginOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.source.BaseURL()+loginPath, bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.SetBasicAuth(c.source.Username, c.source.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("zvm returned HTTP %d", resp.StatusCode)
	}

	token := resp.Header.Get(sessionHeader)
	if token == "" {
		return fmt.Errorf("zvm response carried no %s header", sessionHeader)
	}
	c.source.SetToken(token)
	return nil
}

// Alerts fetches the current alert snapshot. A missing or expired session is
// renewed once before the fetch is reported as failed.
func (c *Client) Alerts(ctx context.Context) ([]*types.Alert, error) {
	alerts, err := c.fetchWithSession(ctx)

	c.mu.Lock()
	c.health.LastPoll = time.Now()
	c.health.PollCount++
	if err != nil {
		c.health.FailCount++
		c.health.LastError = err.Error()
	} else {
		c.health.LastError = ""
		c.health.AlertCount = len(alerts)
	}
	c.mu.Unlock()

	return alerts, err
}

func (c *Client) fetchWithSession(ctx context.Context) ([]*types.Alert, error) {
	if c.source.Token() == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	alerts, err := c.fetch(ctx)
	if !errors.Is(err, ErrUnauthorized) {
		return alerts, err
	}

	c.logger.Info().Msg("Session rejected, logging in again")
	c.source.SetToken("")
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	return c.fetch(ctx)
}

func (c *Client) fetch(ctx context.Context) ([]*types.Alert, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.source.BaseURL()+alertsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(sessionHeader, c.source.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("zvm returned HTTP %d", resp.StatusCode)
	}

	alerts, err := DecodeAlerts(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Int("alert_count", len(alerts)).Msg("Alerts received")
	return alerts, nil
}

// DecodeAlerts converts a /v1/alerts response body into alert records.
// A JSON null body is an empty snapshot; null entries are kept so the cache
// can account for them.
func DecodeAlerts(body []byte) ([]*types.Alert, error) {
	var alerts []*types.Alert
	if err := json.Unmarshal(body, &alerts); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	if alerts == nil {
		alerts = []*types.Alert{}
	}
	return alerts, nil
}
