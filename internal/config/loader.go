package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zertoslack/zertoslack/internal/types"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Defaults applied when fields are absent from the config file
const (
	DefaultInterval      = 60 * time.Second
	DefaultTimeout       = 30 * time.Second
	DefaultLoginRetries  = 3
	DefaultAPIPort       = 8088
	DefaultGRPCPort      = 9090
	DefaultSlackRate     = 1.0
	DefaultQueueSize     = 256
	DefaultSubjectPrefix = "zerto.alerts"
)

// ErrNoSources is reported when no ZVM is configured
var ErrNoSources = errors.New("at least one Zerto ZVM server must be provided in config file")

// LoadConfig loads and validates the configuration file at path
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	applyDefaults(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.Interval == 0 {
		cfg.General.Interval = DefaultInterval
	}
	if cfg.General.Timeout == 0 {
		cfg.General.Timeout = DefaultTimeout
	}
	if cfg.General.LoginRetries == nil {
		retries := DefaultLoginRetries
		cfg.General.LoginRetries = &retries
	}
	if cfg.Slack.RatePerSecond == 0 {
		cfg.Slack.RatePerSecond = DefaultSlackRate
	}
	if cfg.Slack.QueueSize == 0 {
		cfg.Slack.QueueSize = DefaultQueueSize
	}
	if cfg.Slack.Timeout == 0 {
		cfg.Slack.Timeout = DefaultTimeout
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = DefaultAPIPort
	}
	if cfg.API.GRPCPort == 0 {
		cfg.API.GRPCPort = DefaultGRPCPort
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = DefaultSubjectPrefix
	}
	for i := range cfg.Zerto {
		if cfg.Zerto[i].Port == 0 {
			cfg.Zerto[i].Port = types.DefaultPort
		}
	}
}

// ValidateConfig reports every problem found in cfg, not just the first
func ValidateConfig(cfg *Config) error {
	var errs error

	if cfg.General.Interval < time.Second {
		errs = multierr.Append(errs, fmt.Errorf("general.interval must be at least 1s, got %s", cfg.General.Interval))
	}
	if cfg.General.LogLevel != "" {
		if _, err := zerolog.ParseLevel(cfg.General.LogLevel); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("general.log_level: %w", err))
		}
	}

	if cfg.General.Retries() < 0 {
		errs = multierr.Append(errs, fmt.Errorf("general.login_retries must not be negative, got %d", cfg.General.Retries()))
	}

	if cfg.Slack.WebhookURL() == "" {
		errs = multierr.Append(errs, errors.New("slack.webhook_uri or slack.webhook_uri_env is required"))
	} else if !strings.HasPrefix(cfg.Slack.WebhookURL(), "http://") && !strings.HasPrefix(cfg.Slack.WebhookURL(), "https://") {
		errs = multierr.Append(errs, errors.New("slack webhook must be an http(s) URL"))
	}
	if cfg.Slack.RatePerSecond < 0 {
		errs = multierr.Append(errs, errors.New("slack.rate_per_second must not be negative"))
	}

	if len(cfg.Zerto) == 0 {
		errs = multierr.Append(errs, ErrNoSources)
	}

	labels := make(map[string]bool, len(cfg.Zerto))
	for i, zvm := range cfg.Zerto {
		name := zvm.Label
		if name == "" {
			name = fmt.Sprintf("zerto[%d]", i)
			errs = multierr.Append(errs, fmt.Errorf("%s: label is required", name))
		} else if labels[name] {
			errs = multierr.Append(errs, fmt.Errorf("zvm %s: duplicate label", name))
		}
		labels[name] = true

		if zvm.Address == "" {
			errs = multierr.Append(errs, fmt.Errorf("zvm %s: address is required", name))
		}
		if zvm.Username == "" {
			errs = multierr.Append(errs, fmt.Errorf("zvm %s: username is required", name))
		}
		if zvm.Password == "" && zvm.PasswordEnv == "" {
			errs = multierr.Append(errs, fmt.Errorf("zvm %s: password or password_env is required", name))
		}
		if zvm.Port < 0 || zvm.Port > 65535 {
			errs = multierr.Append(errs, fmt.Errorf("zvm %s: port %d out of range", name, zvm.Port))
		}
	}

	return errs
}

// Sources builds one Source per configured ZVM, in file order
func (c *Config) Sources() []*types.Source {
	out := make([]*types.Source, 0, len(c.Zerto))
	for _, zvm := range c.Zerto {
		out = append(out, &types.Source{
			Label:    zvm.Label,
			Address:  zvm.Address,
			Port:     zvm.Port,
			Username: zvm.Username,
			Password: zvm.ResolvePassword(),
		})
	}
	return out
}

// SameSources reports whether two configs describe the same ZVM list
func SameSources(a, b *Config) bool {
	if len(a.Zerto) != len(b.Zerto) {
		return false
	}
	for i := range a.Zerto {
		if a.Zerto[i] != b.Zerto[i] {
			return false
		}
	}
	return true
}
