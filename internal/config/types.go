package config

import (
	"os"
	"time"
)

// Config represents the complete zerto-slack configuration
type Config struct {
	General GeneralConfig `yaml:"general"`
	Slack   SlackConfig   `yaml:"slack"`
	Zerto   []ZVMConfig   `yaml:"zerto"`
	API     APIConfig     `yaml:"api"`
	NATS    NATSConfig    `yaml:"nats,omitempty"`
}

// GeneralConfig contains global settings
type GeneralConfig struct {
	Interval     time.Duration `yaml:"interval"`
	LogLevel     string        `yaml:"log_level,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	LoginRetries *int          `yaml:"login_retries,omitempty"`
}

// Retries returns the login retry budget; zero disables retrying
func (g GeneralConfig) Retries() int {
	if g.LoginRetries == nil {
		return DefaultLoginRetries
	}
	return *g.LoginRetries
}

// SlackConfig defines the Slack incoming webhook
type SlackConfig struct {
	WebhookURI    string        `yaml:"webhook_uri,omitempty"`
	WebhookURIEnv string        `yaml:"webhook_uri_env,omitempty"`
	RatePerSecond float64       `yaml:"rate_per_second,omitempty"`
	QueueSize     int           `yaml:"queue_size,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// WebhookURL returns the literal webhook or the one named by WebhookURIEnv
func (s SlackConfig) WebhookURL() string {
	if s.WebhookURI != "" {
		return s.WebhookURI
	}
	if s.WebhookURIEnv != "" {
		return os.Getenv(s.WebhookURIEnv)
	}
	return ""
}

// ZVMConfig defines a Zerto Virtual Manager to poll
type ZVMConfig struct {
	Label       string `yaml:"label"`
	Address     string `yaml:"address"`
	Port        int    `yaml:"port,omitempty"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty"`
	VerifyTLS   bool   `yaml:"verify_tls,omitempty"`
}

// ResolvePassword returns the literal password or the one named by PasswordEnv
func (z ZVMConfig) ResolvePassword() string {
	if z.Password != "" {
		return z.Password
	}
	if z.PasswordEnv != "" {
		return os.Getenv(z.PasswordEnv)
	}
	return ""
}

// APIConfig defines the HTTP API and gRPC health listeners
type APIConfig struct {
	Port     int `yaml:"port,omitempty"`
	GRPCPort int `yaml:"grpc_port,omitempty"`
}

// NATSConfig enables publishing change events to NATS when URL is set
type NATSConfig struct {
	URL           string `yaml:"url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// Enabled reports whether events should be published to NATS
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}
