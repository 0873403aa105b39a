package gateway

import (
	"fmt"
	"net"
	"time"

	"github.com/flemzord/nutsub/internal/security"
)

const (
	defaultBind         = "127.0.0.1:8080"
	defaultMaxBodyBytes = 64 << 10
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind     string                      `yaml:"bind"`
	Auth     AuthConfig                  `yaml:"auth"`
	Webhooks map[string]WebhookSourceCfg `yaml:"webhooks" validate:"dive,keys,eq=dm,endkeys,required"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes caps JSON request bodies on the admin API.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// DisableMetrics removes the /metrics endpoint.
	DisableMetrics bool `yaml:"disable_metrics"`
}

func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = defaultBind
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
}

func (c *Config) validate() error {
	if _, err := net.ResolveTCPAddr("tcp", c.Bind); err != nil {
		return fmt.Errorf("gateway: invalid bind address %q: %w", c.Bind, err)
	}
	if err := security.ValidateStruct(c); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// AuthConfig configures authentication for admin endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user" validate:"required_with=BasicPass"`
	BasicPass   string `yaml:"basic_pass" validate:"required_with=BasicUser"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// WebhookSourceCfg holds per-source webhook configuration. Secret is the
// HMAC-SHA256 key the relay signs request bodies with.
type WebhookSourceCfg struct {
	Secret string `yaml:"secret" validate:"required"`
}
