// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for nutsub.
package config

import (
	"github.com/flemzord/nutsub/internal/security"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir overrides the --data-dir flag when set.
	DataDir string `yaml:"data_dir,omitempty"`

	// AutoRedeem is the global switch of the redemption workers. Defaults
	// to true; it can be flipped at runtime by a config reload.
	AutoRedeem *bool `yaml:"auto_redeem,omitempty"`

	// Security holds node-wide rate limits and the audit log destination.
	Security *SecurityConfig `yaml:"security,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "ledger.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// AutoRedeemEnabled reports the effective value of AutoRedeem.
func (c *Config) AutoRedeemEnabled() bool {
	return c.AutoRedeem == nil || *c.AutoRedeem
}

// SecurityConfig configures the shared security services.
type SecurityConfig struct {
	RateLimits security.RateLimitConfig `yaml:"rate_limits"`

	// AuditLog is a JSONL file receiving audit events. Relative paths are
	// resolved against the data directory. Empty disables the file sink.
	AuditLog string `yaml:"audit_log,omitempty"`
}
