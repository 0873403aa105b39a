package bridge

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/flemzord/nutsub/internal/security"
)

// Config holds the configuration of the wallet daemon bridge.
type Config struct {
	// URL is the base URL of the wallet daemon HTTP API.
	URL string `yaml:"url"`

	// APIKey is sent as a bearer token when set.
	APIKey string `yaml:"api_key"`

	// Timeout bounds every daemon call. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout"`

	// Mints restricts which mints the bridge talks to.
	Mints security.MintFilterConfig `yaml:"mints"`
}

func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	c.URL = strings.TrimRight(c.URL, "/")
}

func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("wallet.bridge: url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("wallet.bridge: url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("wallet.bridge: url scheme must be http or https, got %q", u.Scheme)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("wallet.bridge: timeout must not be negative")
	}
	return nil
}
