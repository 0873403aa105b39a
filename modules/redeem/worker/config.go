package worker

import (
	"fmt"
	"time"

	"github.com/flemzord/nutsub/internal/cron"
)

const defaultSchedule = "60s"

// Config holds the configuration shared by the redemption worker modules.
type Config struct {
	// Schedule is a Go duration ("60s") or a cron expression. Defaults
	// to 60s.
	Schedule string `yaml:"schedule"`

	// StaleAfter is how long a claim may stay in processing before it is
	// retried. Defaults to 10m.
	StaleAfter time.Duration `yaml:"stale_after"`

	// MaxAttempts parks a token as stuck after that many failed mint
	// receives. Defaults to 5.
	MaxAttempts int `yaml:"max_attempts"`
}

func (c *Config) defaults() {
	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
}

func (c *Config) validate() error {
	if _, err := cron.ParseSchedule(c.Schedule); err != nil {
		return fmt.Errorf("redeem: %w", err)
	}
	if c.StaleAfter < 0 {
		return fmt.Errorf("redeem: stale_after must not be negative")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("redeem: max_attempts must not be negative")
	}
	return nil
}
