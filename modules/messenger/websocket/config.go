package websocket

import (
	"errors"
	"time"

	"github.com/flemzord/nutsub/internal/security"
)

const (
	defaultAckTimeout     = 10 * time.Second
	defaultMaxConnections = 4
	helloTimeout          = 10 * time.Second
)

// Config holds the messenger.websocket module configuration.
type Config struct {
	// Tokens authenticate DM bridge connections.
	Tokens []string `yaml:"tokens"`

	// Npub is the node's own identity, used as recipient when an incoming
	// message does not name one.
	Npub string `yaml:"npub"`

	// AckTimeout bounds how long SendDM waits for the bridge.
	AckTimeout time.Duration `yaml:"ack_timeout"`

	// MaxConnections caps concurrent bridge connections.
	MaxConnections int `yaml:"max_connections"`

	// MaxMessageSize caps one frame in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

func (c *Config) defaults() {
	if c.AckTimeout == 0 {
		c.AckTimeout = defaultAckTimeout
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = security.DefaultMaxMessageSize
	}
}

func (c *Config) validate() error {
	if len(c.Tokens) == 0 {
		return errors.New("messenger.websocket: at least one token is required")
	}
	for _, t := range c.Tokens {
		if t == "" {
			return errors.New("messenger.websocket: tokens must not be empty")
		}
	}
	if c.AckTimeout < 0 {
		return errors.New("messenger.websocket: ack_timeout must not be negative")
	}
	return nil
}
