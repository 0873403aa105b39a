package sqlite

import (
	"fmt"
	"net/url"
	"time"
)

const (
	defaultBusyTimeout = 5 * time.Second
	defaultDBFile      = "nutsub.db"
)

// Config is the ledger.sqlite node.
type Config struct {
	// Path defaults to {DataDir}/nutsub.db.
	Path string `yaml:"path"`

	// WAL selects the write-ahead journal; nil means on.
	WAL *bool `yaml:"wal"`

	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

func (c *Config) defaults() {
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must not be negative, got %s", c.BusyTimeout)
	}
	return nil
}

// dsn builds a modernc.org/sqlite DSN whose pragmas apply to every
// connection the pool opens.
func (c *Config) dsn() string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	if c.walEnabled() {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + c.Path + "?" + q.Encode()
}
