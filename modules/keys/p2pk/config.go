package p2pk

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Config holds the P2PK key module configuration.
type Config struct {
	// PrivateKeys are hex-encoded secp256k1 private keys, usually injected
	// through ${VAR} expansion.
	PrivateKeys []string `yaml:"private_keys"`

	// KeyFile is an optional file with one hex private key per line.
	// Blank lines and lines starting with '#' are ignored.
	KeyFile string `yaml:"key_file"`
}

func (c *Config) validate() error {
	if len(c.PrivateKeys) == 0 && c.KeyFile == "" {
		return errors.New("p2pk: private_keys or key_file is required")
	}
	return nil
}

// keys returns the configured keys followed by the keys of KeyFile.
func (c *Config) keys() ([]string, error) {
	out := make([]string, 0, len(c.PrivateKeys))
	for _, k := range c.PrivateKeys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	if c.KeyFile == "" {
		return out, nil
	}
	data, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("p2pk: read key_file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}
