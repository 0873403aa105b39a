package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DotEnvFile is read from the config file's directory before expansion.
const DotEnvFile = ".env"

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// lookupFunc resolves one variable name.
type lookupFunc func(name string) (string, bool)

// Load reads the YAML file at path, expands variable references and
// decodes it. Variables come from the process environment, then from the
// .env file next to the config. The .env file is re-read on every call so
// a reload picks up its edits.
func Load(path string) (*Config, error) {
	dotenv, err := readDotEnv(filepath.Join(filepath.Dir(path), DotEnvFile))
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expand(raw, func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := dotenv[name]
		return v, ok
	})
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// expand substitutes every reference in raw. A reference with neither a
// value nor a fallback is an error; all of them are reported together.
func expand(raw []byte, lookup lookupFunc) ([]byte, error) {
	var missing []error
	out := envRef.ReplaceAllFunc(raw, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		if v, ok := lookup(string(m[1])); ok {
			return []byte(v)
		}
		if m[2] != nil {
			return m[2]
		}
		missing = append(missing, fmt.Errorf("unresolved variable: %s", m[1]))
		return ref
	})
	return out, errors.Join(missing...)
}

func readDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return vars, nil
}
