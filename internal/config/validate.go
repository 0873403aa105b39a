package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/flemzord/nutsub/internal/core"
	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only config format version understood.
const SupportedVersion = "1"

// RequiredNamespaces are the module namespaces a runnable node needs: a
// ledger to persist subscriptions, a wallet to talk to mints and the keys
// that unlock P2PK tokens.
var RequiredNamespaces = []string{"ledger", "wallet", "keys"}

// Validate reports every structural problem of cfg at once: the version,
// module IDs unknown to the registry, module entries that are not
// mappings, and namespaces from required that no module provides.
func Validate(cfg *Config, required ...string) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	switch cfg.Version {
	case SupportedVersion:
	case "":
		fail("version field is required")
	default:
		fail("unsupported version %q (supported: %q)", cfg.Version, SupportedVersion)
	}

	if len(cfg.Modules) == 0 {
		fail("at least one module must be configured")
	}
	for _, id := range Resolve(cfg) {
		if _, ok := core.GetModule(id); !ok {
			fail("unknown module %q", id)
		} else if kind := cfg.Modules[id].Kind; kind != 0 && kind != yaml.MappingNode {
			fail("module %q: configuration must be a mapping", id)
		}
	}

	ids := slices.Collect(maps.Keys(cfg.Modules))
	for _, ns := range required {
		if !slices.ContainsFunc(ids, func(id string) bool { return strings.HasPrefix(id, ns+".") }) {
			fail("no %s.* module configured", ns)
		}
	}

	return errors.Join(errs...)
}
