package config

import (
	"maps"
	"slices"
)

// Resolve lists the configured module IDs in load order, which is ID
// order. Cross-module services are resolved in Start, not Provision.
func Resolve(cfg *Config) []string {
	return slices.Sorted(maps.Keys(cfg.Modules))
}
