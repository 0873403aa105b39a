// Package core provides the module system foundation for nutsub.
package core

import (
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"
)

// AppContext is what a module sees of the node: a scoped logger, the data
// directory, the module config nodes and the shared service table. Scoped
// copies share one service table.
type AppContext struct {
	Logger  *slog.Logger
	DataDir string

	root     *slog.Logger
	nodes    map[string]yaml.Node
	registry *serviceTable
}

type serviceTable struct {
	sync.RWMutex
	byName map[string]any
}

// NewAppContext returns a root context. A nil logger means slog.Default.
func NewAppContext(logger *slog.Logger, dataDir string) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{
		Logger:   logger,
		DataDir:  dataDir,
		root:     logger,
		registry: &serviceTable{byName: map[string]any{}},
	}
}

// RegisterService publishes svc under name, replacing any earlier entry.
func (ctx *AppContext) RegisterService(name string, svc any) {
	ctx.registry.Lock()
	ctx.registry.byName[name] = svc
	ctx.registry.Unlock()
}

// GetService looks up the service published under name.
func (ctx *AppContext) GetService(name string) (any, bool) {
	ctx.registry.RLock()
	defer ctx.registry.RUnlock()
	svc, ok := ctx.registry.byName[name]
	return svc, ok
}

// Service is GetService with a type assertion to T.
func Service[T any](ctx *AppContext, name string) (T, error) {
	var want T
	svc, ok := ctx.GetService(name)
	if !ok {
		return want, fmt.Errorf("service %s not registered", name)
	}
	if typed, ok := svc.(T); ok {
		return typed, nil
	}
	return want, fmt.Errorf("service %s has type %T, want %T", name, svc, want)
}

// WithModuleConfigs returns a copy of ctx reading module configuration
// from nodes, keyed by module ID.
func (ctx *AppContext) WithModuleConfigs(nodes map[string]yaml.Node) *AppContext {
	cp := *ctx
	cp.nodes = nodes
	return &cp
}

// ModuleConfig returns the configuration node of module id.
func (ctx *AppContext) ModuleConfig(id ModuleID) (yaml.Node, bool) {
	node, ok := ctx.nodes[string(id)]
	return node, ok
}

// ForModule returns a copy of ctx whose Logger carries module=id.
func (ctx *AppContext) ForModule(id ModuleID) *AppContext {
	cp := *ctx
	cp.Logger = ctx.root.With("module", string(id))
	return &cp
}

// LoadModule builds module id and runs, when implemented, Configure with
// its config node, Provision with a scoped context, then Validate.
func (ctx *AppContext) LoadModule(id string) (Module, error) {
	info, ok := GetModule(id)
	if !ok {
		return nil, fmt.Errorf("unknown module: %s", id)
	}
	mod := info.New()

	if c, ok := mod.(Configurable); ok {
		if node, ok := ctx.ModuleConfig(info.ID); ok {
			if err := c.Configure(&node); err != nil {
				return nil, fmt.Errorf("configuring module %s: %w", id, err)
			}
		}
	}
	if p, ok := mod.(Provisioner); ok {
		if err := p.Provision(ctx.ForModule(info.ID)); err != nil {
			return nil, fmt.Errorf("provisioning module %s: %w", id, err)
		}
	}
	if v, ok := mod.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("validating module %s: %w", id, err)
		}
	}
	return mod, nil
}
