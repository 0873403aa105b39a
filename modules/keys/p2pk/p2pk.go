// Package p2pk provides the keys.p2pk module: the key ring that resolves
// which private key unlocks a P2PK-locked subscription token.
package p2pk

import (
	"fmt"
	"log/slog"

	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/p2pk"
	"github.com/flemzord/nutsub/internal/redeem"
	"github.com/flemzord/nutsub/internal/security"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ redeem.KeyResolver = (*p2pk.KeyRing)(nil)
	_ core.Configurable  = (*Module)(nil)
	_ core.Provisioner   = (*Module)(nil)
	_ core.Validator     = (*Module)(nil)
	_ core.Reloader      = (*Module)(nil)
)

// Module loads private keys into a p2pk.KeyRing and publishes it as the
// keys.resolver service.
type Module struct {
	config   Config
	ring     *p2pk.KeyRing
	redactor *security.Redactor
	logger   *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "keys.p2pk",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("p2pk: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	m.ring = p2pk.NewKeyRing()
	if r, err := core.Service[*security.Redactor](ctx, core.ServiceRedactor); err == nil {
		m.redactor = r
	}

	if err := m.load(m.config); err != nil {
		return err
	}

	ctx.RegisterService(core.ServiceKeys, m.ring)
	m.logger.Info("p2pk keys loaded", "count", m.ring.Len(), "pubkeys", m.ring.PublicKeys())
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if m.ring.Len() == 0 {
		return fmt.Errorf("p2pk: no usable private key configured")
	}
	return nil
}

// Reload implements core.Reloader. New keys are added to the ring; keys
// removed from the configuration stay loaded until restart so tokens
// already in flight keep their signer.
func (m *Module) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig("keys.p2pk")
	if !ok {
		return nil
	}
	var cfg Config
	if err := node.Decode(&cfg); err != nil {
		return fmt.Errorf("p2pk: decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	before := m.ring.Len()
	if err := m.load(cfg); err != nil {
		return err
	}
	m.config = cfg
	if added := m.ring.Len() - before; added > 0 {
		m.logger.Info("p2pk keys added", "count", added)
	}
	return nil
}

func (m *Module) load(cfg Config) error {
	keys, err := cfg.keys()
	if err != nil {
		return err
	}
	for i, k := range keys {
		if m.redactor != nil {
			m.redactor.AddLiteral(k)
		}
		if _, err := m.ring.Add(k); err != nil {
			return fmt.Errorf("p2pk: key %d: %w", i, err)
		}
	}
	return nil
}

// Ring returns the loaded key ring.
func (m *Module) Ring() *p2pk.KeyRing {
	return m.ring
}
