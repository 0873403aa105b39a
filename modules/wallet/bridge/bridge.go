// Package bridge provides the wallet.bridge module. It reaches mints
// through an external wallet daemon over HTTP: receiving locked tokens,
// minting the time-locked outputs of new subscriptions and looking up
// active keysets.
package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/nutsub/internal/core"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
)

// Module is the wallet.bridge module.
type Module struct {
	config Config
	client *Client
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "wallet.bridge",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("wallet.bridge: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	m.client = NewClient(m.config, m.logger)

	ctx.RegisterService(core.ServiceWallets, m.client)
	ctx.RegisterService(core.ServiceMinter, m.client)
	ctx.RegisterService(core.ServiceKeysets, m.client)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter. An unreachable daemon is logged, not
// fatal: redemption passes retry on their own schedule.
func (m *Module) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	defer cancel()

	if err := m.client.Ping(ctx); err != nil {
		m.logger.Warn("wallet daemon not reachable", "url", m.config.URL, "error", err)
		return nil
	}
	m.logger.Info("wallet daemon connected", "url", m.config.URL)
	return nil
}

// Client returns the daemon client.
func (m *Module) Client() *Client {
	return m.client
}
