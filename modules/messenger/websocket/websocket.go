// Package websocket provides the messenger.websocket module: a DM relay
// that external bridges (for example a Nostr relay client) connect to over
// WebSocket. Outgoing notifications are handed to a bridge; incoming
// subscription notices are applied to the subscription ledger.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/security"
	"github.com/flemzord/nutsub/internal/subscription"
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
	_ core.Stopper      = (*Module)(nil)
)

// Module is the messenger.websocket module.
type Module struct {
	config Config
	appCtx *core.AppContext
	logger *slog.Logger
	hub    *Hub
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "messenger.websocket",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("messenger.websocket: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.appCtx = ctx
	m.logger = ctx.Logger

	// Both are optional: the app registers them, tests may not.
	limiter, _ := core.Service[*security.RateLimiter](ctx, core.ServiceLimiter)
	audit, _ := core.Service[*security.AuditLogger](ctx, core.ServiceAudit)

	m.hub = NewHub(m.config, m.logger, limiter, audit)
	ctx.RegisterService(core.ServiceMessenger, m.hub)
	ctx.RegisterService(core.ServiceDMHandler, http.Handler(m.hub))
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter. Incoming notices are applied to the
// ledger registered by the ledger module.
func (m *Module) Start() error {
	store, err := core.Service[ledger.Store](m.appCtx, core.ServiceStore)
	if err != nil {
		return fmt.Errorf("messenger.websocket: %w", err)
	}
	l := subscription.NewLedger(store,
		subscription.WithLogger(m.logger),
		subscription.WithIdentity(m.config.Npub),
	)
	m.hub.SetHandler(l.HandleMessage)

	m.logger.Info("DM relay started",
		"max_connections", m.config.MaxConnections,
		"ack_timeout", m.config.AckTimeout,
	)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.hub != nil {
		m.hub.Close()
	}
	return nil
}

// Hub returns the relay hub.
func (m *Module) Hub() *Hub {
	return m.hub
}
