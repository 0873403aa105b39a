// Package worker provides the redeem.locked_tokens and redeem.intervals
// modules: scheduled workers that redeem matured subscription tokens into
// the wallet.
package worker

import (
	"context"

	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/cron"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/redeem"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&LockedTokens{})
	core.RegisterModule(&Intervals{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*LockedTokens)(nil)
	_ core.Provisioner  = (*LockedTokens)(nil)
	_ core.Validator    = (*LockedTokens)(nil)
	_ core.Starter      = (*LockedTokens)(nil)
	_ core.Stopper      = (*LockedTokens)(nil)
	_ core.Reloader     = (*LockedTokens)(nil)
	_ core.Runner       = (*LockedTokens)(nil)
)

// LockedTokens redeems due locked-token rows on a schedule.
type LockedTokens struct {
	base
}

// ModuleInfo implements core.Module.
func (m *LockedTokens) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "redeem.locked_tokens",
		New: func() core.Module { return newLockedTokens() },
	}
}

func newLockedTokens() *LockedTokens {
	return &LockedTokens{base: base{
		id: "redeem.locked_tokens",
		build: func(store ledger.Store, deps redeem.Deps, cfg redeem.Config) []cron.Job {
			return []cron.Job{redeem.NewLockedTokenRedeemer(store, deps, cfg)}
		},
	}}
}

// Configure implements core.Configurable.
func (m *LockedTokens) Configure(node *yaml.Node) error { return m.configure(node) }

// Provision implements core.Provisioner.
func (m *LockedTokens) Provision(ctx *core.AppContext) error { return m.provision(ctx) }

// Validate implements core.Validator.
func (m *LockedTokens) Validate() error { return m.config.validate() }

// Start implements core.Starter.
func (m *LockedTokens) Start() error { return m.start() }

// Stop implements core.Stopper.
func (m *LockedTokens) Stop(ctx context.Context) error { return m.stop(ctx) }

// Reload implements core.Reloader.
func (m *LockedTokens) Reload(ctx *core.AppContext) error { return m.reload(ctx) }

// RunOnce implements core.Runner.
func (m *LockedTokens) RunOnce(ctx context.Context) error { return m.runOnce(ctx) }
