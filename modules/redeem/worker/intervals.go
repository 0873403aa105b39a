package worker

import (
	"context"

	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/cron"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/redeem"
	"gopkg.in/yaml.v3"
)

// Compile-time interface guards.
var (
	_ core.Configurable = (*Intervals)(nil)
	_ core.Provisioner  = (*Intervals)(nil)
	_ core.Validator    = (*Intervals)(nil)
	_ core.Starter      = (*Intervals)(nil)
	_ core.Stopper      = (*Intervals)(nil)
	_ core.Reloader     = (*Intervals)(nil)
	_ core.Runner       = (*Intervals)(nil)
)

// Intervals matures subscription intervals and redeems the unlockable ones.
// Both passes run in one job so an interval can mature and be redeemed in
// the same tick.
type Intervals struct {
	base
}

// ModuleInfo implements core.Module.
func (m *Intervals) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "redeem.intervals",
		New: func() core.Module { return newIntervals() },
	}
}

func newIntervals() *Intervals {
	return &Intervals{base: base{
		id: "redeem.intervals",
		build: func(store ledger.Store, deps redeem.Deps, cfg redeem.Config) []cron.Job {
			return []cron.Job{sequence{
				name: "intervals",
				jobs: []cron.Job{
					redeem.NewMaturityJob(store, deps, cfg),
					redeem.NewIntervalRedeemer(store, deps, cfg),
				},
			}}
		},
	}}
}

// Configure implements core.Configurable.
func (m *Intervals) Configure(node *yaml.Node) error { return m.configure(node) }

// Provision implements core.Provisioner.
func (m *Intervals) Provision(ctx *core.AppContext) error { return m.provision(ctx) }

// Validate implements core.Validator.
func (m *Intervals) Validate() error { return m.config.validate() }

// Start implements core.Starter.
func (m *Intervals) Start() error { return m.start() }

// Stop implements core.Stopper.
func (m *Intervals) Stop(ctx context.Context) error { return m.stop(ctx) }

// Reload implements core.Reloader.
func (m *Intervals) Reload(ctx *core.AppContext) error { return m.reload(ctx) }

// RunOnce implements core.Runner.
func (m *Intervals) RunOnce(ctx context.Context) error { return m.runOnce(ctx) }

// sequence runs its jobs one after another and stops at the first error.
type sequence struct {
	name string
	jobs []cron.Job
}

func (s sequence) Name() string { return s.name }

func (s sequence) Run(ctx context.Context) error {
	for _, job := range s.jobs {
		if err := job.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}
