package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/nutsub/internal/bus"
	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/cron"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/redeem"
	"gopkg.in/yaml.v3"
)

const stopTimeout = 30 * time.Second

// jobsFunc builds the jobs of a module from its resolved collaborators.
type jobsFunc func(store ledger.Store, deps redeem.Deps, cfg redeem.Config) []cron.Job

// base is the lifecycle shared by both worker modules.
type base struct {
	id     core.ModuleID
	build  jobsFunc
	config Config
	appCtx *core.AppContext
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []cron.Job
	workers []*cron.Worker
	signals *bus.Bus
}

func (b *base) configure(node *yaml.Node) error {
	if err := node.Decode(&b.config); err != nil {
		return fmt.Errorf("%s: decode config: %w", b.id, err)
	}
	b.config.defaults()
	return nil
}

func (b *base) provision(ctx *core.AppContext) error {
	b.config.defaults()
	b.appCtx = ctx
	b.logger = ctx.Logger
	return nil
}

// prepare resolves the collaborators and builds the jobs once.
func (b *base) prepare() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.jobs != nil {
		return nil
	}

	ctx := b.appCtx
	var errs []error
	store, err := core.Service[ledger.Store](ctx, core.ServiceStore)
	errs = append(errs, err)
	wallets, err := core.Service[redeem.WalletProvider](ctx, core.ServiceWallets)
	errs = append(errs, err)
	keysets, err := core.Service[redeem.KeysetSource](ctx, core.ServiceKeysets)
	errs = append(errs, err)
	counters, err := core.Service[redeem.CounterStore](ctx, core.ServiceCounters)
	errs = append(errs, err)
	proofs, err := core.Service[redeem.ProofStore](ctx, core.ServiceProofs)
	errs = append(errs, err)
	history, err := core.Service[redeem.PaymentHistory](ctx, core.ServiceHistory)
	errs = append(errs, err)
	keys, err := core.Service[redeem.KeyResolver](ctx, core.ServiceKeys)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s: %w", b.id, err)
	}

	deps := redeem.Deps{
		Wallets:  wallets,
		Counters: redeem.NewKeysetCounters(keysets, counters),
		Proofs:   proofs,
		Keys:     keys,
		History:  history,
		Logger:   b.logger,
	}
	if m, err := core.Service[redeem.Messenger](ctx, core.ServiceMessenger); err == nil {
		deps.Messenger = m
	}
	if sig, err := core.Service[*bus.Bus](ctx, core.ServiceSignals); err == nil {
		deps.Signals = sig
		b.signals = sig
	}

	cfg := redeem.Config{
		StaleAfter:  b.config.StaleAfter,
		MaxAttempts: b.config.MaxAttempts,
	}
	if auto, err := core.Service[*atomic.Bool](ctx, core.ServiceAutoRedeem); err == nil {
		cfg.Enabled = auto.Load
	}

	b.jobs = b.build(store, deps, cfg)
	return nil
}

func (b *base) start() error {
	if err := b.prepare(); err != nil {
		return err
	}
	sched, err := cron.ParseSchedule(b.config.Schedule)
	if err != nil {
		return fmt.Errorf("%s: %w", b.id, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, job := range b.jobs {
		w := cron.NewWorker(job, cron.WorkerOptions{
			Schedule:     sched,
			Bus:          b.signals,
			TriggerTopic: bus.TopicRedeemTrigger,
			Logger:       b.logger,
		})
		if err := w.Start(); err != nil {
			return fmt.Errorf("%s: %w", b.id, err)
		}
		b.workers = append(b.workers, w)
	}
	b.logger.Info("redemption worker started", "schedule", b.config.Schedule)
	return nil
}

func (b *base) stop(ctx context.Context) error {
	b.mu.Lock()
	workers := b.workers
	b.workers = nil
	b.mu.Unlock()

	var errs []error
	for _, w := range workers {
		errs = append(errs, w.Stop(ctx))
	}
	return errors.Join(errs...)
}

// reload applies a changed configuration by rebuilding the jobs and
// restarting the workers.
func (b *base) reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig(b.id)
	if !ok {
		return nil
	}
	var cfg Config
	if err := node.Decode(&cfg); err != nil {
		return fmt.Errorf("%s: decode config: %w", b.id, err)
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	if cfg == b.config {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := b.stop(stopCtx); err != nil {
		return err
	}

	b.mu.Lock()
	b.config = cfg
	b.jobs = nil
	b.mu.Unlock()

	b.logger.Info("redemption worker reloaded", "schedule", cfg.Schedule)
	return b.start()
}

// runOnce runs every job once, in order, without starting the workers.
func (b *base) runOnce(ctx context.Context) error {
	if err := b.prepare(); err != nil {
		return err
	}
	b.mu.Lock()
	jobs := b.jobs
	b.mu.Unlock()

	var errs []error
	for _, job := range jobs {
		if err := job.Run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	return errors.Join(errs...)
}
