package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/nutsub/internal/bus"
)

// ErrBusy is returned by RunNow when a pass is already in progress.
var ErrBusy = errors.New("cron: job already running")

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Schedule re-arms the job after the immediate pass. Required.
	Schedule Schedule

	// Bus and TriggerTopic wire an out-of-band "run now" signal. Both are
	// optional.
	Bus          *bus.Bus
	TriggerTopic string

	Logger *slog.Logger
}

// Worker owns the timer, trigger subscription and cancellation of one job.
// Start runs an immediate pass and then one per scheduled tick or trigger.
// Passes never overlap: ticks that arrive while a pass runs are coalesced
// into at most one follow-up pass.
type Worker struct {
	job    Job
	opts   WorkerOptions
	logger *slog.Logger

	// run serializes passes; RunNow uses TryLock on it.
	run sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	detach  func()
	cancel  context.CancelFunc
	started bool
}

// NewWorker creates a stopped worker for job.
func NewWorker(job Job, opts WorkerOptions) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		job:    job,
		opts:   opts,
		logger: logger.With("job", job.Name()),
	}
}

// Name returns the job name.
func (w *Worker) Name() string { return w.job.Name() }

// Start arms the schedule, attaches the trigger and kicks off one
// immediate pass.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("cron: worker %q already started", w.job.Name())
	}
	if w.opts.Schedule == nil {
		return fmt.Errorf("cron: worker %q has no schedule", w.job.Name())
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.kick = make(chan struct{}, 1)
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	var events <-chan bus.Event
	w.detach = func() {}
	if w.opts.Bus != nil && w.opts.TriggerTopic != "" {
		events, w.detach = w.opts.Bus.Subscribe(w.opts.TriggerTopic)
	}

	w.cron = cron.New()
	w.cron.Schedule(w.opts.Schedule, cron.FuncJob(w.Trigger))

	go w.loop(ctx, w.kick, w.stop, w.done, events)

	w.kick <- struct{}{}
	w.cron.Start()
	w.started = true

	w.logger.Info("cron: worker started")
	return nil
}

// Trigger requests a pass as soon as the current one, if any, completes.
// It never blocks and is a no-op on a stopped worker.
func (w *Worker) Trigger() {
	w.mu.Lock()
	kick := w.kick
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}

// RunNow runs one pass synchronously on the caller's goroutine. It returns
// ErrBusy when a pass is in progress.
func (w *Worker) RunNow(ctx context.Context) error {
	if !w.run.TryLock() {
		return ErrBusy
	}
	defer w.run.Unlock()
	return w.job.Run(ctx)
}

// Stop disarms the schedule and detaches the trigger. A pass in progress
// is allowed to finish; if ctx expires first its context is cancelled and
// ctx.Err() is returned.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	c, detach, stop, done, cancel := w.cron, w.detach, w.stop, w.done, w.cancel
	w.mu.Unlock()

	// Scheduled callbacks take w.mu, so the lock must be released before
	// waiting on them.
	<-c.Stop().Done()
	detach()
	close(stop)

	select {
	case <-done:
		cancel()
		w.logger.Info("cron: worker stopped")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context, kick <-chan struct{}, stop <-chan struct{}, done chan<- struct{}, events <-chan bus.Event) {
	defer close(done)
	for {
		// A pending stop wins over queued work.
		select {
		case <-stop:
			return
		default:
		}

		select {
		case <-stop:
			return
		case <-kick:
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.logger.Debug("cron: triggered out of band")
		}
		w.pass(ctx)
	}
}

func (w *Worker) pass(ctx context.Context) {
	w.run.Lock()
	defer w.run.Unlock()

	w.logger.Debug("cron: job started")
	if err := w.job.Run(ctx); err != nil {
		w.logger.Error("cron: job failed", "error", err)
		return
	}
	w.logger.Debug("cron: job completed")
}
