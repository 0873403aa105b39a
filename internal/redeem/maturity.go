package redeem

import (
	"context"
	"fmt"
	"time"

	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/metrics"
)

// MaturityWorker is the job name of the maturity job.
const MaturityWorker = "interval_maturity"

// MaturityReport summarises one maturity pass.
type MaturityReport struct {
	// Matured counts intervals flipped from pending to unlockable.
	Matured int
	// Released counts stale processing intervals handed back to the
	// interval redeemer.
	Released int
}

// MaturityJob flips matured pending intervals to unlockable so the interval
// redeemer picks them up. Intervals left in processing longer than the
// stale window by a crashed pass are made unlockable again.
type MaturityJob struct {
	engine
}

// NewMaturityJob creates a maturity job over store. Only Logger, Clock and
// Tracer of deps are used.
func NewMaturityJob(store ledger.Store, deps Deps, cfg Config) *MaturityJob {
	return &MaturityJob{
		engine: newEngine(store, deps, cfg, MaturityWorker),
	}
}

// Name implements cron.Job.
func (j *MaturityJob) Name() string { return MaturityWorker }

// Run implements cron.Job.
func (j *MaturityJob) Run(ctx context.Context) error {
	report, err := j.Advance(ctx)
	if report.Matured > 0 || report.Released > 0 {
		j.logger.Info("redeem: intervals advanced", "matured", report.Matured, "released", report.Released)
	}
	return err
}

// Advance runs one pass in a single transaction.
func (j *MaturityJob) Advance(ctx context.Context) (MaturityReport, error) {
	var report MaturityReport
	started := time.Now()
	defer metrics.ObservePass(MaturityWorker, started)

	ctx, span := j.tracer.Start(ctx, "redeem.advance_intervals")
	defer span.End()

	now := j.now()
	stale := now.Add(-j.cfg.StaleAfter)
	err := j.store.Update(ctx, func(tx ledger.Tx) error {
		report = MaturityReport{}
		subs, err := tx.Subscriptions().List(ctx)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			changed := false
			for i := range sub.Intervals {
				iv := &sub.Intervals[i]
				switch {
				case iv.Status == ledger.IntervalPending && !iv.UnlockAt.After(now) && sub.Redeemable(*iv):
					iv.Status = ledger.IntervalUnlockable
					report.Matured++
					changed = true
				case iv.Status == ledger.IntervalProcessing && staleSince(iv.ProcessingSince, stale):
					iv.Status = ledger.IntervalUnlockable
					iv.ProcessingSince = nil
					report.Released++
					changed = true
				}
			}
			if !changed {
				continue
			}
			sub.UpdatedAt = now
			if err := tx.Subscriptions().Put(ctx, sub); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return MaturityReport{}, fmt.Errorf("redeem: advance intervals: %w", err)
	}
	metrics.MaturedIntervals.Add(float64(report.Matured))
	return report, nil
}
