package redeem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/nutsub/internal/bus"
	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/metrics"
	"github.com/flemzord/nutsub/internal/subscription"
)

// IntervalWorker is the job name of the interval redeemer.
const IntervalWorker = "interval_redeemer"

// errManual reports an interval whose token row opted out of automatic
// redemption.
var errManual = errors.New("redeem: token is redeemed manually")

// IntervalRedeemer treats the subscription table as the authority. Each
// pass redeems the unlockable intervals embedded in subscriptions and
// records the payments in the history.
type IntervalRedeemer struct {
	engine
}

// NewIntervalRedeemer creates a redeemer over store.
func NewIntervalRedeemer(store ledger.Store, deps Deps, cfg Config) *IntervalRedeemer {
	return &IntervalRedeemer{
		engine: newEngine(store, deps, cfg, IntervalWorker),
	}
}

// Name implements cron.Job.
func (r *IntervalRedeemer) Name() string { return IntervalWorker }

// Run implements cron.Job.
func (r *IntervalRedeemer) Run(ctx context.Context) error {
	report, err := r.Process(ctx)
	if len(report.Failures) > 0 {
		r.logger.Warn("redeem: pass finished with failures", "report", report.String(), "error", report.Err())
	} else if report.Scanned > 0 {
		r.logger.Info("redeem: pass finished", "report", report.String())
	}
	return err
}

type candidate struct {
	sub ledger.Subscription
	iv  ledger.Interval
}

// Process runs one pass over the unlockable, unredeemed intervals.
func (r *IntervalRedeemer) Process(ctx context.Context) (Report, error) {
	var report Report
	if !r.cfg.enabled() {
		r.logger.Debug("redeem: auto redeem disabled, skipping pass")
		return report, nil
	}

	started := time.Now()
	defer metrics.ObservePass(IntervalWorker, started)

	ctx, span := r.tracer.Start(ctx, "redeem.process_intervals")
	defer span.End()

	var found []candidate
	err := r.store.View(ctx, func(tx ledger.Tx) error {
		subs, err := tx.Subscriptions().List(ctx)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			for _, iv := range sub.Intervals {
				if iv.Status == ledger.IntervalUnlockable && !iv.Redeemed && sub.Redeemable(iv) {
					found = append(found, candidate{sub: sub, iv: iv})
				}
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select unlockable intervals")
		return report, fmt.Errorf("redeem: select unlockable intervals: %w", err)
	}
	report.Scanned = len(found)
	span.SetAttributes(attribute.Int("intervals.unlockable", len(found)))

	for _, c := range found {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.processInterval(ctx, c.sub, c.iv, &report); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ledger write failed")
			return report, err
		}
	}
	return report, nil
}

func (r *IntervalRedeemer) processInterval(ctx context.Context, sub ledger.Subscription, iv ledger.Interval, report *Report) error {
	ctx, span := r.tracer.Start(ctx, "redeem.interval", trace.WithAttributes(
		attribute.String("subscription.id", sub.ID),
		attribute.String("interval.key", iv.IntervalKey),
		attribute.Int("interval.month_index", iv.MonthIndex),
	))
	defer span.End()

	log := r.logger.With("subscription_id", sub.ID, "interval_key", iv.IntervalKey, "month_index", iv.MonthIndex)

	p, err := r.prepare(iv.TokenString)
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyNotFound):
			log.Warn("redeem: no private key for interval token")
			r.signal(bus.TopicMissingSigner, MissingSigner{TokenID: iv.LockedTokenID})
			metrics.RedeemTokens.WithLabelValues(IntervalWorker, metrics.OutcomeMissingKey).Inc()
			report.fail(iv.LockedTokenID, iv.IntervalKey, ErrKeyNotFound, err)
		default:
			log.Error("redeem: invalid interval token", "error", err)
			metrics.RedeemTokens.WithLabelValues(IntervalWorker, metrics.OutcomeDecodeError).Inc()
			report.fail(iv.LockedTokenID, iv.IntervalKey, ErrDecode, err)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil
	}
	if p.mint == "" {
		p.mint = sub.MintURL
	}

	held, err := r.claimInterval(ctx, sub.ID, iv.IntervalKey)
	switch {
	case errors.Is(err, errSettled):
		log.Info("redeem: locked token already claimed, interval reconciled")
		report.Claimed = append(report.Claimed, iv.IntervalKey)
		return nil
	case errors.Is(err, errManual):
		log.Debug("redeem: interval left for manual redemption")
		return nil
	case err != nil:
		log.Debug("redeem: claim not acquired", "error", err)
		metrics.RedeemTokens.WithLabelValues(IntervalWorker, metrics.OutcomeClaimLost).Inc()
		report.fail(iv.LockedTokenID, iv.IntervalKey, ErrClaimLost, err)
		return nil
	}

	proofs, keyset, err := r.receive(ctx, p)
	switch {
	case errors.Is(err, cashu.ErrAlreadySpent):
		log.Info("redeem: interval token already spent, marking claimed")
		if err := r.finalize(ctx, held); err != nil {
			return r.writeFailure(report, iv.LockedTokenID, iv.IntervalKey, err)
		}
		metrics.RedeemTokens.WithLabelValues(IntervalWorker, metrics.OutcomeAlreadySpent).Inc()
		report.Claimed = append(report.Claimed, iv.IntervalKey)
		return nil

	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "mint receive failed")
		stuck, relErr := r.release(ctx, held, err)
		if relErr != nil {
			log.Error("redeem: could not release claim", "error", relErr)
		}
		if stuck {
			log.Error("redeem: interval token parked as stuck", "error", err)
			metrics.RedeemTokens.WithLabelValues(IntervalWorker, metrics.OutcomeStuck).Inc()
			report.Stuck = append(report.Stuck, iv.LockedTokenID)
		} else {
			log.Warn("redeem: mint receive failed, will retry", "error", err)
			metrics.RedeemTokens.WithLabelValues(IntervalWorker, metrics.OutcomeMintError).Inc()
		}
		report.fail(iv.LockedTokenID, iv.IntervalKey, ErrMint, err)
		return nil
	}

	if err := r.keep(ctx, p, proofs, keyset, sub.TierID, subscription.PaymentLabel); err != nil {
		return r.writeFailure(report, iv.LockedTokenID, iv.IntervalKey, err)
	}
	if err := r.finalize(ctx, held); err != nil {
		return r.writeFailure(report, iv.LockedTokenID, iv.IntervalKey, err)
	}

	amount := cashu.SumProofs(proofs)
	if r.deps.History != nil {
		err := r.deps.History.AddPaidToken(ctx, PaidToken{
			Amount:   amount,
			Token:    iv.TokenString,
			Mint:     p.mint,
			Unit:     p.unit,
			Label:    subscription.PaymentLabel,
			BucketID: sub.TierID,
			Date:     r.now(),
		})
		if err != nil {
			return r.writeFailure(report, iv.LockedTokenID, iv.IntervalKey, fmt.Errorf("%w: payment history: %w", ErrLedgerWrite, err))
		}
	}

	metrics.RedeemTokens.WithLabelValues(IntervalWorker, metrics.OutcomeClaimed).Inc()
	metrics.RedeemedAmount.WithLabelValues(p.unit).Add(float64(amount))
	report.Claimed = append(report.Claimed, iv.IntervalKey)
	log.Info("redeem: interval claimed", "amount", amount, "proofs", len(proofs))
	return nil
}

// claimInterval marks an unlockable interval, and its locked-token row when
// one exists, as processing in one transaction.
func (r *IntervalRedeemer) claimInterval(ctx context.Context, subscriptionID, intervalKey string) (claim, error) {
	now := r.now()
	stale := now.Add(-r.cfg.StaleAfter)
	c := claim{
		hasInterval:    true,
		subscriptionID: subscriptionID,
		intervalKey:    intervalKey,
		prevInterval:   ledger.IntervalUnlockable,
		prevToken:      ledger.TokenPending,
		at:             now,
	}
	var outcome error

	err := r.store.Update(ctx, func(tx ledger.Tx) error {
		sub, err := tx.Subscriptions().Get(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrClaimLost, err)
		}
		idx, ok := sub.IntervalIndexForToken("", intervalKey)
		if !ok {
			return fmt.Errorf("%w: interval %s not found", ErrClaimLost, intervalKey)
		}
		iv := &sub.Intervals[idx]
		switch {
		case iv.Status == ledger.IntervalClaimed || iv.Redeemed:
			return fmt.Errorf("%w: interval is claimed", ErrClaimLost)
		case iv.Status == ledger.IntervalProcessing && !staleSince(iv.ProcessingSince, stale):
			return fmt.Errorf("%w: interval is being redeemed", ErrClaimLost)
		case iv.Status == ledger.IntervalPending:
			return fmt.Errorf("%w: interval is pending", ErrClaimLost)
		case !sub.Redeemable(*iv):
			return fmt.Errorf("%w: subscription cancelled before unlock", ErrClaimLost)
		}

		if iv.LockedTokenID != "" {
			tok, err := tx.LockedTokens().Get(ctx, iv.LockedTokenID)
			switch {
			case errors.Is(err, ledger.ErrNotFound):
			case err != nil:
				return err
			default:
				switch {
				case tok.Status == ledger.TokenClaimed:
					outcome = errSettled
					iv.Status = ledger.IntervalClaimed
					iv.Redeemed = true
					iv.ProcessingSince = nil
					sub.UpdatedAt = now
					return tx.Subscriptions().Put(ctx, sub)
				case !tok.AutoRedeem:
					outcome = errManual
					return nil
				case tok.Status == ledger.TokenStuck:
					return fmt.Errorf("%w: token is stuck", ErrClaimLost)
				case tok.Status == ledger.TokenProcessing && !staleSince(tok.ProcessingSince, stale):
					return fmt.Errorf("%w: token is being redeemed", ErrClaimLost)
				}
				c.hasToken = true
				c.tokenID = tok.ID
				tok.Status = ledger.TokenProcessing
				tok.ProcessingSince = &now
				tok.UpdatedAt = now
				c.token = tok
				if err := tx.LockedTokens().Put(ctx, tok); err != nil {
					return err
				}
			}
		}

		iv.Status = ledger.IntervalProcessing
		iv.ProcessingSince = &now
		sub.UpdatedAt = now
		return tx.Subscriptions().Put(ctx, sub)
	})
	if err != nil {
		return claim{}, err
	}
	if outcome != nil {
		return claim{}, outcome
	}
	return c, nil
}
