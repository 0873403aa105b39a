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

// LockedTokenWorker is the job name of the locked-token redeemer.
const LockedTokenWorker = "locked_token_redeemer"

// MissingSigner is published on bus.TopicMissingSigner.
type MissingSigner struct {
	TokenID string `json:"tokenId"`
}

// TokenClaimed is published on bus.TopicTokenClaimed.
type TokenClaimed struct {
	TokenID        string
	SubscriptionID string
	MonthIndex     int
	Amount         uint64
}

// LockedTokenRedeemer treats the locked-token table as the authority. Each
// pass claims the matured auto-redeem tokens, swaps them at the mint,
// finalizes the token row and its interval together and notifies the
// counterparty.
type LockedTokenRedeemer struct {
	engine
}

// NewLockedTokenRedeemer creates a redeemer over store.
func NewLockedTokenRedeemer(store ledger.Store, deps Deps, cfg Config) *LockedTokenRedeemer {
	return &LockedTokenRedeemer{
		engine: newEngine(store, deps, cfg, LockedTokenWorker),
	}
}

// Name implements cron.Job.
func (r *LockedTokenRedeemer) Name() string { return LockedTokenWorker }

// Run implements cron.Job. Only a ledger write failure fails the run; per
// token failures are logged and retried on later passes.
func (r *LockedTokenRedeemer) Run(ctx context.Context) error {
	report, err := r.ProcessTokens(ctx)
	if len(report.Failures) > 0 {
		r.logger.Warn("redeem: pass finished with failures", "report", report.String(), "error", report.Err())
	} else if report.Scanned > 0 {
		r.logger.Info("redeem: pass finished", "report", report.String())
	}
	return err
}

// ProcessTokens runs one pass. Tokens are processed sequentially and their
// failures are isolated; the pass stops early only when ctx is done or a
// ledger write fails after a successful mint swap.
func (r *LockedTokenRedeemer) ProcessTokens(ctx context.Context) (Report, error) {
	var report Report
	if !r.cfg.enabled() {
		r.logger.Debug("redeem: auto redeem disabled, skipping pass")
		return report, nil
	}

	started := time.Now()
	defer metrics.ObservePass(LockedTokenWorker, started)

	ctx, span := r.tracer.Start(ctx, "redeem.process_tokens")
	defer span.End()

	now := r.now()
	var due []ledger.LockedToken
	err := r.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		due, err = tx.LockedTokens().Due(ctx, now, now.Add(-r.cfg.StaleAfter))
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select due tokens")
		return report, fmt.Errorf("redeem: select due tokens: %w", err)
	}
	report.Scanned = len(due)
	span.SetAttributes(attribute.Int("tokens.due", len(due)))

	for _, tok := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.processToken(ctx, tok, &report); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ledger write failed")
			return report, err
		}
	}
	return report, nil
}

// processToken returns an error only for failures that must abort the pass.
func (r *LockedTokenRedeemer) processToken(ctx context.Context, tok ledger.LockedToken, report *Report) error {
	ctx, span := r.tracer.Start(ctx, "redeem.locked_token", trace.WithAttributes(
		attribute.String("token.id", tok.ID),
		attribute.String("subscription.id", tok.SubscriptionID),
		attribute.Int("interval.month_index", tok.MonthIndex),
	))
	defer span.End()

	log := r.logger.With("token_id", tok.ID, "subscription_id", tok.SubscriptionID, "month_index", tok.MonthIndex)

	p, err := r.prepare(tok.TokenString)
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyNotFound):
			log.Warn("redeem: no private key for locked token")
			r.signal(bus.TopicMissingSigner, MissingSigner{TokenID: tok.ID})
			metrics.RedeemTokens.WithLabelValues(LockedTokenWorker, metrics.OutcomeMissingKey).Inc()
			report.fail(tok.ID, tok.IntervalKey, ErrKeyNotFound, err)
		default:
			log.Error("redeem: invalid token stored", "error", err)
			metrics.RedeemTokens.WithLabelValues(LockedTokenWorker, metrics.OutcomeDecodeError).Inc()
			report.fail(tok.ID, tok.IntervalKey, ErrDecode, err)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil
	}

	held, err := r.claim(ctx, tok)
	if err != nil {
		if errors.Is(err, errSettled) {
			log.Info("redeem: interval already claimed, token reconciled")
			report.Claimed = append(report.Claimed, tok.ID)
			return nil
		}
		log.Debug("redeem: claim not acquired", "error", err)
		metrics.RedeemTokens.WithLabelValues(LockedTokenWorker, metrics.OutcomeClaimLost).Inc()
		report.fail(tok.ID, tok.IntervalKey, ErrClaimLost, err)
		return nil
	}

	proofs, keyset, err := r.receive(ctx, p)
	switch {
	case errors.Is(err, cashu.ErrAlreadySpent):
		log.Info("redeem: token already spent, marking claimed")
		if err := r.finalize(ctx, held); err != nil {
			return r.writeFailure(report, tok.ID, tok.IntervalKey, err)
		}
		metrics.RedeemTokens.WithLabelValues(LockedTokenWorker, metrics.OutcomeAlreadySpent).Inc()
		report.Claimed = append(report.Claimed, tok.ID)
		return nil

	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "mint receive failed")
		stuck, relErr := r.release(ctx, held, err)
		if relErr != nil {
			// The claim goes stale and is picked up again later.
			log.Error("redeem: could not release claim", "error", relErr)
		}
		if stuck {
			log.Error("redeem: token parked as stuck", "attempts", held.token.Attempts+1, "error", err)
			metrics.RedeemTokens.WithLabelValues(LockedTokenWorker, metrics.OutcomeStuck).Inc()
			report.Stuck = append(report.Stuck, tok.ID)
		} else {
			log.Warn("redeem: mint receive failed, will retry", "error", err)
			metrics.RedeemTokens.WithLabelValues(LockedTokenWorker, metrics.OutcomeMintError).Inc()
		}
		report.fail(tok.ID, tok.IntervalKey, ErrMint, err)
		return nil
	}

	if err := r.keep(ctx, p, proofs, keyset, tok.TierID, labelOf(tok)); err != nil {
		return r.writeFailure(report, tok.ID, tok.IntervalKey, err)
	}
	if err := r.finalize(ctx, held); err != nil {
		return r.writeFailure(report, tok.ID, tok.IntervalKey, err)
	}

	amount := cashu.SumProofs(proofs)
	metrics.RedeemTokens.WithLabelValues(LockedTokenWorker, metrics.OutcomeClaimed).Inc()
	metrics.RedeemedAmount.WithLabelValues(p.unit).Add(float64(amount))
	report.Claimed = append(report.Claimed, tok.ID)
	log.Info("redeem: locked token claimed", "amount", amount, "proofs", len(proofs))

	r.notify(ctx, tok)
	r.signal(bus.TopicTokenClaimed, TokenClaimed{
		TokenID:        tok.ID,
		SubscriptionID: tok.SubscriptionID,
		MonthIndex:     tok.MonthIndex,
		Amount:         amount,
	})
	return nil
}

// notify tells the counterparty the period was claimed. Failures are
// logged only.
func (r *LockedTokenRedeemer) notify(ctx context.Context, tok ledger.LockedToken) {
	if r.deps.Messenger == nil || tok.SubscriptionID == "" {
		return
	}
	recipient := counterparty(tok)
	if recipient == "" {
		return
	}
	payload, err := subscription.EncodeNotice(subscription.NewClaimedNotice(tok))
	if err == nil {
		err = r.deps.Messenger.SendDM(ctx, recipient, payload)
	}
	if err != nil {
		metrics.NotifyFailures.Inc()
		r.logger.Warn("redeem: failed to notify subscription peer",
			"token_id", tok.ID,
			"error", fmt.Errorf("%w: %w", ErrNotify, err),
		)
	}
}

// counterparty is the other side of the subscription: the creator for rows
// held by the subscriber, the subscriber for rows held by the creator.
func counterparty(tok ledger.LockedToken) string {
	if tok.Owner == subscription.OwnerCreator && tok.SubscriberNpub != "" {
		return tok.SubscriberNpub
	}
	return tok.CreatorNpub
}

func labelOf(tok ledger.LockedToken) string {
	if tok.Label != "" {
		return tok.Label
	}
	return subscription.PaymentLabel
}
