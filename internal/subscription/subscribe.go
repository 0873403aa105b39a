package subscription

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/timelock"
)

// PaymentLabel labels proofs and history entries of subscription payments.
const PaymentLabel = "Subscription payment"

// SubscribeInput describes a new subscription to fund.
type SubscribeInput struct {
	CreatorNpub       string
	SubscriberNpub    string
	TierID            string
	TierName          string
	CreatorName       string
	CreatorAvatar     string
	Benefits          []string
	CreatorP2PK       string
	MintURL           string
	Unit              string
	AmountPerInterval uint64
	Frequency         string
	// IntervalDays overrides the period length derived from Frequency.
	IntervalDays int
	StartDate    time.Time
	Periods      int
	// LockFirstPeriod time-gates the first period as well.
	LockFirstPeriod bool
	// ManualRedeem leaves the locked tokens out of automatic redemption.
	ManualRedeem bool
}

// Subscribe mints one locked output per period through minter, then writes
// the subscription and one locked-token row per interval in a single
// transaction. The input is fully checked before the mint is called; a
// failed build writes nothing.
func (l *Ledger) Subscribe(ctx context.Context, minter timelock.OutputMinter, in SubscribeInput) (ledger.Subscription, error) {
	if in.Periods <= 0 {
		return ledger.Subscription{}, fmt.Errorf("%w: periods must be positive", ErrInvalidInput)
	}
	if in.AmountPerInterval > math.MaxUint64/uint64(in.Periods) {
		return ledger.Subscription{}, fmt.Errorf("%w: %d periods of %d overflow the total amount", ErrInvalidInput, in.Periods, in.AmountPerInterval)
	}
	unit := in.Unit
	if unit == "" {
		unit = cashu.DefaultUnit
	}

	freq := ParseFrequency(in.Frequency)
	days := in.IntervalDays
	if days == 0 {
		days = freq.Days()
	}

	sub, err := l.normalize(AddInput{
		CreatorNpub:       in.CreatorNpub,
		SubscriberNpub:    in.SubscriberNpub,
		TierID:            in.TierID,
		TierName:          in.TierName,
		CreatorName:       in.CreatorName,
		CreatorAvatar:     in.CreatorAvatar,
		Benefits:          in.Benefits,
		CreatorP2PK:       in.CreatorP2PK,
		MintURL:           in.MintURL,
		Unit:              unit,
		AmountPerInterval: in.AmountPerInterval,
		Frequency:         string(freq),
		IntervalDays:      days,
		StartDate:         in.StartDate,
		CommitmentLength:  in.Periods,
	})
	if err != nil {
		return ledger.Subscription{}, err
	}

	var opts []timelock.Option
	if in.LockFirstPeriod {
		opts = append(opts, timelock.WithLockedFirstPeriod())
	}
	total := in.AmountPerInterval * uint64(in.Periods)
	out, err := timelock.BuildTimedOutputs(ctx, minter, total, in.Periods, in.CreatorP2PK, in.StartDate, DaysToInterval(days), opts...)
	if err != nil {
		return ledger.Subscription{}, fmt.Errorf("subscription: build outputs: %w", err)
	}

	intervals := make([]ledger.Interval, len(out.Proofs))
	for i, proof := range out.Proofs {
		tok, err := cashu.Encode(cashu.NewToken(in.MintURL, unit, []cashu.Proof{proof}))
		if err != nil {
			return ledger.Subscription{}, fmt.Errorf("subscription: encode period %d: %w", i, err)
		}
		intervals[i] = ledger.Interval{
			IntervalKey:   IntervalKey(sub.ID, i),
			LockedTokenID: l.newID(),
			UnlockAt:      out.UnlockTimes[i],
			Status:        ledger.IntervalPending,
			TokenString:   tok,
			MonthIndex:    i,
			TotalPeriods:  in.Periods,
		}
	}
	sub.Intervals = normalizeIntervals(intervals, in.Periods)
	if err := checkIntervals(sub.Intervals); err != nil {
		return ledger.Subscription{}, err
	}

	err = l.store.Update(ctx, func(tx ledger.Tx) error {
		for _, iv := range sub.Intervals {
			row := ledger.LockedToken{
				ID:             iv.LockedTokenID,
				TokenString:    iv.TokenString,
				Amount:         in.AmountPerInterval,
				Owner:          OwnerSubscriber,
				TierID:         sub.TierID,
				IntervalKey:    iv.IntervalKey,
				UnlockAt:       iv.UnlockAt,
				Status:         ledger.TokenPending,
				SubscriptionID: sub.ID,
				AutoRedeem:     !in.ManualRedeem,
				CreatorNpub:    sub.CreatorNpub,
				CreatorP2PK:    sub.CreatorP2PK,
				SubscriberNpub: sub.SubscriberNpub,
				MonthIndex:     iv.MonthIndex,
				TotalPeriods:   iv.TotalPeriods,
				Label:          PaymentLabel,
				CreatedAt:      sub.CreatedAt,
				UpdatedAt:      sub.CreatedAt,
			}
			if err := tx.LockedTokens().Put(ctx, row); err != nil {
				return err
			}
		}
		return tx.Subscriptions().Put(ctx, sub)
	})
	if err != nil {
		return ledger.Subscription{}, fmt.Errorf("subscription: persist %s: %w", sub.ID, err)
	}

	l.logger.Info("subscription: created",
		"subscription_id", sub.ID,
		"creator", sub.CreatorNpub,
		"periods", in.Periods,
		"amount_per_interval", in.AmountPerInterval,
		"interval_days", days,
	)
	return sub, nil
}

// Locked token owners.
const (
	OwnerSubscriber = "subscriber"
	OwnerCreator    = "creator"
)

// IntervalKey builds the key of period index within a subscription.
func IntervalKey(subscriptionID string, index int) string {
	return fmt.Sprintf("%s:%d", subscriptionID, index)
}
