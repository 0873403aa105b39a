package redeem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/nutsub/internal/ledger"
)

// errSettled reports that the pair was already claimed by the other worker
// and has been reconciled without a mint call.
var errSettled = errors.New("redeem: already settled")

// claim is a held processing marker on a token row and, when present, its
// interval.
type claim struct {
	token ledger.LockedToken

	hasToken    bool
	hasInterval bool

	subscriptionID string
	intervalKey    string
	tokenID        string

	prevToken    ledger.TokenStatus
	prevInterval ledger.IntervalStatus
	at           time.Time
}

// claim marks a due token and its interval as processing in one
// transaction. It fails with ErrClaimLost when the token is no longer due
// or the interval is held by the other worker, and with errSettled when
// the interval was already claimed.
func (r *LockedTokenRedeemer) claim(ctx context.Context, tok ledger.LockedToken) (claim, error) {
	now := r.now()
	stale := now.Add(-r.cfg.StaleAfter)
	c := claim{
		hasToken:       true,
		tokenID:        tok.ID,
		subscriptionID: tok.SubscriptionID,
		intervalKey:    tok.IntervalKey,
		prevToken:      ledger.TokenPending,
		at:             now,
	}
	settled := false

	err := r.store.Update(ctx, func(tx ledger.Tx) error {
		cur, err := tx.LockedTokens().Get(ctx, tok.ID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrClaimLost, err)
		}
		if !cur.Due(now, stale) {
			return fmt.Errorf("%w: token is %s", ErrClaimLost, cur.Status)
		}

		sub, idx, err := intervalOf(ctx, tx, cur.SubscriptionID, cur.ID, cur.IntervalKey)
		if err != nil {
			return err
		}
		if idx >= 0 {
			iv := &sub.Intervals[idx]
			switch {
			case iv.Status == ledger.IntervalClaimed || iv.Redeemed:
				settled = true
				markTokenClaimed(&cur, now)
				return tx.LockedTokens().Put(ctx, cur)
			case iv.Status == ledger.IntervalProcessing && !staleSince(iv.ProcessingSince, stale):
				return fmt.Errorf("%w: interval is being redeemed", ErrClaimLost)
			}
			c.hasInterval = true
			c.intervalKey = iv.IntervalKey
			c.prevInterval = restingIntervalStatus(iv.Status)
			iv.Status = ledger.IntervalProcessing
			iv.ProcessingSince = &now
			sub.UpdatedAt = now
			if err := tx.Subscriptions().Put(ctx, sub); err != nil {
				return err
			}
		}

		cur.Status = ledger.TokenProcessing
		cur.ProcessingSince = &now
		cur.UpdatedAt = now
		c.token = cur
		return tx.LockedTokens().Put(ctx, cur)
	})
	if err != nil {
		return claim{}, err
	}
	if settled {
		return claim{}, errSettled
	}
	return c, nil
}

// finalize sets the token and its interval to claimed and redeemed in one
// transaction.
func (e *engine) finalize(ctx context.Context, c claim) error {
	now := e.now()
	return e.store.Update(ctx, func(tx ledger.Tx) error {
		if c.hasToken {
			tok, err := tx.LockedTokens().Get(ctx, c.tokenID)
			switch {
			case errors.Is(err, ledger.ErrNotFound):
			case err != nil:
				return err
			default:
				markTokenClaimed(&tok, now)
				if err := tx.LockedTokens().Put(ctx, tok); err != nil {
					return err
				}
			}
		}

		sub, idx, err := intervalOf(ctx, tx, c.subscriptionID, c.tokenID, c.intervalKey)
		if err != nil {
			return err
		}
		if idx < 0 {
			if c.hasInterval {
				return fmt.Errorf("redeem: interval %s vanished from subscription %s", c.intervalKey, c.subscriptionID)
			}
			return nil
		}
		iv := &sub.Intervals[idx]
		iv.Status = ledger.IntervalClaimed
		iv.Redeemed = true
		iv.ProcessingSince = nil
		sub.UpdatedAt = now
		return tx.Subscriptions().Put(ctx, sub)
	})
}

// release gives the claim back after a failed mint receive. The token's
// attempt counter grows and the token is parked as stuck once it reaches
// MaxAttempts. It reports whether the token became stuck.
func (e *engine) release(ctx context.Context, c claim, cause error) (bool, error) {
	now := e.now()
	stuck := false
	err := e.store.Update(ctx, func(tx ledger.Tx) error {
		if c.hasToken {
			tok, err := tx.LockedTokens().Get(ctx, c.tokenID)
			switch {
			case errors.Is(err, ledger.ErrNotFound):
			case err != nil:
				return err
			default:
				tok.Attempts++
				tok.LastError = cause.Error()
				tok.ProcessingSince = nil
				tok.UpdatedAt = now
				tok.Status = c.prevToken
				if tok.Attempts >= e.cfg.MaxAttempts {
					tok.Status = ledger.TokenStuck
					stuck = true
				}
				if err := tx.LockedTokens().Put(ctx, tok); err != nil {
					return err
				}
			}
		}

		if !c.hasInterval {
			return nil
		}
		sub, idx, err := intervalOf(ctx, tx, c.subscriptionID, c.tokenID, c.intervalKey)
		if err != nil || idx < 0 {
			return err
		}
		iv := &sub.Intervals[idx]
		if iv.Status != ledger.IntervalProcessing {
			return nil
		}
		iv.Status = c.prevInterval
		iv.ProcessingSince = nil
		sub.UpdatedAt = now
		return tx.Subscriptions().Put(ctx, sub)
	})
	return stuck, err
}

// intervalOf loads the subscription and the index of the interval paired
// with the token. A missing subscription yields index -1.
func intervalOf(ctx context.Context, tx ledger.Tx, subscriptionID, tokenID, intervalKey string) (ledger.Subscription, int, error) {
	if subscriptionID == "" {
		return ledger.Subscription{}, -1, nil
	}
	sub, err := tx.Subscriptions().Get(ctx, subscriptionID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.Subscription{}, -1, nil
	}
	if err != nil {
		return ledger.Subscription{}, -1, err
	}
	idx, ok := sub.IntervalIndexForToken(tokenID, intervalKey)
	if !ok {
		return sub, -1, nil
	}
	return sub, idx, nil
}

func markTokenClaimed(tok *ledger.LockedToken, now time.Time) {
	tok.Status = ledger.TokenClaimed
	tok.Redeemed = true
	tok.ProcessingSince = nil
	tok.LastError = ""
	tok.UpdatedAt = now
}

func staleSince(since *time.Time, staleBefore time.Time) bool {
	return since == nil || since.Before(staleBefore)
}

// restingIntervalStatus is the status an interval returns to when a claim
// on it is released.
func restingIntervalStatus(s ledger.IntervalStatus) ledger.IntervalStatus {
	if s == ledger.IntervalProcessing {
		return ledger.IntervalUnlockable
	}
	return s
}
