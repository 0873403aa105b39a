package redeem_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/nutsub/internal/bus"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/redeem"
	"github.com/flemzord/nutsub/internal/redeem/redeemtest"
	"github.com/flemzord/nutsub/internal/subscription"
)

const (
	mintURL     = "https://mint.example"
	creatorNpub = "npub1creator"
	subscriber  = "npub1subscriber"
	tierID      = "tier-gold"
	privateKey  = "nsec-test-key"
)

var (
	creatorPub = "02" + strings.Repeat("ab", 32)
	now        = time.Unix(1_700_000_000, 0).UTC()
)

type fixture struct {
	store     *ledger.InMemoryStore
	wallet    *redeemtest.Wallet
	counters  *redeemtest.Counters
	proofs    *redeemtest.ProofStore
	history   *redeemtest.History
	messenger *redeemtest.Messenger
	signals   *bus.Bus
	keys      redeemtest.Keys
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     ledger.NewInMemoryStore(),
		wallet:    &redeemtest.Wallet{},
		counters:  &redeemtest.Counters{},
		proofs:    &redeemtest.ProofStore{},
		history:   &redeemtest.History{},
		messenger: &redeemtest.Messenger{},
		signals:   bus.New(),
		keys:      redeemtest.Keys{Key: privateKey},
	}
	t.Cleanup(func() {
		f.signals.Close()
		_ = f.store.Close()
	})
	return f
}

func (f *fixture) deps() redeem.Deps {
	return redeem.Deps{
		Wallets:   f.wallet,
		Counters:  f.counters,
		Proofs:    f.proofs,
		Keys:      f.keys,
		History:   f.history,
		Messenger: f.messenger,
		Signals:   f.signals,
		Clock:     func() time.Time { return now },
	}
}

// seedSubscription stores a subscription with one interval per unlock time
// and, when withTokens is set, the matching subscriber-owned token rows.
func seedSubscription(t *testing.T, store ledger.Store, id string, withTokens bool, unlocks ...time.Time) (ledger.Subscription, []ledger.LockedToken) {
	t.Helper()
	sub := ledger.Subscription{
		ID:                id,
		CreatorNpub:       creatorNpub,
		SubscriberNpub:    subscriber,
		TierID:            tierID,
		Benefits:          []string{},
		CreatorP2PK:       creatorPub,
		MintURL:           mintURL,
		Unit:              "sat",
		AmountPerInterval: 100,
		Frequency:         "monthly",
		IntervalDays:      30,
		StartDate:         unlocks[0],
		CommitmentLength:  len(unlocks),
		Status:            ledger.SubscriptionActive,
		CreatedAt:         now.Add(-time.Hour),
		UpdatedAt:         now.Add(-time.Hour),
	}
	var toks []ledger.LockedToken
	for i, at := range unlocks {
		lt := at
		key := subscription.IntervalKey(id, i)
		tokID := key + "-token"
		str := redeemtest.LockedToken(mintURL, creatorPub, 100, &lt)
		sub.Intervals = append(sub.Intervals, ledger.Interval{
			IntervalKey:   key,
			LockedTokenID: tokID,
			UnlockAt:      at,
			Status:        ledger.IntervalPending,
			TokenString:   str,
			MonthIndex:    i,
			TotalPeriods:  len(unlocks),
		})
		if withTokens {
			toks = append(toks, ledger.LockedToken{
				ID:             tokID,
				TokenString:    str,
				Amount:         100,
				Owner:          subscription.OwnerSubscriber,
				TierID:         tierID,
				IntervalKey:    key,
				UnlockAt:       at,
				Status:         ledger.TokenPending,
				SubscriptionID: id,
				AutoRedeem:     true,
				CreatorNpub:    creatorNpub,
				CreatorP2PK:    creatorPub,
				SubscriberNpub: subscriber,
				MonthIndex:     i,
				TotalPeriods:   len(unlocks),
				Label:          subscription.PaymentLabel,
				CreatedAt:      now.Add(-time.Hour),
			})
		}
	}
	put(t, store, []ledger.Subscription{sub}, toks)
	return sub, toks
}

func put(t *testing.T, store ledger.Store, subs []ledger.Subscription, toks []ledger.LockedToken) {
	t.Helper()
	ctx := context.Background()
	err := store.Update(ctx, func(tx ledger.Tx) error {
		for _, s := range subs {
			if err := tx.Subscriptions().Put(ctx, s); err != nil {
				return err
			}
		}
		for _, tok := range toks {
			if err := tx.LockedTokens().Put(ctx, tok); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func getToken(t *testing.T, store ledger.Store, id string) ledger.LockedToken {
	t.Helper()
	var tok ledger.LockedToken
	err := store.View(context.Background(), func(tx ledger.Tx) error {
		var err error
		tok, err = tx.LockedTokens().Get(context.Background(), id)
		return err
	})
	if err != nil {
		t.Fatalf("get token %s: %v", id, err)
	}
	return tok
}

func getSubscription(t *testing.T, store ledger.Store, id string) ledger.Subscription {
	t.Helper()
	var sub ledger.Subscription
	err := store.View(context.Background(), func(tx ledger.Tx) error {
		var err error
		sub, err = tx.Subscriptions().Get(context.Background(), id)
		return err
	})
	if err != nil {
		t.Fatalf("get subscription %s: %v", id, err)
	}
	return sub
}

// recv returns the next event on ch or fails after a short wait.
func recv(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return bus.Event{}
	}
}
