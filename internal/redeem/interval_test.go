package redeem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/redeem"
	"github.com/flemzord/nutsub/internal/subscription"
)

// unlockable marks the first n intervals of sub unlockable and stores it.
func unlockable(t *testing.T, store ledger.Store, sub ledger.Subscription, n int) ledger.Subscription {
	t.Helper()
	for i := range n {
		sub.Intervals[i].Status = ledger.IntervalUnlockable
	}
	put(t, store, []ledger.Subscription{sub}, nil)
	return sub
}

func TestIntervalRedeemer_ClaimsUnlockableInterval(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour), now.Add(time.Hour))
	sub = unlockable(t, f.store, sub, 1)

	r := redeem.NewIntervalRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.Process(ctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if report.Scanned != 1 || len(report.Claimed) != 1 || report.Claimed[0] != sub.Intervals[0].IntervalKey {
		t.Fatalf("report = %+v", report)
	}

	got := getSubscription(t, f.store, sub.ID)
	if iv := got.Intervals[0]; iv.Status != ledger.IntervalClaimed || !iv.Redeemed || iv.ProcessingSince != nil {
		t.Errorf("interval 0 = %s redeemed=%v", iv.Status, iv.Redeemed)
	}
	if iv := got.Intervals[1]; iv.Status != ledger.IntervalPending {
		t.Errorf("interval 1 = %s, want pending", iv.Status)
	}
	if tok := getToken(t, f.store, toks[0].ID); tok.Status != ledger.TokenClaimed || !tok.Redeemed {
		t.Errorf("token = %s redeemed=%v", tok.Status, tok.Redeemed)
	}

	added := f.proofs.Added()
	if len(added) != 1 || added[0].BucketID != tierID || added[0].Label != subscription.PaymentLabel {
		t.Errorf("AddProofs = %+v", added)
	}
	entries := f.history.Entries()
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Amount != 100 || e.BucketID != tierID || e.Label != subscription.PaymentLabel || e.Mint != mintURL || e.Unit != cashu.DefaultUnit {
		t.Errorf("history entry = %+v", e)
	}
	if e.Token != sub.Intervals[0].TokenString || !e.Date.Equal(now) {
		t.Errorf("history entry token/date = %q %v", e.Token, e.Date)
	}
	if len(f.messenger.Sent()) != 0 {
		t.Error("interval redeemer sent a DM")
	}
}

func TestIntervalRedeemer_WithoutTokenRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, _ := seedSubscription(t, f.store, "sub-1", false, now.Add(-time.Hour))
	sub = unlockable(t, f.store, sub, 1)

	r := redeem.NewIntervalRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.Process(ctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Claimed) != 1 {
		t.Fatalf("report = %s", report)
	}
	if iv := getSubscription(t, f.store, sub.ID).Intervals[0]; iv.Status != ledger.IntervalClaimed || !iv.Redeemed {
		t.Errorf("interval = %s redeemed=%v", iv.Status, iv.Redeemed)
	}

	report, err = r.Process(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if report.Scanned != 0 || len(f.wallet.Calls()) != 1 {
		t.Errorf("second pass redeemed again: %s", report)
	}
}

func TestIntervalRedeemer_ReconcilesClaimedTokenRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))
	sub = unlockable(t, f.store, sub, 1)
	toks[0].Status = ledger.TokenClaimed
	toks[0].Redeemed = true
	put(t, f.store, nil, toks)

	r := redeem.NewIntervalRedeemer(f.store, f.deps(), redeem.Config{})
	if _, err := r.Process(ctx); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if iv := getSubscription(t, f.store, sub.ID).Intervals[0]; iv.Status != ledger.IntervalClaimed || !iv.Redeemed {
		t.Errorf("interval = %s, want reconciled to claimed", iv.Status)
	}
	if len(f.wallet.Calls()) != 0 {
		t.Error("mint called for a claimed token")
	}
}

func TestIntervalRedeemer_LeavesManualTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))
	sub = unlockable(t, f.store, sub, 1)
	toks[0].AutoRedeem = false
	put(t, f.store, nil, toks)

	r := redeem.NewIntervalRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.Process(ctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Failures) != 0 || len(report.Claimed) != 0 {
		t.Errorf("report = %s", report)
	}
	if iv := getSubscription(t, f.store, sub.ID).Intervals[0]; iv.Status != ledger.IntervalUnlockable {
		t.Errorf("interval = %s, want unlockable", iv.Status)
	}
}

func TestIntervalRedeemer_MintFailureReleasesInterval(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))
	sub = unlockable(t, f.store, sub, 1)
	f.wallet.ReceiveFunc = func(string, redeem.ReceiveOptions) ([]cashu.Proof, error) {
		return nil, errors.New("timeout")
	}

	r := redeem.NewIntervalRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.Process(ctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !report.Failed(redeem.ErrMint) {
		t.Fatalf("report = %s", report)
	}
	if iv := getSubscription(t, f.store, sub.ID).Intervals[0]; iv.Status != ledger.IntervalUnlockable || iv.ProcessingSince != nil {
		t.Errorf("interval = %s, want unlockable", iv.Status)
	}
	if tok := getToken(t, f.store, toks[0].ID); tok.Status != ledger.TokenPending || tok.Attempts != 1 {
		t.Errorf("token = %s attempts=%d", tok.Status, tok.Attempts)
	}
	if len(f.history.Entries()) != 0 {
		t.Error("history written for failed receive")
	}
}

func TestIntervalRedeemer_HistoryFailureAbortsPass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, _ := seedSubscription(t, f.store, "sub-1", false, now.Add(-time.Hour))
	unlockable(t, f.store, sub, 1)
	f.history.Err = errors.New("history table locked")

	r := redeem.NewIntervalRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.Process(ctx)
	if !errors.Is(err, redeem.ErrLedgerWrite) {
		t.Fatalf("err = %v, want ErrLedgerWrite", err)
	}
	if !report.Failed(redeem.ErrLedgerWrite) {
		t.Errorf("report = %s", report)
	}
}

func TestIntervalRedeemer_SkipsIntervalsAfterCancellation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, _ := seedSubscription(t, f.store, "sub-1", false, now.Add(-2*time.Hour), now.Add(-time.Hour))
	cancelled := now.Add(-90 * time.Minute)
	sub.Status = ledger.SubscriptionCancelled
	sub.CancelledAt = &cancelled
	unlockable(t, f.store, sub, 2)

	r := redeem.NewIntervalRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.Process(ctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if report.Scanned != 1 || len(report.Claimed) != 1 || report.Claimed[0] != sub.Intervals[0].IntervalKey {
		t.Errorf("report = %+v, want only the interval matured before cancellation", report)
	}
}
