package redeem_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/nutsub/internal/bus"
	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/redeem"
	"github.com/flemzord/nutsub/internal/subscription"
)

func TestProcessTokens_ClaimsMaturedToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, toks := seedSubscription(t, f.store, "sub-1", true,
		now.Add(-2*time.Hour),
		now.Add(30*24*time.Hour),
		now.Add(60*24*time.Hour),
	)
	claimed, detach := f.signals.Subscribe(bus.TopicTokenClaimed)
	defer detach()

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	if report.Scanned != 1 || len(report.Claimed) != 1 || report.Claimed[0] != toks[0].ID {
		t.Fatalf("report = %+v, want only %s claimed", report, toks[0].ID)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", report.Err())
	}

	tok := getToken(t, f.store, toks[0].ID)
	if tok.Status != ledger.TokenClaimed || !tok.Redeemed || tok.ProcessingSince != nil {
		t.Errorf("token = %s redeemed=%v processing=%v", tok.Status, tok.Redeemed, tok.ProcessingSince)
	}
	got := getSubscription(t, f.store, sub.ID)
	if iv := got.Intervals[0]; iv.Status != ledger.IntervalClaimed || !iv.Redeemed {
		t.Errorf("interval 0 = %s redeemed=%v", iv.Status, iv.Redeemed)
	}
	for _, iv := range got.Intervals[1:] {
		if iv.Status != ledger.IntervalPending || iv.Redeemed {
			t.Errorf("interval %d = %s redeemed=%v, want untouched", iv.MonthIndex, iv.Status, iv.Redeemed)
		}
	}
	for _, other := range toks[1:] {
		if s := getToken(t, f.store, other.ID).Status; s != ledger.TokenPending {
			t.Errorf("token %s = %s, want pending", other.ID, s)
		}
	}

	calls := f.wallet.Calls()
	if len(calls) != 1 {
		t.Fatalf("receive calls = %d, want 1", len(calls))
	}
	if calls[0].Mint != mintURL || calls[0].Unit != cashu.DefaultUnit {
		t.Errorf("receive at %s/%s", calls[0].Mint, calls[0].Unit)
	}
	if calls[0].Opts.PrivateKey != privateKey || calls[0].Opts.Counter != 0 {
		t.Errorf("receive opts = %+v", calls[0].Opts)
	}

	added := f.proofs.Added()
	if len(added) != 1 {
		t.Fatalf("AddProofs calls = %d, want 1", len(added))
	}
	if added[0].BucketID != tierID || added[0].Label != subscription.PaymentLabel || added[0].Mint != mintURL {
		t.Errorf("AddProofs = %+v", added[0])
	}
	if cashu.SumProofs(added[0].Proofs) != 100 {
		t.Errorf("stored amount = %d, want 100", cashu.SumProofs(added[0].Proofs))
	}
	if n, _ := f.counters.Counter(ctx, "keyset-1"); n != 1 {
		t.Errorf("keyset counter = %d, want 1", n)
	}

	sent := f.messenger.Sent()
	if len(sent) != 1 || sent[0].Npub != creatorNpub {
		t.Fatalf("DMs = %+v, want one to the creator", sent)
	}
	var notice subscription.ClaimedNotice
	if err := json.Unmarshal([]byte(sent[0].Payload), &notice); err != nil {
		t.Fatalf("decode DM: %v", err)
	}
	if notice.Type != subscription.NoticeClaimed || notice.SubscriptionID != sub.ID || notice.MonthIndex != 0 || notice.TotalMonths != 3 {
		t.Errorf("notice = %+v", notice)
	}

	ev := recv(t, claimed)
	if p, ok := ev.Payload.(redeem.TokenClaimed); !ok || p.TokenID != toks[0].ID || p.Amount != 100 {
		t.Errorf("claimed signal = %#v", ev.Payload)
	}
}

func TestProcessTokens_SecondPassIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour), now.Add(time.Hour))

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	if _, err := r.ProcessTokens(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if report.Scanned != 0 || len(report.Claimed) != 0 {
		t.Errorf("second pass report = %s", report)
	}
	if n := len(f.wallet.Calls()); n != 1 {
		t.Errorf("receive calls = %d, want 1", n)
	}
	if n := len(f.messenger.Sent()); n != 1 {
		t.Errorf("DMs = %d, want 1", n)
	}
}

func TestProcessTokens_MissingKeyLeavesRowUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.keys.Key = ""
	_, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))
	missing, detach := f.signals.Subscribe(bus.TopicMissingSigner)
	defer detach()

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	if !report.Failed(redeem.ErrKeyNotFound) {
		t.Fatalf("report = %s, want key-not-found failure", report)
	}
	if !errors.Is(report.Err(), redeem.ErrKeyNotFound) {
		t.Errorf("report.Err() = %v", report.Err())
	}

	tok := getToken(t, f.store, toks[0].ID)
	if tok.Status != ledger.TokenPending || tok.Attempts != 0 || tok.ProcessingSince != nil {
		t.Errorf("token touched: %+v", tok)
	}
	if len(f.wallet.Calls()) != 0 {
		t.Error("mint called without a key")
	}

	ev := recv(t, missing)
	if p, ok := ev.Payload.(redeem.MissingSigner); !ok || p.TokenID != toks[0].ID {
		t.Errorf("missing signer payload = %#v", ev.Payload)
	}
}

func TestProcessTokens_DecodeErrorLeavesRowUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))
	toks[0].TokenString = "cashuAnot-a-token"
	put(t, f.store, nil, toks)

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	if !report.Failed(redeem.ErrDecode) {
		t.Fatalf("report = %s, want decode failure", report)
	}
	if s := getToken(t, f.store, toks[0].ID).Status; s != ledger.TokenPending {
		t.Errorf("token status = %s, want pending", s)
	}
	if len(f.wallet.Calls()) != 0 {
		t.Error("mint called for undecodable token")
	}
}

func TestProcessTokens_FailuresAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, broken := seedSubscription(t, f.store, "sub-a", true, now.Add(-2*time.Hour))
	_, healthy := seedSubscription(t, f.store, "sub-b", true, now.Add(-time.Hour))

	f.wallet.ReceiveFunc = func(token string, _ redeem.ReceiveOptions) ([]cashu.Proof, error) {
		if token == broken[0].TokenString {
			return nil, errors.New("mint unreachable")
		}
		return []cashu.Proof{{ID: "keyset-1", Amount: 100, Secret: "owned", C: "02aa"}}, nil
	}

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	if len(report.Claimed) != 1 || report.Claimed[0] != healthy[0].ID {
		t.Errorf("claimed = %v, want [%s]", report.Claimed, healthy[0].ID)
	}
	if !report.Failed(redeem.ErrMint) {
		t.Errorf("report = %s, want mint failure", report)
	}
	if s := getToken(t, f.store, healthy[0].ID).Status; s != ledger.TokenClaimed {
		t.Errorf("healthy token = %s, want claimed", s)
	}
}

func TestProcessTokens_MintFailureReleasesThenParks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))
	f.wallet.ReceiveFunc = func(string, redeem.ReceiveOptions) ([]cashu.Proof, error) {
		return nil, errors.New("mint returned 500")
	}

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{MaxAttempts: 2})

	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if !report.Failed(redeem.ErrMint) || len(report.Stuck) != 0 {
		t.Fatalf("first pass report = %s", report)
	}
	tok := getToken(t, f.store, toks[0].ID)
	if tok.Status != ledger.TokenPending || tok.Attempts != 1 || tok.LastError == "" || tok.Redeemed {
		t.Errorf("after first failure token = %+v", tok)
	}
	if iv := getSubscription(t, f.store, sub.ID).Intervals[0]; iv.Status != ledger.IntervalPending || iv.ProcessingSince != nil {
		t.Errorf("interval = %s, want released to pending", iv.Status)
	}

	report, err = r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(report.Stuck) != 1 {
		t.Fatalf("second pass report = %s, want one stuck", report)
	}
	if tok := getToken(t, f.store, toks[0].ID); tok.Status != ledger.TokenStuck || tok.Attempts != 2 {
		t.Errorf("after second failure token = %s attempts=%d", tok.Status, tok.Attempts)
	}

	report, err = r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if report.Scanned != 0 {
		t.Errorf("stuck token scanned again: %s", report)
	}
}

func TestProcessTokens_AlreadySpentReconciles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))
	f.wallet.ReceiveFunc = func(string, redeem.ReceiveOptions) ([]cashu.Proof, error) {
		return nil, cashu.ErrAlreadySpent
	}

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	if len(report.Claimed) != 1 || len(report.Failures) != 0 {
		t.Fatalf("report = %s", report)
	}
	if s := getToken(t, f.store, toks[0].ID).Status; s != ledger.TokenClaimed {
		t.Errorf("token = %s, want claimed", s)
	}
	if iv := getSubscription(t, f.store, sub.ID).Intervals[0]; !iv.Redeemed {
		t.Error("interval not redeemed")
	}
	if len(f.proofs.Added()) != 0 {
		t.Error("proofs stored for an already spent token")
	}
}

func TestProcessTokens_LedgerWriteFailureAbortsPass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, first := seedSubscription(t, f.store, "sub-a", true, now.Add(-2*time.Hour))
	_, second := seedSubscription(t, f.store, "sub-b", true, now.Add(-time.Hour))
	f.proofs.AddErr = errors.New("disk full")

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.ProcessTokens(ctx)
	if !errors.Is(err, redeem.ErrLedgerWrite) {
		t.Fatalf("err = %v, want ErrLedgerWrite", err)
	}
	if !report.Failed(redeem.ErrLedgerWrite) {
		t.Errorf("report = %s", report)
	}
	if n := len(f.wallet.Calls()); n != 1 {
		t.Errorf("receive calls = %d, want pass aborted after the first token", n)
	}
	if s := getToken(t, f.store, first[0].ID).Status; s != ledger.TokenProcessing {
		t.Errorf("first token = %s, want left in processing", s)
	}
	if s := getToken(t, f.store, second[0].ID).Status; s != ledger.TokenPending {
		t.Errorf("second token = %s, want pending", s)
	}
}

func TestProcessTokens_ReconcilesAlreadyClaimedInterval(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))
	sub.Intervals[0].Status = ledger.IntervalClaimed
	sub.Intervals[0].Redeemed = true
	put(t, f.store, []ledger.Subscription{sub}, nil)

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	if len(report.Claimed) != 1 {
		t.Errorf("report = %s", report)
	}
	if tok := getToken(t, f.store, toks[0].ID); tok.Status != ledger.TokenClaimed || !tok.Redeemed {
		t.Errorf("token = %s redeemed=%v", tok.Status, tok.Redeemed)
	}
	if len(f.wallet.Calls()) != 0 {
		t.Error("mint called for a settled interval")
	}
}

func TestProcessTokens_SkipsIntervalHeldByOtherWorker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))
	since := now.Add(-time.Minute)
	sub.Intervals[0].Status = ledger.IntervalProcessing
	sub.Intervals[0].ProcessingSince = &since
	put(t, f.store, []ledger.Subscription{sub}, nil)

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	if !report.Failed(redeem.ErrClaimLost) {
		t.Errorf("report = %s, want claim lost", report)
	}
	if s := getToken(t, f.store, toks[0].ID).Status; s != ledger.TokenPending {
		t.Errorf("token = %s, want pending", s)
	}
}

func TestProcessTokens_StaleClaimIsRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))
	since := now.Add(-time.Hour)
	toks[0].Status = ledger.TokenProcessing
	toks[0].ProcessingSince = &since
	put(t, f.store, nil, toks)

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{StaleAfter: 10 * time.Minute})
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	if len(report.Claimed) != 1 {
		t.Errorf("report = %s, want stale claim redeemed", report)
	}
}

func TestProcessTokens_SkipsManualAndFutureTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour), now.Add(time.Hour))
	toks[0].AutoRedeem = false
	put(t, f.store, nil, toks)

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	if report.Scanned != 0 {
		t.Errorf("report = %s, want nothing due", report)
	}
}

func TestProcessTokens_DisabledSwitch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{
		Enabled: func() bool { return false },
	})
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	if report.Scanned != 0 || len(f.wallet.Calls()) != 0 {
		t.Errorf("disabled pass did work: %s", report)
	}
	if s := getToken(t, f.store, toks[0].ID).Status; s != ledger.TokenPending {
		t.Errorf("token = %s", s)
	}
}

func TestProcessTokens_CreatorRowNotifiesSubscriber(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))
	toks[0].Owner = subscription.OwnerCreator
	put(t, f.store, nil, toks)

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	if _, err := r.ProcessTokens(ctx); err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	sent := f.messenger.Sent()
	if len(sent) != 1 || sent[0].Npub != subscriber {
		t.Errorf("DMs = %+v, want one to the subscriber", sent)
	}
}

func TestProcessTokens_NotifyFailureDoesNotFailClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.messenger.Err = errors.New("relay down")
	_, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.ProcessTokens(ctx)
	if err != nil {
		t.Fatalf("ProcessTokens: %v", err)
	}
	if len(report.Failures) != 0 || len(report.Claimed) != 1 {
		t.Errorf("report = %s", report)
	}
	if s := getToken(t, f.store, toks[0].ID).Status; s != ledger.TokenClaimed {
		t.Errorf("token = %s, want claimed", s)
	}
}

func TestProcessTokens_SendsStoredTokenUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, toks := seedSubscription(t, f.store, "sub-1", true, now.Add(-time.Hour))

	// Locked to the x-only form of the creator key, as some wallets emit.
	xonly := creatorPub[2:]
	stored, err := cashu.Encode(cashu.NewToken(mintURL, cashu.DefaultUnit, []cashu.Proof{{
		ID:     "keyset-1",
		Amount: 100,
		Secret: `["P2PK",{"nonce":"5d11","data":"` + xonly + `","tags":[]}]`,
		C:      "02c0ffee",
	}}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	err = f.store.Update(ctx, func(tx ledger.Tx) error {
		tok, err := tx.LockedTokens().Get(ctx, toks[0].ID)
		if err != nil {
			return err
		}
		tok.TokenString = stored
		if err := tx.LockedTokens().Put(ctx, tok); err != nil {
			return err
		}
		sub, err := tx.Subscriptions().Get(ctx, "sub-1")
		if err != nil {
			return err
		}
		sub.Intervals[0].TokenString = stored
		return tx.Subscriptions().Put(ctx, sub)
	})
	if err != nil {
		t.Fatalf("rewrite token: %v", err)
	}

	r := redeem.NewLockedTokenRedeemer(f.store, f.deps(), redeem.Config{})
	report, err := r.ProcessTokens(ctx)
	if err != nil || len(report.Claimed) != 1 {
		t.Fatalf("ProcessTokens = %+v, %v", report, err)
	}

	calls := f.wallet.Calls()
	if len(calls) != 1 {
		t.Fatalf("receive calls = %d, want 1", len(calls))
	}
	if calls[0].Token != stored {
		t.Errorf("token sent to the mint differs from the stored one:\n got %s\nwant %s", calls[0].Token, stored)
	}
	if calls[0].Opts.PrivateKey != privateKey {
		t.Errorf("private key = %q, want %q", calls[0].Opts.PrivateKey, privateKey)
	}
}
