package redeem_test

import (
	"context"
	"testing"
	"time"

	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/redeem"
)

func TestMaturityJob_Advance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	active, _ := seedSubscription(t, f.store, "active", false,
		now.Add(-time.Hour),
		now.Add(-time.Minute),
		now.Add(time.Hour),
	)

	cancelled, _ := seedSubscription(t, f.store, "cancelled", false,
		now.Add(-3*time.Hour),
		now.Add(-time.Hour),
	)
	at := now.Add(-2 * time.Hour)
	cancelled.Status = ledger.SubscriptionCancelled
	cancelled.CancelledAt = &at
	put(t, f.store, []ledger.Subscription{cancelled}, nil)

	held, _ := seedSubscription(t, f.store, "held", false, now.Add(-3*time.Hour), now.Add(-2*time.Hour))
	stale := now.Add(-time.Hour)
	fresh := now.Add(-time.Minute)
	held.Intervals[0].Status = ledger.IntervalProcessing
	held.Intervals[0].ProcessingSince = &stale
	held.Intervals[1].Status = ledger.IntervalProcessing
	held.Intervals[1].ProcessingSince = &fresh
	put(t, f.store, []ledger.Subscription{held}, nil)

	job := redeem.NewMaturityJob(f.store, f.deps(), redeem.Config{StaleAfter: 10 * time.Minute})
	report, err := job.Advance(ctx)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if report.Matured != 3 || report.Released != 1 {
		t.Errorf("report = %+v, want 3 matured and 1 released", report)
	}

	statuses := func(id string) []ledger.IntervalStatus {
		var out []ledger.IntervalStatus
		for _, iv := range getSubscription(t, f.store, id).Intervals {
			out = append(out, iv.Status)
		}
		return out
	}
	tests := []struct {
		id   string
		want []ledger.IntervalStatus
	}{
		{active.ID, []ledger.IntervalStatus{ledger.IntervalUnlockable, ledger.IntervalUnlockable, ledger.IntervalPending}},
		{cancelled.ID, []ledger.IntervalStatus{ledger.IntervalUnlockable, ledger.IntervalPending}},
		{held.ID, []ledger.IntervalStatus{ledger.IntervalUnlockable, ledger.IntervalProcessing}},
	}
	for _, tt := range tests {
		got := statuses(tt.id)
		if len(got) != len(tt.want) {
			t.Fatalf("%s: %d intervals", tt.id, len(got))
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s interval %d = %s, want %s", tt.id, i, got[i], tt.want[i])
			}
		}
	}

	again, err := job.Advance(ctx)
	if err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	if again.Matured != 0 || again.Released != 0 {
		t.Errorf("second pass = %+v, want no changes", again)
	}
}

func TestMaturityThenIntervalRedeemer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sub, _ := seedSubscription(t, f.store, "sub-1", false, now.Add(-time.Hour), now.Add(time.Hour))

	if _, err := redeem.NewMaturityJob(f.store, f.deps(), redeem.Config{}).Advance(ctx); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	report, err := redeem.NewIntervalRedeemer(f.store, f.deps(), redeem.Config{}).Process(ctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Claimed) != 1 {
		t.Fatalf("report = %s", report)
	}
	got := getSubscription(t, f.store, sub.ID)
	if got.Intervals[0].Status != ledger.IntervalClaimed || got.Intervals[1].Status != ledger.IntervalPending {
		t.Errorf("intervals = %s, %s", got.Intervals[0].Status, got.Intervals[1].Status)
	}
}
