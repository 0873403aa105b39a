package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/redeem"
)

func TestProofStore_AddIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	store := db.Proofs()

	proofs := []cashu.Proof{
		{ID: "ks-sat", Amount: 64, Secret: "s1", C: "02aa"},
		{ID: "ks-sat", Amount: 32, Secret: "s2", C: "02bb"},
	}
	for range 2 {
		if err := store.AddProofs(ctx, proofs, "https://mint.example", "tier-gold", "payment"); err != nil {
			t.Fatalf("AddProofs: %v", err)
		}
	}

	got, err := store.Proofs(ctx, "https://mint.example", cashu.DefaultUnit)
	if err != nil {
		t.Fatalf("Proofs: %v", err)
	}
	if len(got) != 2 || got[0].Secret != "s2" || got[1].Secret != "s1" {
		t.Errorf("Proofs = %+v", got)
	}

	balance, err := store.Balance(ctx, "https://mint.example")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance["tier-gold"] != 96 {
		t.Errorf("balance = %v, want tier-gold=96", balance)
	}
}

func TestProofStore_UnitFromKeyset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	mint := "https://mint.example"

	if err := db.Counters().RegisterKeyset(ctx, "ks-usd", mint, "usd"); err != nil {
		t.Fatalf("RegisterKeyset: %v", err)
	}
	err := db.Proofs().AddProofs(ctx, []cashu.Proof{
		{ID: "ks-usd", Amount: 5, Secret: "usd-1", C: "02aa"},
		{ID: "ks-unknown", Amount: 8, Secret: "sat-1", C: "02bb"},
	}, mint, "", "")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		unit string
		want string
	}{
		{"usd", "usd-1"},
		{cashu.DefaultUnit, "sat-1"},
	}
	for _, tt := range tests {
		got, err := db.Proofs().Proofs(ctx, mint, tt.unit)
		if err != nil {
			t.Fatalf("Proofs(%s): %v", tt.unit, err)
		}
		if len(got) != 1 || got[0].Secret != tt.want {
			t.Errorf("Proofs(%s) = %+v, want %s", tt.unit, got, tt.want)
		}
	}

	other, err := db.Proofs().Proofs(ctx, "https://other.example", cashu.DefaultUnit)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("proofs leaked across mints: %+v", other)
	}
}

func TestHistory_Recent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	h := db.History()

	for i, token := range []string{"cashuA1", "cashuA2", "cashuA3"} {
		err := h.AddPaidToken(ctx, redeem.PaidToken{
			Amount:   uint64(10 * (i + 1)),
			Token:    token,
			Mint:     "https://mint.example",
			Unit:     cashu.DefaultUnit,
			Label:    "payment",
			BucketID: "tier",
			Date:     t0.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AddPaidToken: %v", err)
		}
	}

	got, err := h.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d entries", len(got))
	}
	if got[0].Token != "cashuA3" || got[1].Token != "cashuA2" {
		t.Errorf("order = %s, %s", got[0].Token, got[1].Token)
	}
	if got[0].Amount != 30 || !got[0].Date.Equal(t0.Add(2*time.Minute)) || got[0].BucketID != "tier" {
		t.Errorf("entry = %+v", got[0])
	}

	none, err := h.Recent(ctx, 0)
	if err != nil || none != nil {
		t.Errorf("Recent(0) = %v, %v", none, err)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	c := db.Counters()

	n, err := c.Counter(ctx, "ks")
	if err != nil || n != 0 {
		t.Fatalf("Counter on unknown keyset = %d, %v", n, err)
	}

	if err := c.Increase(ctx, "ks", 3); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterKeyset(ctx, "ks", "https://mint.example", "sat"); err != nil {
		t.Fatal(err)
	}
	if err := c.Increase(ctx, "ks", 4); err != nil {
		t.Fatal(err)
	}

	n, err = c.Counter(ctx, "ks")
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Errorf("Counter = %d, want 7 (registration keeps the counter)", n)
	}
}
