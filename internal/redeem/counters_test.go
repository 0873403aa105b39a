package redeem_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flemzord/nutsub/internal/redeem"
)

type fakeSource struct {
	id    string
	err   error
	calls int
}

func (s *fakeSource) ActiveKeyset(context.Context, string, string) (string, error) {
	s.calls++
	return s.id, s.err
}

type fakeCounterStore struct {
	registered map[string]string
	counters   map[string]uint32
	regErr     error
}

func (s *fakeCounterStore) Counter(_ context.Context, id string) (uint32, error) {
	return s.counters[id], nil
}

func (s *fakeCounterStore) Increase(_ context.Context, id string, n uint32) error {
	if s.counters == nil {
		s.counters = make(map[string]uint32)
	}
	s.counters[id] += n
	return nil
}

func (s *fakeCounterStore) RegisterKeyset(_ context.Context, id, mint, unit string) error {
	if s.regErr != nil {
		return s.regErr
	}
	if s.registered == nil {
		s.registered = make(map[string]string)
	}
	s.registered[id] = mint + "/" + unit
	return nil
}

func TestKeysetCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	source := &fakeSource{id: "ks-1"}
	store := &fakeCounterStore{}
	c := redeem.NewKeysetCounters(source, store)

	for range 2 {
		id, err := c.Keyset(ctx, mintURL, "sat")
		if err != nil {
			t.Fatalf("Keyset: %v", err)
		}
		if id != "ks-1" {
			t.Errorf("Keyset = %s", id)
		}
	}
	if source.calls != 2 {
		t.Errorf("source calls = %d, want 2", source.calls)
	}
	if got := store.registered["ks-1"]; got != mintURL+"/sat" {
		t.Errorf("registered = %q", got)
	}

	if err := c.Increase(ctx, "ks-1", 3); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Counter(ctx, "ks-1"); n != 3 {
		t.Errorf("Counter = %d, want 3", n)
	}
}

func TestKeysetCounters_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")

	c := redeem.NewKeysetCounters(&fakeSource{err: boom}, &fakeCounterStore{})
	if _, err := c.Keyset(ctx, mintURL, "sat"); !errors.Is(err, boom) {
		t.Errorf("source error = %v", err)
	}

	c = redeem.NewKeysetCounters(&fakeSource{id: "ks"}, &fakeCounterStore{regErr: boom})
	if _, err := c.Keyset(ctx, mintURL, "sat"); !errors.Is(err, boom) {
		t.Errorf("register error = %v", err)
	}
}
