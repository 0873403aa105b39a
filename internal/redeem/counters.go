package redeem

import (
	"context"
	"fmt"
	"sync"
)

// KeysetSource looks up the active keyset of a mint for a unit.
type KeysetSource interface {
	ActiveKeyset(ctx context.Context, mintURL, unit string) (string, error)
}

// CounterStore persists keyset counters and the mint and unit each keyset
// belongs to.
type CounterStore interface {
	Counter(ctx context.Context, keysetID string) (uint32, error)
	Increase(ctx context.Context, keysetID string, n uint32) error
	RegisterKeyset(ctx context.Context, keysetID, mintURL, unit string) error
}

// KeysetCounters implements Counters on top of a live keyset lookup and a
// persistent counter store. A keyset is registered with the store the
// first time it is seen.
type KeysetCounters struct {
	source KeysetSource
	store  CounterStore

	mu         sync.Mutex
	registered map[string]bool
}

var _ Counters = (*KeysetCounters)(nil)

// NewKeysetCounters returns a Counters backed by source and store.
func NewKeysetCounters(source KeysetSource, store CounterStore) *KeysetCounters {
	return &KeysetCounters{
		source:     source,
		store:      store,
		registered: make(map[string]bool),
	}
}

// Keyset implements Counters.
func (c *KeysetCounters) Keyset(ctx context.Context, mintURL, unit string) (string, error) {
	id, err := c.source.ActiveKeyset(ctx, mintURL, unit)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	known := c.registered[id]
	c.mu.Unlock()
	if known {
		return id, nil
	}

	if err := c.store.RegisterKeyset(ctx, id, mintURL, unit); err != nil {
		return "", fmt.Errorf("redeem: register keyset %s: %w", id, err)
	}
	c.mu.Lock()
	c.registered[id] = true
	c.mu.Unlock()
	return id, nil
}

// Counter implements Counters.
func (c *KeysetCounters) Counter(ctx context.Context, keysetID string) (uint32, error) {
	return c.store.Counter(ctx, keysetID)
}

// Increase implements Counters.
func (c *KeysetCounters) Increase(ctx context.Context, keysetID string, n uint32) error {
	return c.store.Increase(ctx, keysetID, n)
}
