package subscription

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/flemzord/nutsub/internal/ledger"
)

// Projection keeps an in-memory view of the subscriptions table up to date
// from the store's change feed. Puts re-read the single changed row and
// deletes drop the key; only a feed reset triggers a full reload.
type Projection struct {
	store  ledger.Store
	filter func(ledger.Subscription) bool

	mu      sync.RWMutex
	rows    map[string]ledger.Subscription
	reloads int

	ready     chan struct{}
	readyOnce sync.Once
	updates   chan struct{}
}

// NewProjection creates a projection of the rows accepted by filter (all
// rows when filter is nil). Call Run to populate it.
func NewProjection(store ledger.Store, filter func(ledger.Subscription) bool) *Projection {
	if filter == nil {
		filter = func(ledger.Subscription) bool { return true }
	}
	return &Projection{
		store:   store,
		filter:  filter,
		rows:    make(map[string]ledger.Subscription),
		ready:   make(chan struct{}),
		updates: make(chan struct{}, 1),
	}
}

// Run loads the table and follows the change feed until ctx is done or
// the feed closes.
func (p *Projection) Run(ctx context.Context) error {
	changes, detach := p.store.Watch(ledger.TableSubscriptions)
	defer detach()

	if err := p.reload(ctx); err != nil {
		return err
	}
	p.readyOnce.Do(func() { close(p.ready) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			if err := p.apply(ctx, c); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			p.notify()
		}
	}
}

// Ready is closed once the initial load completed.
func (p *Projection) Ready() <-chan struct{} { return p.ready }

// Updates receives a value after each applied change. Bursts coalesce.
func (p *Projection) Updates() <-chan struct{} { return p.updates }

// Reloads returns how many full table loads were performed.
func (p *Projection) Reloads() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reloads
}

// Get returns one projected row.
func (p *Projection) Get(id string) (ledger.Subscription, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sub, ok := p.rows[id]
	if !ok {
		return ledger.Subscription{}, false
	}
	return sub.Clone(), true
}

// Snapshot returns the projected rows ordered by creation time.
func (p *Projection) Snapshot() []ledger.Subscription {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ledger.Subscription, 0, len(p.rows))
	for _, sub := range p.rows {
		out = append(out, sub.Clone())
	}
	slices.SortFunc(out, func(a, b ledger.Subscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (p *Projection) apply(ctx context.Context, c ledger.Change) error {
	switch c.Op {
	case ledger.OpDelete:
		p.mu.Lock()
		delete(p.rows, c.Key)
		p.mu.Unlock()
		return nil
	case ledger.OpReset:
		return p.reload(ctx)
	default:
		var sub ledger.Subscription
		err := p.store.View(ctx, func(tx ledger.Tx) error {
			var err error
			sub, err = tx.Subscriptions().Get(ctx, c.Key)
			return err
		})
		p.mu.Lock()
		defer p.mu.Unlock()
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			delete(p.rows, c.Key)
		case err != nil:
			return fmt.Errorf("subscription: projection get %s: %w", c.Key, err)
		case p.filter(sub):
			p.rows[c.Key] = sub
		default:
			delete(p.rows, c.Key)
		}
		return nil
	}
}

func (p *Projection) reload(ctx context.Context) error {
	var subs []ledger.Subscription
	err := p.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		subs, err = tx.Subscriptions().List(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("subscription: projection load: %w", err)
	}

	rows := make(map[string]ledger.Subscription, len(subs))
	for _, sub := range subs {
		if p.filter(sub) {
			rows[sub.ID] = sub
		}
	}

	p.mu.Lock()
	p.rows = rows
	p.reloads++
	p.mu.Unlock()
	return nil
}

func (p *Projection) notify() {
	select {
	case p.updates <- struct{}{}:
	default:
	}
}
