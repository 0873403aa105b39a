package ledger

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// InMemoryStore is a thread-safe, in-memory implementation of Store.
// Update transactions work on copies of both tables and swap them in on
// commit, so a failed transaction leaves no trace.
type InMemoryStore struct {
	mu     sync.RWMutex
	subs   map[string]Subscription
	tokens map[string]LockedToken
	feed   *Broadcaster
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		subs:   make(map[string]Subscription),
		tokens: make(map[string]LockedToken),
		feed:   NewBroadcaster(),
	}
}

// Compile-time interface check.
var _ Store = (*InMemoryStore)(nil)

// View implements Store.
func (s *InMemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&memTx{subs: s.subs, tokens: s.tokens, readOnly: true})
}

// Update implements Store.
func (s *InMemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		subs:   maps.Clone(s.subs),
		tokens: maps.Clone(s.tokens),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.subs = tx.subs
	s.tokens = tx.tokens

	// Publish never blocks, so holding the lock keeps feed order equal to
	// commit order.
	s.feed.Publish(tx.changes)
	return nil
}

// Watch implements Store.
func (s *InMemoryStore) Watch(tables ...Table) (<-chan Change, func()) {
	return s.feed.Subscribe(tables...)
}

// Close implements Store.
func (s *InMemoryStore) Close() error {
	s.feed.Close()
	return nil
}

type memTx struct {
	subs     map[string]Subscription
	tokens   map[string]LockedToken
	readOnly bool
	changes  []Change
}

func (tx *memTx) Subscriptions() SubscriptionTable { return memSubs{tx} }
func (tx *memTx) LockedTokens() LockedTokenTable   { return memTokens{tx} }

func (tx *memTx) writable() error {
	if tx.readOnly {
		return fmt.Errorf("ledger: write in read-only transaction")
	}
	return nil
}

type memSubs struct{ tx *memTx }

func (t memSubs) Get(_ context.Context, id string) (Subscription, error) {
	sub, ok := t.tx.subs[id]
	if !ok {
		return Subscription{}, fmt.Errorf("ledger: subscription %s: %w", id, ErrNotFound)
	}
	return sub.Clone(), nil
}

func (t memSubs) List(_ context.Context) ([]Subscription, error) {
	out := make([]Subscription, 0, len(t.tx.subs))
	for _, sub := range t.tx.subs {
		out = append(out, sub.Clone())
	}
	sortSubscriptions(out)
	return out, nil
}

func (t memSubs) ListByCreator(_ context.Context, creatorNpub string) ([]Subscription, error) {
	var out []Subscription
	for _, sub := range t.tx.subs {
		if sub.CreatorNpub == creatorNpub {
			out = append(out, sub.Clone())
		}
	}
	sortSubscriptions(out)
	return out, nil
}

func (t memSubs) Put(_ context.Context, sub Subscription) error {
	if err := t.tx.writable(); err != nil {
		return err
	}
	if sub.ID == "" {
		return fmt.Errorf("ledger: subscription id is required")
	}
	t.tx.subs[sub.ID] = sub.Clone()
	t.tx.changes = append(t.tx.changes, Change{Table: TableSubscriptions, Op: OpPut, Key: sub.ID})
	return nil
}

func (t memSubs) Delete(_ context.Context, id string) error {
	if err := t.tx.writable(); err != nil {
		return err
	}
	if _, ok := t.tx.subs[id]; !ok {
		return fmt.Errorf("ledger: subscription %s: %w", id, ErrNotFound)
	}
	delete(t.tx.subs, id)
	t.tx.changes = append(t.tx.changes, Change{Table: TableSubscriptions, Op: OpDelete, Key: id})
	return nil
}

type memTokens struct{ tx *memTx }

func (t memTokens) Get(_ context.Context, id string) (LockedToken, error) {
	tok, ok := t.tx.tokens[id]
	if !ok {
		return LockedToken{}, fmt.Errorf("ledger: locked token %s: %w", id, ErrNotFound)
	}
	return tok.Clone(), nil
}

func (t memTokens) List(_ context.Context) ([]LockedToken, error) {
	out := make([]LockedToken, 0, len(t.tx.tokens))
	for _, tok := range t.tx.tokens {
		out = append(out, tok.Clone())
	}
	sortTokens(out)
	return out, nil
}

func (t memTokens) Due(_ context.Context, now, staleBefore time.Time) ([]LockedToken, error) {
	var out []LockedToken
	for _, tok := range t.tx.tokens {
		if tok.Due(now, staleBefore) {
			out = append(out, tok.Clone())
		}
	}
	sortTokens(out)
	return out, nil
}

func (t memTokens) Put(_ context.Context, tok LockedToken) error {
	if err := t.tx.writable(); err != nil {
		return err
	}
	if tok.ID == "" {
		return fmt.Errorf("ledger: locked token id is required")
	}
	t.tx.tokens[tok.ID] = tok.Clone()
	t.tx.changes = append(t.tx.changes, Change{Table: TableLockedTokens, Op: OpPut, Key: tok.ID})
	return nil
}

func (t memTokens) BulkDelete(_ context.Context, ids []string) error {
	if err := t.tx.writable(); err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := t.tx.tokens[id]; !ok {
			continue
		}
		delete(t.tx.tokens, id)
		t.tx.changes = append(t.tx.changes, Change{Table: TableLockedTokens, Op: OpDelete, Key: id})
	}
	return nil
}

func sortSubscriptions(subs []Subscription) {
	slices.SortFunc(subs, func(a, b Subscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func sortTokens(toks []LockedToken) {
	slices.SortFunc(toks, func(a, b LockedToken) int {
		if c := a.UnlockAt.Compare(b.UnlockAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
