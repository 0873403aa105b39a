package ledger

import (
	"context"
	"time"
)

// Table names the persisted collections.
type Table string

// Tables.
const (
	TableSubscriptions Table = "subscriptions"
	TableLockedTokens  Table = "locked_tokens"
)

// SubscriptionTable is the keyed subscriptions collection as seen inside a
// transaction.
type SubscriptionTable interface {
	Get(ctx context.Context, id string) (Subscription, error)
	List(ctx context.Context) ([]Subscription, error)
	ListByCreator(ctx context.Context, creatorNpub string) ([]Subscription, error)
	Put(ctx context.Context, sub Subscription) error
	Delete(ctx context.Context, id string) error
}

// LockedTokenTable is the keyed locked-token collection as seen inside a
// transaction.
type LockedTokenTable interface {
	Get(ctx context.Context, id string) (LockedToken, error)
	List(ctx context.Context) ([]LockedToken, error)

	// Due returns the tokens for which LockedToken.Due holds, ordered by
	// unlock time.
	Due(ctx context.Context, now, staleBefore time.Time) ([]LockedToken, error)

	Put(ctx context.Context, tok LockedToken) error

	// BulkDelete removes every listed id. Missing ids are ignored.
	BulkDelete(ctx context.Context, ids []string) error
}

// Tx exposes both tables inside one transaction.
type Tx interface {
	Subscriptions() SubscriptionTable
	LockedTokens() LockedTokenTable
}

// Store is a transactional store over the subscription and locked-token
// tables. Update transactions are serialised; a failing fn rolls back every
// write it made across both tables.
// Implementations must be safe for concurrent use.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Update runs fn in a read-write transaction and commits if fn
	// returns nil.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Watch returns a feed of committed changes to the given tables (all
	// tables when none are given) and a function that detaches it.
	Watch(tables ...Table) (<-chan Change, func())

	Close() error
}
