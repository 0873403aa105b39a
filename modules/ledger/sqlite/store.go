package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flemzord/nutsub/internal/ledger"
)

// Compile-time interface check.
var _ ledger.Store = (*DB)(nil)

// DB is the SQLite-backed ledger.Store. It also owns the wallet-side
// tables (proofs, payment history, keyset counters) of the same database.
type DB struct {
	sql  *sql.DB
	feed *ledger.Broadcaster

	// mu serialises Update so the change feed follows commit order.
	mu sync.Mutex

	proofs   *ProofStore
	history  *History
	counters *Counters
}

func newDB(db *sql.DB) *DB {
	return &DB{
		sql:      db,
		feed:     ledger.NewBroadcaster(),
		proofs:   &ProofStore{db: db},
		history:  &History{db: db},
		counters: &Counters{db: db},
	}
}

// Proofs returns the owned-proof store.
func (d *DB) Proofs() *ProofStore { return d.proofs }

// History returns the payment history.
func (d *DB) History() *History { return d.history }

// Counters returns the keyset counter store.
func (d *DB) Counters() *Counters { return d.counters }

// Ping checks the database connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// View implements ledger.Store.
func (d *DB) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin view: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(&sqlTx{tx: tx, readOnly: true})
}

// Update implements ledger.Store.
func (d *DB) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stx := &sqlTx{tx: tx}
	if err := fn(stx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}

	d.feed.Publish(stx.changes)
	return nil
}

// Watch implements ledger.Store.
func (d *DB) Watch(tables ...ledger.Table) (<-chan ledger.Change, func()) {
	return d.feed.Subscribe(tables...)
}

// Close implements ledger.Store.
func (d *DB) Close() error {
	d.feed.Close()
	return d.sql.Close()
}

type sqlTx struct {
	tx       *sql.Tx
	readOnly bool
	changes  []ledger.Change
}

func (tx *sqlTx) Subscriptions() ledger.SubscriptionTable { return sqlSubs{tx} }
func (tx *sqlTx) LockedTokens() ledger.LockedTokenTable   { return sqlTokens{tx} }

func (tx *sqlTx) writable() error {
	if tx.readOnly {
		return errors.New("sqlite: write in read-only transaction")
	}
	return nil
}

func (tx *sqlTx) record(table ledger.Table, op ledger.Op, key string) {
	tx.changes = append(tx.changes, ledger.Change{Table: table, Op: op, Key: key})
}

type sqlSubs struct{ tx *sqlTx }

func (t sqlSubs) Get(ctx context.Context, id string) (ledger.Subscription, error) {
	var data string
	err := t.tx.tx.QueryRowContext(ctx, "SELECT data FROM subscriptions WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Subscription{}, fmt.Errorf("sqlite: subscription %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Subscription{}, fmt.Errorf("sqlite: get subscription: %w", err)
	}
	return decodeRow[ledger.Subscription](data)
}

func (t sqlSubs) List(ctx context.Context) ([]ledger.Subscription, error) {
	return queryRows[ledger.Subscription](ctx, t.tx.tx,
		"SELECT data FROM subscriptions ORDER BY created_at, id")
}

func (t sqlSubs) ListByCreator(ctx context.Context, creatorNpub string) ([]ledger.Subscription, error) {
	return queryRows[ledger.Subscription](ctx, t.tx.tx,
		"SELECT data FROM subscriptions WHERE creator_npub = ? ORDER BY created_at, id", creatorNpub)
}

func (t sqlSubs) Put(ctx context.Context, sub ledger.Subscription) error {
	if err := t.tx.writable(); err != nil {
		return err
	}
	if sub.ID == "" {
		return errors.New("sqlite: subscription id is required")
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("sqlite: marshal subscription: %w", err)
	}
	_, err = t.tx.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO subscriptions (id, creator_npub, status, created_at, data)
		VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.CreatorNpub, string(sub.Status), sub.CreatedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put subscription: %w", err)
	}
	t.tx.record(ledger.TableSubscriptions, ledger.OpPut, sub.ID)
	return nil
}

func (t sqlSubs) Delete(ctx context.Context, id string) error {
	if err := t.tx.writable(); err != nil {
		return err
	}
	res, err := t.tx.tx.ExecContext(ctx, "DELETE FROM subscriptions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: subscription %s: %w", id, ledger.ErrNotFound)
	}
	t.tx.record(ledger.TableSubscriptions, ledger.OpDelete, id)
	return nil
}

type sqlTokens struct{ tx *sqlTx }

func (t sqlTokens) Get(ctx context.Context, id string) (ledger.LockedToken, error) {
	var data string
	err := t.tx.tx.QueryRowContext(ctx, "SELECT data FROM locked_tokens WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.LockedToken{}, fmt.Errorf("sqlite: locked token %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.LockedToken{}, fmt.Errorf("sqlite: get locked token: %w", err)
	}
	return decodeRow[ledger.LockedToken](data)
}

func (t sqlTokens) List(ctx context.Context) ([]ledger.LockedToken, error) {
	return queryRows[ledger.LockedToken](ctx, t.tx.tx,
		"SELECT data FROM locked_tokens ORDER BY unlock_at, id")
}

// Due mirrors ledger.LockedToken.Due in SQL.
func (t sqlTokens) Due(ctx context.Context, now, staleBefore time.Time) ([]ledger.LockedToken, error) {
	return queryRows[ledger.LockedToken](ctx, t.tx.tx, `
		SELECT data FROM locked_tokens
		WHERE auto_redeem = 1
		  AND unlock_at <= ?
		  AND (status = ? OR (status = ? AND processing_since IS NOT NULL AND processing_since < ?))
		ORDER BY unlock_at, id`,
		now.UnixNano(), string(ledger.TokenPending), string(ledger.TokenProcessing), staleBefore.UnixNano(),
	)
}

func (t sqlTokens) Put(ctx context.Context, tok ledger.LockedToken) error {
	if err := t.tx.writable(); err != nil {
		return err
	}
	if tok.ID == "" {
		return errors.New("sqlite: locked token id is required")
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("sqlite: marshal locked token: %w", err)
	}
	var since sql.NullInt64
	if tok.ProcessingSince != nil {
		since = sql.NullInt64{Int64: tok.ProcessingSince.UnixNano(), Valid: true}
	}
	auto := 0
	if tok.AutoRedeem {
		auto = 1
	}
	_, err = t.tx.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO locked_tokens (id, subscription_id, status, auto_redeem, unlock_at, processing_since, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tok.ID, tok.SubscriptionID, string(tok.Status), auto, tok.UnlockAt.UnixNano(), since, string(data),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put locked token: %w", err)
	}
	t.tx.record(ledger.TableLockedTokens, ledger.OpPut, tok.ID)
	return nil
}

func (t sqlTokens) BulkDelete(ctx context.Context, ids []string) error {
	if err := t.tx.writable(); err != nil {
		return err
	}
	for _, id := range ids {
		res, err := t.tx.tx.ExecContext(ctx, "DELETE FROM locked_tokens WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("sqlite: delete locked token %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			t.tx.record(ledger.TableLockedTokens, ledger.OpDelete, id)
		}
	}
	return nil
}

func decodeRow[T any](data string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return v, fmt.Errorf("sqlite: decode row: %w", err)
	}
	return v, nil
}

func queryRows[T any](ctx context.Context, tx *sql.Tx, query string, args ...any) ([]T, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		v, err := decodeRow[T](data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}
	return out, nil
}
