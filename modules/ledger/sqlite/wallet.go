package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/nutsub/internal/cashu"
	"github.com/flemzord/nutsub/internal/redeem"
)

// Compile-time interface checks.
var (
	_ redeem.ProofStore     = (*ProofStore)(nil)
	_ redeem.PaymentHistory = (*History)(nil)
	_ redeem.CounterStore   = (*Counters)(nil)
)

// ProofStore persists owned proofs.
type ProofStore struct {
	db *sql.DB
}

// AddProofs implements redeem.ProofStore. Proofs are keyed by secret, so
// storing the same proof twice is a no-op.
func (s *ProofStore) AddProofs(ctx context.Context, proofs []cashu.Proof, mintURL, bucketID, label string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin add proofs: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range proofs {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("sqlite: marshal proof: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO proofs (secret, mint_url, keyset_id, amount, bucket_id, label, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.Secret, mintURL, p.ID, int64(p.Amount), bucketID, label, string(data),
		)
		if err != nil {
			return fmt.Errorf("sqlite: add proof: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit proofs: %w", err)
	}
	return nil
}

// Proofs implements redeem.ProofStore. A proof's unit comes from its
// keyset; proofs of keysets never registered count as DefaultUnit.
func (s *ProofStore) Proofs(ctx context.Context, mintURL, unit string) ([]cashu.Proof, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.data FROM proofs p
		LEFT JOIN keyset_counters k ON k.keyset_id = p.keyset_id
		WHERE p.mint_url = ? AND COALESCE(NULLIF(k.unit, ''), ?) = ?
		ORDER BY p.amount, p.secret`,
		mintURL, cashu.DefaultUnit, unit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list proofs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []cashu.Proof
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite: scan proof: %w", err)
		}
		p, err := decodeRow[cashu.Proof](data)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: proof rows: %w", err)
	}
	return out, nil
}

// Balance returns the total amount of owned proofs at a mint per bucket.
func (s *ProofStore) Balance(ctx context.Context, mintURL string) (map[string]uint64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT bucket_id, SUM(amount) FROM proofs WHERE mint_url = ? GROUP BY bucket_id", mintURL)
	if err != nil {
		return nil, fmt.Errorf("sqlite: balance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]uint64)
	for rows.Next() {
		var (
			bucket string
			total  int64
		)
		if err := rows.Scan(&bucket, &total); err != nil {
			return nil, fmt.Errorf("sqlite: scan balance: %w", err)
		}
		out[bucket] = uint64(total)
	}
	return out, rows.Err()
}

// History records received payments.
type History struct {
	db *sql.DB
}

// AddPaidToken implements redeem.PaymentHistory.
func (h *History) AddPaidToken(ctx context.Context, t redeem.PaidToken) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO history_tokens (amount, token, mint, unit, label, bucket_id, date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(t.Amount), t.Token, t.Mint, t.Unit, t.Label, t.BucketID, t.Date.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: add paid token: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]redeem.PaidToken, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT amount, token, mint, unit, label, bucket_id, date
		FROM history_tokens
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []redeem.PaidToken
	for rows.Next() {
		var (
			t      redeem.PaidToken
			amount int64
			date   int64
		)
		if err := rows.Scan(&amount, &t.Token, &t.Mint, &t.Unit, &t.Label, &t.BucketID, &date); err != nil {
			return nil, fmt.Errorf("sqlite: scan history: %w", err)
		}
		t.Amount = uint64(amount)
		t.Date = time.Unix(0, date).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: history rows: %w", err)
	}
	return out, nil
}

// Counters stores the deterministic-secret counter of each keyset.
type Counters struct {
	db *sql.DB
}

// Counter returns the current counter of keysetID, zero when unknown.
func (c *Counters) Counter(ctx context.Context, keysetID string) (uint32, error) {
	var n int64
	err := c.db.QueryRowContext(ctx,
		"SELECT counter FROM keyset_counters WHERE keyset_id = ?", keysetID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: get counter: %w", err)
	}
	return uint32(n), nil
}

// Increase adds n to the counter of keysetID.
func (c *Counters) Increase(ctx context.Context, keysetID string, n uint32) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO keyset_counters (keyset_id, counter) VALUES (?, ?)
		ON CONFLICT(keyset_id) DO UPDATE SET counter = counter + excluded.counter`,
		keysetID, int64(n),
	)
	if err != nil {
		return fmt.Errorf("sqlite: increase counter: %w", err)
	}
	return nil
}

// RegisterKeyset records which mint and unit a keyset belongs to. The
// counter of an already known keyset is kept.
func (c *Counters) RegisterKeyset(ctx context.Context, keysetID, mintURL, unit string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO keyset_counters (keyset_id, mint_url, unit) VALUES (?, ?, ?)
		ON CONFLICT(keyset_id) DO UPDATE SET mint_url = excluded.mint_url, unit = excluded.unit`,
		keysetID, mintURL, unit,
	)
	if err != nil {
		return fmt.Errorf("sqlite: register keyset: %w", err)
	}
	return nil
}
