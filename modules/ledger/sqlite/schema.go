package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application. Ledger rows keep
// the full record as JSON in data; the other columns exist for queries.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id           TEXT    PRIMARY KEY,
		creator_npub TEXT    NOT NULL,
		status       TEXT    NOT NULL,
		created_at   INTEGER NOT NULL,
		data         TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_subscriptions_creator ON subscriptions(creator_npub)`,

	`CREATE TABLE IF NOT EXISTS locked_tokens (
		id               TEXT    PRIMARY KEY,
		subscription_id  TEXT    NOT NULL DEFAULT '',
		status           TEXT    NOT NULL,
		auto_redeem      INTEGER NOT NULL DEFAULT 0,
		unlock_at        INTEGER NOT NULL,
		processing_since INTEGER,
		data             TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_locked_tokens_due ON locked_tokens(status, unlock_at)`,

	`CREATE TABLE IF NOT EXISTS proofs (
		secret     TEXT    PRIMARY KEY,
		mint_url   TEXT    NOT NULL,
		keyset_id  TEXT    NOT NULL,
		amount     INTEGER NOT NULL,
		bucket_id  TEXT    NOT NULL DEFAULT '',
		label      TEXT    NOT NULL DEFAULT '',
		data       TEXT    NOT NULL,
		created_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_proofs_mint ON proofs(mint_url, keyset_id)`,

	`CREATE TABLE IF NOT EXISTS history_tokens (
		seq       INTEGER PRIMARY KEY AUTOINCREMENT,
		amount    INTEGER NOT NULL,
		token     TEXT    NOT NULL,
		mint      TEXT    NOT NULL,
		unit      TEXT    NOT NULL,
		label     TEXT    NOT NULL DEFAULT '',
		bucket_id TEXT    NOT NULL DEFAULT '',
		date      INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS keyset_counters (
		keyset_id TEXT    PRIMARY KEY,
		mint_url  TEXT    NOT NULL DEFAULT '',
		unit      TEXT    NOT NULL DEFAULT '',
		counter   INTEGER NOT NULL DEFAULT 0
	)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
