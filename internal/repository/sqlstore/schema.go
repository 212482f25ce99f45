package sqlstore

import (
	"context"
	"fmt"
)

// Entries and links are append-only; balances hold one row per account.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS point_entries (
	id           BIGSERIAL PRIMARY KEY,
	account_id   TEXT NOT NULL,
	type         TEXT NOT NULL CHECK (type IN ('SAVE', 'USE', 'EXPIRE', 'CANCEL_USE', 'CANCEL_SAVE')),
	amount       BIGINT NOT NULL CHECK (amount <> 0),
	occurred_at  TIMESTAMPTZ NOT NULL,
	expiry_at    TIMESTAMPTZ,
	ref_order_id TEXT,
	ref_entry_id BIGINT REFERENCES point_entries (id),
	reason       TEXT NOT NULL DEFAULT '',
	actor        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_point_entries_account_type_expiry ON point_entries (account_id, type, expiry_at);
CREATE INDEX IF NOT EXISTS idx_point_entries_account_occurred ON point_entries (account_id, occurred_at DESC, id DESC);
CREATE UNIQUE INDEX IF NOT EXISTS uq_point_entries_cancel_use ON point_entries (ref_entry_id) WHERE type = 'CANCEL_USE';

CREATE TABLE IF NOT EXISTS point_consume_links (
	save_entry_id      BIGINT NOT NULL REFERENCES point_entries (id),
	consuming_entry_id BIGINT NOT NULL REFERENCES point_entries (id),
	consumed_amount    BIGINT NOT NULL CHECK (consumed_amount > 0),
	PRIMARY KEY (save_entry_id, consuming_entry_id)
);

CREATE INDEX IF NOT EXISTS idx_point_consume_links_consuming ON point_consume_links (consuming_entry_id);

CREATE TABLE IF NOT EXISTS point_balances (
	account_id TEXT PRIMARY KEY,
	total      BIGINT NOT NULL DEFAULT 0,
	active     BIGINT NOT NULL DEFAULT 0 CHECK (active >= 0),
	used       BIGINT NOT NULL DEFAULT 0 CHECK (used >= 0),
	expired    BIGINT NOT NULL DEFAULT 0 CHECK (expired >= 0),
	updated_at TIMESTAMPTZ NOT NULL
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS point_entries (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id   TEXT NOT NULL,
	type         TEXT NOT NULL CHECK (type IN ('SAVE', 'USE', 'EXPIRE', 'CANCEL_USE', 'CANCEL_SAVE')),
	amount       INTEGER NOT NULL CHECK (amount <> 0),
	occurred_at  TIMESTAMP NOT NULL,
	expiry_at    TIMESTAMP,
	ref_order_id TEXT,
	ref_entry_id INTEGER REFERENCES point_entries (id),
	reason       TEXT NOT NULL DEFAULT '',
	actor        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_point_entries_account_type_expiry ON point_entries (account_id, type, expiry_at);
CREATE INDEX IF NOT EXISTS idx_point_entries_account_occurred ON point_entries (account_id, occurred_at DESC, id DESC);
CREATE UNIQUE INDEX IF NOT EXISTS uq_point_entries_cancel_use ON point_entries (ref_entry_id) WHERE type = 'CANCEL_USE';

CREATE TABLE IF NOT EXISTS point_consume_links (
	save_entry_id      INTEGER NOT NULL REFERENCES point_entries (id),
	consuming_entry_id INTEGER NOT NULL REFERENCES point_entries (id),
	consumed_amount    INTEGER NOT NULL CHECK (consumed_amount > 0),
	PRIMARY KEY (save_entry_id, consuming_entry_id)
);

CREATE INDEX IF NOT EXISTS idx_point_consume_links_consuming ON point_consume_links (consuming_entry_id);

CREATE TABLE IF NOT EXISTS point_balances (
	account_id TEXT PRIMARY KEY,
	total      INTEGER NOT NULL DEFAULT 0,
	active     INTEGER NOT NULL DEFAULT 0 CHECK (active >= 0),
	used       INTEGER NOT NULL DEFAULT 0 CHECK (used >= 0),
	expired    INTEGER NOT NULL DEFAULT 0 CHECK (expired >= 0),
	updated_at TIMESTAMP NOT NULL
);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.dialect.Name == SQLite.Name {
		schema = sqliteSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate %s schema: %w", s.dialect.Name, err)
	}
	return nil
}
