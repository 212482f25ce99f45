// Package sqlstore implements repository.Store on database/sql. The same
// queries run on PostgreSQL and SQLite; Dialect covers the differences.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pointledger/internal/repository"
)

type Dialect struct {
	Name string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// row lock appended to the balance select inside a transaction
	lockClause string
}

var (
	Postgres = Dialect{Name: "postgres", numbered: true, lockClause: " FOR UPDATE"}
	// SQLite relies on BEGIN IMMEDIATE (see OpenSQLite) to serialise writers.
	SQLite = Dialect{Name: "sqlite3"}
)

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	inTx    bool
	clock   func() time.Time
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, q: db, dialect: dialect, clock: time.Now}
}

// WithClock sets the clock used for balance timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ledger() repository.LedgerRepository     { return &ledgerRepository{s: s} }
func (s *Store) Links() repository.ConsumeLinkRepository { return &linkRepository{s: s} }
func (s *Store) Balances() repository.BalanceRepository  { return &balanceRepository{s: s} }

// WithTx runs fn in one database transaction. Nested calls reuse the
// outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &Store{db: s.db, q: sqlTx, dialect: s.dialect, inTx: true, clock: s.clock}
	if err := fn(ctx, txStore); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) rebind(query string) string { return s.dialect.Rebind(query) }

func (s *Store) now() time.Time { return s.clock().UTC() }
