package sqlstore

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointledger/internal/domain"
	"pointledger/internal/repository"
)

var fixed = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T, dialect Dialect) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, dialect).WithClock(func() time.Time { return fixed }), mock
}

var entryCols = []string{"id", "account_id", "type", "amount", "occurred_at", "expiry_at", "ref_order_id", "ref_entry_id", "reason", "actor"}
var balanceCols = []string{"account_id", "total", "active", "used", "expired", "updated_at"}

func TestDialect_Rebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b IN (?, ?)"
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", Postgres.Rebind(q))
	assert.Equal(t, q, SQLite.Rebind(q))
}

func TestLedgerRepository_CreateEntry(t *testing.T) {
	store, mock := newMockStore(t, Postgres)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		exp := fixed.Add(24 * time.Hour)
		entry := &domain.LedgerEntry{
			AccountID:  "acct-1",
			Type:       domain.EntryTypeSave,
			Amount:     100,
			OccurredAt: fixed,
			ExpiryAt:   &exp,
			Reason:     "signup",
			Actor:      "promo",
		}

		mock.ExpectQuery(`INSERT INTO point_entries .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9\) RETURNING id`).
			WithArgs("acct-1", "SAVE", int64(100), fixed, exp, nil, nil, "signup", "promo").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		err := store.Ledger().CreateEntry(ctx, entry)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), entry.ID)
	})

	t.Run("Failure", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO point_entries").WillReturnError(errors.New("check constraint"))

		err := store.Ledger().CreateEntry(ctx, &domain.LedgerEntry{AccountID: "acct-1", Type: domain.EntryTypeUse, Amount: 0})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert ledger entry")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_GetEntry(t *testing.T) {
	store, mock := newMockStore(t, Postgres)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`SELECT e.id, .* FROM point_entries e WHERE e.id = \$1`).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(entryCols).
				AddRow(int64(3), "acct-1", "CANCEL_USE", int64(10), fixed, nil, "order-1", int64(2), "refund", "support"))

		e, err := store.Ledger().GetEntry(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, domain.EntryTypeCancelUse, e.Type)
		assert.Nil(t, e.ExpiryAt)
		require.NotNil(t, e.RefOrderID)
		assert.Equal(t, "order-1", *e.RefOrderID)
		require.NotNil(t, e.RefEntryID)
		assert.Equal(t, int64(2), *e.RefEntryID)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("FROM point_entries e WHERE e.id").
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows(entryCols))

		_, err := store.Ledger().GetEntry(ctx, 9)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("UnknownType", func(t *testing.T) {
		mock.ExpectQuery("FROM point_entries e WHERE e.id").
			WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows(entryCols).
				AddRow(int64(4), "acct-1", "REFUND", int64(10), fixed, nil, nil, nil, "", ""))

		_, err := store.Ledger().GetEntry(ctx, 4)
		assert.ErrorIs(t, err, domain.ErrUnknownEntryType)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_ListCapacities(t *testing.T) {
	store, mock := newMockStore(t, Postgres)
	ctx := context.Background()
	exp := fixed.Add(time.Hour)

	mock.ExpectQuery(`WHERE e.account_id = \$1 AND e.type IN \('SAVE', 'CANCEL_USE'\) .* > 0\s+ORDER BY CASE WHEN e.expiry_at IS NULL THEN 1 ELSE 0 END`).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows(append(entryCols, "remaining")).
			AddRow(int64(1), "acct-1", "SAVE", int64(100), fixed, exp, nil, nil, "", "", int64(40)).
			AddRow(int64(5), "acct-1", "CANCEL_USE", int64(30), fixed, nil, nil, int64(4), "", "", int64(30)))

	caps, err := store.Ledger().ListCapacities(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, caps, 2)
	assert.Equal(t, int64(40), caps[0].Remaining)
	require.NotNil(t, caps[0].Entry.ExpiryAt)
	assert.True(t, exp.Equal(*caps[0].Entry.ExpiryAt))
	assert.Equal(t, domain.EntryTypeCancelUse, caps[1].Entry.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_ListEntries(t *testing.T) {
	store, mock := newMockStore(t, Postgres)
	ctx := context.Background()
	from := fixed.Add(-time.Hour)

	mock.ExpectQuery(`SELECT count\(\*\) FROM point_entries e WHERE e.account_id = \$1 AND e.type IN \(\$2, \$3\) AND e.occurred_at >= \$4`).
		WithArgs("acct-1", "USE", "EXPIRE", from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`ORDER BY e.occurred_at DESC, e.id DESC LIMIT \$5 OFFSET \$6`).
		WithArgs("acct-1", "USE", "EXPIRE", from, int64(2), int64(2)).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow(int64(1), "acct-1", "USE", int64(-5), fixed, nil, nil, nil, "", ""))

	entries, count, err := store.Ledger().ListEntries(ctx, domain.HistoryQuery{
		AccountID: "acct-1",
		Types:     []domain.EntryType{domain.EntryTypeUse, domain.EntryTypeExpire},
		From:      &from,
		Page:      2,
		PageSize:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), count)
	assert.Len(t, entries, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_ListEntries_LargePage(t *testing.T) {
	store, mock := newMockStore(t, Postgres)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT count\(\*\) FROM point_entries e WHERE e.account_id = \$1`).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`LIMIT \$2 OFFSET \$3`).
		WithArgs("acct-1", int64(20), int64(math.MaxInt32-1)*20).
		WillReturnRows(sqlmock.NewRows(entryCols))

	entries, count, err := store.Ledger().ListEntries(ctx, domain.HistoryQuery{
		AccountID: "acct-1",
		Page:      math.MaxInt32,
		PageSize:  20,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), count)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_SumByType(t *testing.T) {
	store, mock := newMockStore(t, Postgres)

	mock.ExpectQuery(`SELECT type, COALESCE\(SUM\(amount\), 0\) FROM point_entries WHERE account_id = \$1 GROUP BY type`).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"type", "sum"}).
			AddRow("SAVE", int64(500)).
			AddRow("USE", int64(-120)))

	sums, err := store.Ledger().SumByType(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, map[domain.EntryType]int64{domain.EntryTypeSave: 500, domain.EntryTypeUse: -120}, sums)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkRepository(t *testing.T) {
	store, mock := newMockStore(t, Postgres)
	ctx := context.Background()

	t.Run("CreateLinks", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO point_consume_links \(save_entry_id, consuming_entry_id, consumed_amount\) VALUES \(\$1, \$2, \$3\)`).
			WithArgs(int64(1), int64(3), int64(60)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO point_consume_links").
			WithArgs(int64(2), int64(3), int64(40)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Links().CreateLinks(ctx, []domain.ConsumeLink{
			{SaveEntryID: 1, ConsumingEntryID: 3, ConsumedAmount: 60},
			{SaveEntryID: 2, ConsumingEntryID: 3, ConsumedAmount: 40},
		})
		assert.NoError(t, err)
	})

	t.Run("SumRemaining", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(e.amount - COALESCE`).
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(250)))

		total, err := store.Links().SumRemaining(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(250), total)
	})

	t.Run("ListByConsumingEntry", func(t *testing.T) {
		mock.ExpectQuery(`FROM point_consume_links\s+WHERE consuming_entry_id = \$1 ORDER BY save_entry_id`).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"save_entry_id", "consuming_entry_id", "consumed_amount"}).
				AddRow(int64(1), int64(3), int64(60)).
				AddRow(int64(2), int64(3), int64(40)))

		links, err := store.Links().ListByConsumingEntry(ctx, 3)
		require.NoError(t, err)
		assert.Len(t, links, 2)
	})

	t.Run("ListOverConsumed", func(t *testing.T) {
		mock.ExpectQuery(`SELECT e.id FROM point_entries e\s+WHERE .* < 0`).
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		ids, err := store.Links().ListOverConsumed(ctx, "acct-1")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepository_Get(t *testing.T) {
	store, mock := newMockStore(t, Postgres)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT account_id, total, active, used, expired, updated_at FROM point_balances WHERE account_id = \$1`).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows(balanceCols))

	b, err := store.Balances().Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountBalance{AccountID: "acct-1"}, *b)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepository_Lock(t *testing.T) {
	ctx := context.Background()

	t.Run("PostgresRowLock", func(t *testing.T) {
		store, mock := newMockStore(t, Postgres)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO point_balances .* VALUES \(\$1, 0, 0, 0, 0, \$2\)\s+ON CONFLICT \(account_id\) DO NOTHING`).
			WithArgs("acct-1", fixed).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`FROM point_balances WHERE account_id = \$1 FOR UPDATE`).
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows(balanceCols).AddRow("acct-1", int64(100), int64(80), int64(20), int64(0), fixed))
		mock.ExpectCommit()

		err := store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
			b, err := tx.Balances().Lock(ctx, "acct-1")
			if err != nil {
				return err
			}
			assert.Equal(t, int64(80), b.Active)
			return nil
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SQLiteNoLockClause", func(t *testing.T) {
		store, mock := newMockStore(t, SQLite)

		mock.ExpectBegin()
		mock.ExpectExec(`VALUES \(\?, 0, 0, 0, 0, \?\)`).
			WithArgs("acct-1", fixed).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`FROM point_balances WHERE account_id = \?$`).
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows(balanceCols).AddRow("acct-1", int64(0), int64(0), int64(0), int64(0), fixed))
		mock.ExpectCommit()

		err := store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
			_, err := tx.Balances().Lock(ctx, "acct-1")
			return err
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("OutsideTransaction", func(t *testing.T) {
		store, _ := newMockStore(t, Postgres)
		_, err := store.Balances().Lock(ctx, "acct-1")
		assert.ErrorIs(t, err, errLockOutsideTx)
	})
}

func TestBalanceRepository_Save(t *testing.T) {
	store, mock := newMockStore(t, Postgres)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE point_balances SET total = \$1, active = \$2, used = \$3, expired = \$4, updated_at = \$5 WHERE account_id = \$6`).
			WithArgs(int64(70), int64(70), int64(30), int64(0), fixed, "acct-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		b := &domain.AccountBalance{AccountID: "acct-1", Total: 70, Active: 70, Used: 30}
		assert.NoError(t, store.Balances().Save(ctx, b))
		assert.Equal(t, fixed, b.UpdatedAt)
	})

	t.Run("MissingRow", func(t *testing.T) {
		mock.ExpectExec("UPDATE point_balances").WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Balances().Save(ctx, &domain.AccountBalance{AccountID: "ghost"})
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("RollbackOnError", func(t *testing.T) {
		store, mock := newMockStore(t, Postgres)
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO point_consume_links").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		err := store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
			if err := tx.Links().CreateLinks(ctx, []domain.ConsumeLink{{SaveEntryID: 1, ConsumingEntryID: 2, ConsumedAmount: 5}}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BeginFails", func(t *testing.T) {
		store, mock := newMockStore(t, Postgres)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error { return nil })
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})

	t.Run("CommitFails", func(t *testing.T) {
		store, mock := newMockStore(t, Postgres)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error { return nil })
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
	})

	t.Run("Nested", func(t *testing.T) {
		store, mock := newMockStore(t, Postgres)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
			return tx.WithTx(ctx, func(ctx context.Context, inner repository.Store) error {
				assert.Same(t, tx, inner)
				return nil
			})
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Migrate(t *testing.T) {
	store, mock := newMockStore(t, SQLite)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS point_entries \(\s+id\s+INTEGER PRIMARY KEY AUTOINCREMENT`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
