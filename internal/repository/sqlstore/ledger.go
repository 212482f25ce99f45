package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pointledger/internal/domain"
	"pointledger/internal/logger"
	"pointledger/internal/utils"
)

const entryColumns = `e.id, e.account_id, e.type, e.amount, e.occurred_at, e.expiry_at, e.ref_order_id, e.ref_entry_id, e.reason, e.actor`

// remainingExpr is the unconsumed part of the entry aliased e.
const remainingExpr = `e.amount - COALESCE((SELECT SUM(l.consumed_amount) FROM point_consume_links l WHERE l.save_entry_id = e.id), 0)`

// consumptionOrder puts never-expiring entries last, then sorts by expiry,
// occurrence and id.
const consumptionOrder = `CASE WHEN e.expiry_at IS NULL THEN 1 ELSE 0 END, e.expiry_at, e.occurred_at, e.id`

type ledgerRepository struct {
	s *Store
}

func (r *ledgerRepository) CreateEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	query := r.s.rebind(`INSERT INTO point_entries (account_id, type, amount, occurred_at, expiry_at, ref_order_id, ref_entry_id, reason, actor)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	entry.OccurredAt = entry.OccurredAt.UTC()
	logger.DatabaseCall("CreateEntry", "INSERT INTO point_entries", "account_id", entry.AccountID, "type", entry.Type)

	err := r.s.q.QueryRowContext(ctx, query,
		entry.AccountID,
		string(entry.Type),
		entry.Amount,
		entry.OccurredAt,
		nullTime(entry.ExpiryAt),
		nullString(entry.RefOrderID),
		nullInt64(entry.RefEntryID),
		entry.Reason,
		entry.Actor,
	).Scan(&entry.ID)
	if err != nil {
		logger.DatabaseResult("CreateEntry", 0, err)
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	logger.DatabaseResult("CreateEntry", 1, nil, "entry_id", entry.ID)
	return nil
}

func (r *ledgerRepository) GetEntry(ctx context.Context, id int64) (*domain.LedgerEntry, error) {
	query := r.s.rebind(`SELECT ` + entryColumns + ` FROM point_entries e WHERE e.id = ?`)
	entry, err := scanEntry(r.s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry %d: %w", id, err)
	}
	return entry, nil
}

func (r *ledgerRepository) GetCapacity(ctx context.Context, entryID int64) (*domain.Capacity, error) {
	query := r.s.rebind(`SELECT ` + entryColumns + `, ` + remainingExpr + ` FROM point_entries e WHERE e.id = ?`)
	capacity, err := scanCapacity(r.s.q.QueryRowContext(ctx, query, entryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capacity of entry %d: %w", entryID, err)
	}
	return capacity, nil
}

func (r *ledgerRepository) FindReversal(ctx context.Context, entryID int64, reversalType domain.EntryType) (*domain.LedgerEntry, error) {
	query := r.s.rebind(`SELECT ` + entryColumns + ` FROM point_entries e WHERE e.ref_entry_id = ? AND e.type = ? ORDER BY e.id LIMIT 1`)
	entry, err := scanEntry(r.s.q.QueryRowContext(ctx, query, entryID, string(reversalType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up reversal of entry %d: %w", entryID, err)
	}
	return entry, nil
}

func (r *ledgerRepository) ListCapacities(ctx context.Context, accountID string) ([]domain.Capacity, error) {
	query := capacityQuery(`e.type IN ('SAVE', 'CANCEL_USE')`, consumptionOrder)
	return r.queryCapacities(ctx, query, accountID)
}

func (r *ledgerRepository) ListDueForExpiry(ctx context.Context, accountID string, now time.Time) ([]domain.Capacity, error) {
	query := capacityQuery(`e.type = 'SAVE' AND e.expiry_at IS NOT NULL AND e.expiry_at <= ?`, `e.expiry_at, e.id`)
	return r.queryCapacities(ctx, query, accountID, now.UTC())
}

func (r *ledgerRepository) ListExpiring(ctx context.Context, accountID string, from, to time.Time) ([]domain.Capacity, error) {
	query := capacityQuery(`e.type = 'SAVE' AND e.expiry_at >= ? AND e.expiry_at <= ?`, `e.expiry_at, e.id`)
	return r.queryCapacities(ctx, query, accountID, from.UTC(), to.UTC())
}

func (r *ledgerRepository) ListAccountsDueForExpiry(ctx context.Context, now time.Time) ([]string, error) {
	query := r.s.rebind(`SELECT DISTINCT e.account_id FROM point_entries e
	          WHERE e.type = 'SAVE' AND e.expiry_at IS NOT NULL AND e.expiry_at <= ? AND ` + remainingExpr + ` > 0
	          ORDER BY e.account_id`)
	rows, err := r.s.q.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts due for expiry: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ledgerRepository) ListEntries(ctx context.Context, q domain.HistoryQuery) ([]domain.LedgerEntry, int32, error) {
	where := []string{"e.account_id = ?"}
	args := []any{q.AccountID}
	if len(q.Types) > 0 {
		marks := make([]string, len(q.Types))
		for i, t := range q.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "e.type IN ("+strings.Join(marks, ", ")+")")
	}
	if q.From != nil {
		where = append(where, "e.occurred_at >= ?")
		args = append(args, q.From.UTC())
	}
	if q.To != nil {
		where = append(where, "e.occurred_at < ?")
		args = append(args, q.To.UTC())
	}
	cond := strings.Join(where, " AND ")

	var count int32
	countQuery := r.s.rebind(`SELECT count(*) FROM point_entries e WHERE ` + cond)
	if err := r.s.q.QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	limit, offset := utils.Pagination(q.Page, q.PageSize, 0)
	query := r.s.rebind(`SELECT ` + entryColumns + ` FROM point_entries e WHERE ` + cond +
		` ORDER BY e.occurred_at DESC, e.id DESC LIMIT ? OFFSET ?`)
	rows, err := r.s.q.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, count, nil
}

func (r *ledgerRepository) SumByType(ctx context.Context, accountID string) (map[domain.EntryType]int64, error) {
	query := r.s.rebind(`SELECT type, COALESCE(SUM(amount), 0) FROM point_entries WHERE account_id = ? GROUP BY type`)
	rows, err := r.s.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	defer rows.Close()

	sums := make(map[domain.EntryType]int64)
	for rows.Next() {
		var t string
		var sum int64
		if err := rows.Scan(&t, &sum); err != nil {
			return nil, err
		}
		entryType, err := domain.ParseEntryType(t)
		if err != nil {
			return nil, err
		}
		sums[entryType] = sum
	}
	return sums, rows.Err()
}

func capacityQuery(filter, order string) string {
	return `SELECT ` + entryColumns + `, ` + remainingExpr + ` AS remaining
	        FROM point_entries e
	        WHERE e.account_id = ? AND ` + filter + ` AND ` + remainingExpr + ` > 0
	        ORDER BY ` + order
}

func (r *ledgerRepository) queryCapacities(ctx context.Context, query string, args ...any) ([]domain.Capacity, error) {
	rows, err := r.s.q.QueryContext(ctx, r.s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list capacities: %w", err)
	}
	defer rows.Close()

	var caps []domain.Capacity
	for rows.Next() {
		c, err := scanCapacity(rows)
		if err != nil {
			return nil, err
		}
		caps = append(caps, *c)
	}
	return caps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var n nullables
	if err := row.Scan(entryDest(&e, &n)...); err != nil {
		return nil, err
	}
	if err := n.apply(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanCapacity(row scanner) (*domain.Capacity, error) {
	var c domain.Capacity
	var n nullables
	if err := row.Scan(append(entryDest(&c.Entry, &n), &c.Remaining)...); err != nil {
		return nil, err
	}
	if err := n.apply(&c.Entry); err != nil {
		return nil, err
	}
	return &c, nil
}

type nullables struct {
	entryType  string
	expiryAt   sql.NullTime
	refOrderID sql.NullString
	refEntryID sql.NullInt64
}

func (n *nullables) apply(e *domain.LedgerEntry) error {
	entryType, err := domain.ParseEntryType(n.entryType)
	if err != nil {
		return err
	}
	e.Type = entryType
	e.OccurredAt = e.OccurredAt.UTC()
	if n.expiryAt.Valid {
		t := n.expiryAt.Time.UTC()
		e.ExpiryAt = &t
	}
	if n.refOrderID.Valid {
		s := n.refOrderID.String
		e.RefOrderID = &s
	}
	if n.refEntryID.Valid {
		id := n.refEntryID.Int64
		e.RefEntryID = &id
	}
	return nil
}

// entryDest returns scan targets in entryColumns order.
func entryDest(e *domain.LedgerEntry, n *nullables) []any {
	return []any{&e.ID, &e.AccountID, &n.entryType, &e.Amount, &e.OccurredAt, &n.expiryAt, &n.refOrderID, &n.refEntryID, &e.Reason, &e.Actor}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
