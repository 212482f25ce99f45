package sqlstore

import (
	"context"
	"fmt"

	"pointledger/internal/domain"
	"pointledger/internal/logger"
)

type linkRepository struct {
	s *Store
}

func (r *linkRepository) CreateLinks(ctx context.Context, links []domain.ConsumeLink) error {
	query := r.s.rebind(`INSERT INTO point_consume_links (save_entry_id, consuming_entry_id, consumed_amount) VALUES (?, ?, ?)`)
	for _, l := range links {
		logger.DatabaseCall("CreateLink", "INSERT INTO point_consume_links", "save_entry_id", l.SaveEntryID, "consuming_entry_id", l.ConsumingEntryID)
		if _, err := r.s.q.ExecContext(ctx, query, l.SaveEntryID, l.ConsumingEntryID, l.ConsumedAmount); err != nil {
			logger.DatabaseResult("CreateLink", 0, err)
			return fmt.Errorf("failed to insert consume link %d->%d: %w", l.SaveEntryID, l.ConsumingEntryID, err)
		}
	}
	logger.DatabaseResult("CreateLinks", int64(len(links)), nil)
	return nil
}

func (r *linkRepository) ListBySaveEntry(ctx context.Context, saveEntryID int64) ([]domain.ConsumeLink, error) {
	query := r.s.rebind(`SELECT save_entry_id, consuming_entry_id, consumed_amount FROM point_consume_links
	          WHERE save_entry_id = ? ORDER BY consuming_entry_id`)
	return r.query(ctx, query, saveEntryID)
}

func (r *linkRepository) ListByConsumingEntry(ctx context.Context, consumingEntryID int64) ([]domain.ConsumeLink, error) {
	query := r.s.rebind(`SELECT save_entry_id, consuming_entry_id, consumed_amount FROM point_consume_links
	          WHERE consuming_entry_id = ? ORDER BY save_entry_id`)
	return r.query(ctx, query, consumingEntryID)
}

func (r *linkRepository) SumRemaining(ctx context.Context, accountID string) (int64, error) {
	query := r.s.rebind(`SELECT COALESCE(SUM(` + remainingExpr + `), 0) FROM point_entries e
	          WHERE e.account_id = ? AND e.type IN ('SAVE', 'CANCEL_USE')`)
	var total int64
	if err := r.s.q.QueryRowContext(ctx, query, accountID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum remaining capacity: %w", err)
	}
	return total, nil
}

func (r *linkRepository) ListOverConsumed(ctx context.Context, accountID string) ([]int64, error) {
	query := r.s.rebind(`SELECT e.id FROM point_entries e
	          WHERE e.account_id = ? AND e.type IN ('SAVE', 'CANCEL_USE') AND ` + remainingExpr + ` < 0
	          ORDER BY e.id`)
	rows, err := r.s.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to check over-consumed entries: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *linkRepository) query(ctx context.Context, query string, args ...any) ([]domain.ConsumeLink, error) {
	rows, err := r.s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list consume links: %w", err)
	}
	defer rows.Close()

	var links []domain.ConsumeLink
	for rows.Next() {
		var l domain.ConsumeLink
		if err := rows.Scan(&l.SaveEntryID, &l.ConsumingEntryID, &l.ConsumedAmount); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
