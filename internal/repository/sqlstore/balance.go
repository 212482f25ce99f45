package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pointledger/internal/domain"
	"pointledger/internal/logger"
)

var errLockOutsideTx = errors.New("sqlstore: balance lock requires a transaction")

const balanceColumns = `account_id, total, active, used, expired, updated_at`

type balanceRepository struct {
	s *Store
}

func (r *balanceRepository) Get(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	query := r.s.rebind(`SELECT ` + balanceColumns + ` FROM point_balances WHERE account_id = ?`)
	b, err := scanBalance(r.s.q.QueryRowContext(ctx, query, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.AccountBalance{AccountID: accountID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for account %s: %w", accountID, err)
	}
	return b, nil
}

// Lock inserts the zero row on first use, then takes the row lock that
// serialises every mutation of the account.
func (r *balanceRepository) Lock(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	if !r.s.inTx {
		return nil, errLockOutsideTx
	}

	insert := r.s.rebind(`INSERT INTO point_balances (` + balanceColumns + `) VALUES (?, 0, 0, 0, 0, ?)
	          ON CONFLICT (account_id) DO NOTHING`)
	if _, err := r.s.q.ExecContext(ctx, insert, accountID, r.s.now()); err != nil {
		return nil, fmt.Errorf("failed to create balance row for account %s: %w", accountID, err)
	}

	query := r.s.rebind(`SELECT ` + balanceColumns + ` FROM point_balances WHERE account_id = ?` + r.s.dialect.lockClause)
	b, err := scanBalance(r.s.q.QueryRowContext(ctx, query, accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance for account %s: %w", accountID, err)
	}
	return b, nil
}

func (r *balanceRepository) Save(ctx context.Context, b *domain.AccountBalance) error {
	b.UpdatedAt = r.s.now()
	query := r.s.rebind(`UPDATE point_balances SET total = ?, active = ?, used = ?, expired = ?, updated_at = ? WHERE account_id = ?`)
	logger.DatabaseCall("SaveBalance", "UPDATE point_balances", "account_id", b.AccountID)

	result, err := r.s.q.ExecContext(ctx, query, b.Total, b.Active, b.Used, b.Expired, b.UpdatedAt, b.AccountID)
	if err != nil {
		logger.DatabaseResult("SaveBalance", 0, err)
		return fmt.Errorf("failed to save balance for account %s: %w", b.AccountID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	logger.DatabaseResult("SaveBalance", rows, nil)
	if rows == 0 {
		return fmt.Errorf("balance row for account %s does not exist", b.AccountID)
	}
	return nil
}

func (r *balanceRepository) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.s.q.QueryContext(ctx, `SELECT account_id FROM point_balances ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
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

func scanBalance(row scanner) (*domain.AccountBalance, error) {
	var b domain.AccountBalance
	if err := row.Scan(&b.AccountID, &b.Total, &b.Active, &b.Used, &b.Expired, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}
