package repository

import (
	"context"
	"time"

	"pointledger/internal/domain"
)

// LedgerRepository persists point entries. It is append-only: there is no
// update or delete.
type LedgerRepository interface {
	CreateEntry(ctx context.Context, entry *domain.LedgerEntry) error
	GetEntry(ctx context.Context, id int64) (*domain.LedgerEntry, error)
	GetCapacity(ctx context.Context, entryID int64) (*domain.Capacity, error)
	FindReversal(ctx context.Context, entryID int64, reversalType domain.EntryType) (*domain.LedgerEntry, error)

	// ListCapacities returns the account's credit entries whose remaining
	// capacity is above zero, regardless of expiry.
	ListCapacities(ctx context.Context, accountID string) ([]domain.Capacity, error)
	// ListDueForExpiry returns SAVE entries with expiry_at <= now and capacity
	// left, ordered by expiry_at then id.
	ListDueForExpiry(ctx context.Context, accountID string, now time.Time) ([]domain.Capacity, error)
	// ListExpiring returns SAVE entries with expiry_at in [from, to] and
	// capacity left.
	ListExpiring(ctx context.Context, accountID string, from, to time.Time) ([]domain.Capacity, error)
	ListAccountsDueForExpiry(ctx context.Context, now time.Time) ([]string, error)

	ListEntries(ctx context.Context, q domain.HistoryQuery) ([]domain.LedgerEntry, int32, error)
	SumByType(ctx context.Context, accountID string) (map[domain.EntryType]int64, error)
}

// ConsumeLinkRepository persists the bridge between credit entries and the
// entries that consumed them. Append-only.
type ConsumeLinkRepository interface {
	CreateLinks(ctx context.Context, links []domain.ConsumeLink) error
	ListBySaveEntry(ctx context.Context, saveEntryID int64) ([]domain.ConsumeLink, error)
	ListByConsumingEntry(ctx context.Context, consumingEntryID int64) ([]domain.ConsumeLink, error)
	// SumRemaining is the account's total unconsumed credit capacity.
	SumRemaining(ctx context.Context, accountID string) (int64, error)
	// ListOverConsumed returns credit entries whose links exceed their amount.
	ListOverConsumed(ctx context.Context, accountID string) ([]int64, error)
}

// BalanceRepository persists the derived per-account cache.
type BalanceRepository interface {
	// Get returns a zero balance for accounts without a row.
	Get(ctx context.Context, accountID string) (*domain.AccountBalance, error)
	// Lock creates the row if missing and holds it until the surrounding
	// transaction ends. Only valid inside WithTx.
	Lock(ctx context.Context, accountID string) (*domain.AccountBalance, error)
	Save(ctx context.Context, balance *domain.AccountBalance) error
	ListAccountIDs(ctx context.Context) ([]string, error)
}

// Store groups the three repositories. WithTx runs fn against a Store bound
// to one transaction; fn's error rolls everything back.
type Store interface {
	Ledger() LedgerRepository
	Links() ConsumeLinkRepository
	Balances() BalanceRepository
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
