package service

import (
	"context"
	"time"

	"pointledger/internal/domain"
)

// LedgerService owns every mutation of the point ledger. Each call is one
// transaction scoped to a single account.
type LedgerService interface {
	// Accrue records a SAVE entry. Besides a positive amount it requires a
	// non-empty account and, when set, an expiryAt strictly after the
	// service clock; a past or present expiry fails with ErrInvalidExpiry.
	Accrue(ctx context.Context, cmd domain.AccrueCommand) (*domain.LedgerEntry, error)
	Consume(ctx context.Context, cmd domain.ConsumeCommand) (*domain.LedgerEntry, error)
	ReverseConsumption(ctx context.Context, cmd domain.ReverseCommand) (*domain.LedgerEntry, error)
	ReverseAccrual(ctx context.Context, cmd domain.ReverseCommand) (*domain.LedgerEntry, error)
	ExpireAccount(ctx context.Context, accountID string, now time.Time) (int64, error)
	Reconcile(ctx context.Context, accountID string) (*domain.ReconcileResult, error)

	GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error)
	GetActiveBalance(ctx context.Context, accountID string) (int64, error)
	GetTotalBalance(ctx context.Context, accountID string) (int64, error)
}

// QueryService is the read-only side. It never takes locks or writes.
type QueryService interface {
	RemainingCapacity(ctx context.Context, saveEntryID int64) (int64, error)
	ExpiringInRange(ctx context.Context, accountID string, from, to time.Time) ([]domain.Capacity, error)
	ExpiringThisMonth(ctx context.Context, accountID string) (*domain.ExpiringSummary, error)
	History(ctx context.Context, q domain.HistoryQuery) ([]domain.LedgerEntry, int32, error)
	ConsumptionDetail(ctx context.Context, consumingEntryID int64) ([]domain.ConsumeLink, error)
	// AccrualDetail lists every movement that drew on one credit entry.
	AccrualDetail(ctx context.Context, creditEntryID int64) ([]domain.ConsumeLink, error)
}
