package service

import (
	"context"
	"fmt"
	"time"

	"pointledger/internal/domain"
	"pointledger/internal/repository"
	"pointledger/internal/utils"
)

type queryService struct {
	store repository.Store
	clock func() time.Time
}

// NewQueryService wires the read side over the same store the ledger writes.
func NewQueryService(store repository.Store, clock func() time.Time) QueryService {
	if clock == nil {
		clock = time.Now
	}
	return &queryService{store: store, clock: clock}
}

func (s *queryService) RemainingCapacity(ctx context.Context, saveEntryID int64) (int64, error) {
	if saveEntryID <= 0 {
		return 0, fmt.Errorf("%w: id %d", domain.ErrNotFound, saveEntryID)
	}
	c, err := s.store.Ledger().GetCapacity(ctx, saveEntryID)
	if err != nil {
		return 0, err
	}
	if !c.Entry.Type.IsCredit() {
		return 0, &domain.WrongTypeError{EntryID: saveEntryID, Want: domain.EntryTypeSave, Got: c.Entry.Type}
	}
	return c.Remaining, nil
}

func (s *queryService) ExpiringInRange(ctx context.Context, accountID string, from, to time.Time) ([]domain.Capacity, error) {
	if accountID == "" {
		return nil, domain.ErrInvalidAccount
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end before start", domain.ErrInvalidCommand)
	}
	return s.store.Ledger().ListExpiring(ctx, accountID, from.UTC(), to.UTC())
}

// ExpiringThisMonth covers the calendar month (UTC) of the service clock.
func (s *queryService) ExpiringThisMonth(ctx context.Context, accountID string) (*domain.ExpiringSummary, error) {
	from, to := utils.MonthBounds(s.clock().UTC())
	caps, err := s.ExpiringInRange(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}

	summary := &domain.ExpiringSummary{AccountID: accountID, From: from, To: to, Entries: caps}
	for _, c := range caps {
		summary.Total += c.Remaining
	}
	return summary, nil
}

func (s *queryService) History(ctx context.Context, q domain.HistoryQuery) ([]domain.LedgerEntry, int32, error) {
	if q.AccountID == "" {
		return nil, 0, domain.ErrInvalidAccount
	}
	for _, t := range q.Types {
		if !t.Valid() {
			return nil, 0, fmt.Errorf("%w: %q", domain.ErrUnknownEntryType, t)
		}
	}
	if q.From != nil && q.To != nil && !q.To.After(*q.From) {
		return nil, 0, fmt.Errorf("%w: range end not after start", domain.ErrInvalidCommand)
	}
	return s.store.Ledger().ListEntries(ctx, q)
}

func (s *queryService) ConsumptionDetail(ctx context.Context, consumingEntryID int64) ([]domain.ConsumeLink, error) {
	entry, err := s.store.Ledger().GetEntry(ctx, consumingEntryID)
	if err != nil {
		return nil, err
	}
	if !entry.Type.IsConsuming() {
		return nil, &domain.WrongTypeError{EntryID: consumingEntryID, Want: domain.EntryTypeUse, Got: entry.Type}
	}
	return s.store.Links().ListByConsumingEntry(ctx, consumingEntryID)
}

func (s *queryService) AccrualDetail(ctx context.Context, creditEntryID int64) ([]domain.ConsumeLink, error) {
	entry, err := s.store.Ledger().GetEntry(ctx, creditEntryID)
	if err != nil {
		return nil, err
	}
	if !entry.Type.IsCredit() {
		return nil, &domain.WrongTypeError{EntryID: creditEntryID, Want: domain.EntryTypeSave, Got: entry.Type}
	}
	return s.store.Links().ListBySaveEntry(ctx, creditEntryID)
}
