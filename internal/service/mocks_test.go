package service_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"pointledger/internal/domain"
	"pointledger/internal/repository"
)

// MockStore runs WithTx inline against its own mocked repositories.
type MockStore struct {
	mock.Mock
	ledger   *MockLedgerRepo
	links    *MockLinkRepo
	balances *MockBalanceRepo
}

func newMockStore() *MockStore {
	return &MockStore{ledger: new(MockLedgerRepo), links: new(MockLinkRepo), balances: new(MockBalanceRepo)}
}

func (m *MockStore) Ledger() repository.LedgerRepository     { return m.ledger }
func (m *MockStore) Links() repository.ConsumeLinkRepository { return m.links }
func (m *MockStore) Balances() repository.BalanceRepository  { return m.balances }

func (m *MockStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return fn(ctx, m)
}

// MockLedgerRepo
type MockLedgerRepo struct {
	mock.Mock
}

func (m *MockLedgerRepo) CreateEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
func (m *MockLedgerRepo) GetEntry(ctx context.Context, id int64) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerEntry), args.Error(1)
}
func (m *MockLedgerRepo) GetCapacity(ctx context.Context, entryID int64) (*domain.Capacity, error) {
	args := m.Called(ctx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Capacity), args.Error(1)
}
func (m *MockLedgerRepo) FindReversal(ctx context.Context, entryID int64, reversalType domain.EntryType) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, entryID, reversalType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerEntry), args.Error(1)
}
func (m *MockLedgerRepo) ListCapacities(ctx context.Context, accountID string) ([]domain.Capacity, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).([]domain.Capacity), args.Error(1)
}
func (m *MockLedgerRepo) ListDueForExpiry(ctx context.Context, accountID string, now time.Time) ([]domain.Capacity, error) {
	args := m.Called(ctx, accountID, now)
	return args.Get(0).([]domain.Capacity), args.Error(1)
}
func (m *MockLedgerRepo) ListExpiring(ctx context.Context, accountID string, from, to time.Time) ([]domain.Capacity, error) {
	args := m.Called(ctx, accountID, from, to)
	return args.Get(0).([]domain.Capacity), args.Error(1)
}
func (m *MockLedgerRepo) ListAccountsDueForExpiry(ctx context.Context, now time.Time) ([]string, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockLedgerRepo) ListEntries(ctx context.Context, q domain.HistoryQuery) ([]domain.LedgerEntry, int32, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]domain.LedgerEntry), args.Get(1).(int32), args.Error(2)
}
func (m *MockLedgerRepo) SumByType(ctx context.Context, accountID string) (map[domain.EntryType]int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(map[domain.EntryType]int64), args.Error(1)
}

// MockLinkRepo
type MockLinkRepo struct {
	mock.Mock
}

func (m *MockLinkRepo) CreateLinks(ctx context.Context, links []domain.ConsumeLink) error {
	args := m.Called(ctx, links)
	return args.Error(0)
}
func (m *MockLinkRepo) ListBySaveEntry(ctx context.Context, saveEntryID int64) ([]domain.ConsumeLink, error) {
	args := m.Called(ctx, saveEntryID)
	return args.Get(0).([]domain.ConsumeLink), args.Error(1)
}
func (m *MockLinkRepo) ListByConsumingEntry(ctx context.Context, consumingEntryID int64) ([]domain.ConsumeLink, error) {
	args := m.Called(ctx, consumingEntryID)
	return args.Get(0).([]domain.ConsumeLink), args.Error(1)
}
func (m *MockLinkRepo) SumRemaining(ctx context.Context, accountID string) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockLinkRepo) ListOverConsumed(ctx context.Context, accountID string) ([]int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).([]int64), args.Error(1)
}

// MockBalanceRepo
type MockBalanceRepo struct {
	mock.Mock
}

func (m *MockBalanceRepo) Get(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccountBalance), args.Error(1)
}
func (m *MockBalanceRepo) Lock(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccountBalance), args.Error(1)
}
func (m *MockBalanceRepo) Save(ctx context.Context, balance *domain.AccountBalance) error {
	args := m.Called(ctx, balance)
	return args.Error(0)
}
func (m *MockBalanceRepo) ListAccountIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}
