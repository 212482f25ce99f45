package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pointledger/internal/domain"
	"pointledger/internal/repository"
	"pointledger/internal/repository/memory"
	"pointledger/internal/service"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store  *memory.Store
	clock  *fakeClock
	ledger service.LedgerService
	query  service.QueryService
}

func newFixture() *fixture {
	clock := newClock()
	store := memory.New().WithClock(clock.Now)
	return &fixture{
		store:  store,
		clock:  clock,
		ledger: service.NewLedgerService(store, clock.Now),
		query:  service.NewQueryService(store, clock.Now),
	}
}

func (f *fixture) accrue(t *testing.T, account string, amount int64, ttl time.Duration) *domain.LedgerEntry {
	t.Helper()
	cmd := domain.AccrueCommand{AccountID: account, Amount: amount, Reason: "order reward", Actor: "checkout"}
	if ttl > 0 {
		exp := f.clock.Now().Add(ttl)
		cmd.ExpiryAt = &exp
	}
	e, err := f.ledger.Accrue(context.Background(), cmd)
	require.NoError(t, err)
	return e
}

func (f *fixture) consume(t *testing.T, account string, amount int64) *domain.LedgerEntry {
	t.Helper()
	e, err := f.ledger.Consume(context.Background(), domain.ConsumeCommand{AccountID: account, Amount: amount, Actor: "checkout"})
	require.NoError(t, err)
	return e
}

func (f *fixture) balance(t *testing.T, account string) *domain.AccountBalance {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), account)
	require.NoError(t, err)
	return b
}

func (f *fixture) remaining(t *testing.T, entryID int64) int64 {
	t.Helper()
	r, err := f.query.RemainingCapacity(context.Background(), entryID)
	require.NoError(t, err)
	return r
}

// corruptBalance overwrites the cached row, simulating drift.
func (f *fixture) corruptBalance(t *testing.T, b domain.AccountBalance) {
	t.Helper()
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx repository.Store) error {
		if _, err := tx.Balances().Lock(ctx, b.AccountID); err != nil {
			return err
		}
		return tx.Balances().Save(ctx, &b)
	})
	require.NoError(t, err)
}

const day = 24 * time.Hour
