// Package memory provides an in-memory repository.Store for tests and local
// development.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pointledger/internal/domain"
	"pointledger/internal/repository"
	"pointledger/internal/utils"
)

var errLockOutsideTx = errors.New("memory: balance lock requires a transaction")

type state struct {
	entries  []domain.LedgerEntry // index i holds id i+1
	links    []domain.ConsumeLink
	balances map[string]domain.AccountBalance
}

// clone shares the append-only slices with a capped length so that appends
// made inside a transaction never touch the committed backing arrays.
func (st *state) clone() *state {
	balances := make(map[string]domain.AccountBalance, len(st.balances))
	for k, v := range st.balances {
		balances[k] = v
	}
	return &state{
		entries:  st.entries[:len(st.entries):len(st.entries)],
		links:    st.links[:len(st.links):len(st.links)],
		balances: balances,
	}
}

type backend interface {
	do(fn func(st *state) error) error
	now() time.Time
}

// Store serialises every transaction behind one mutex, which gives the same
// per-account isolation the SQL store gets from row locks.
type Store struct {
	mu    sync.Mutex
	data  *state
	clock func() time.Time
}

func New() *Store {
	return &Store{
		data:  &state{balances: make(map[string]domain.AccountBalance)},
		clock: time.Now,
	}
}

// WithClock sets the clock used for balance timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) do(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) now() time.Time { return s.clock().UTC() }

func (s *Store) Ledger() repository.LedgerRepository     { return ledgerRepo{b: s} }
func (s *Store) Links() repository.ConsumeLinkRepository { return linkRepo{b: s} }
func (s *Store) Balances() repository.BalanceRepository  { return balanceRepo{b: s} }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := &txStore{data: s.data.clone(), clock: s.clock}
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.data = work.data
	return nil
}

type txStore struct {
	data  *state
	clock func() time.Time
}

func (t *txStore) do(fn func(st *state) error) error { return fn(t.data) }
func (t *txStore) now() time.Time                    { return t.clock().UTC() }

func (t *txStore) Ledger() repository.LedgerRepository     { return ledgerRepo{b: t} }
func (t *txStore) Links() repository.ConsumeLinkRepository { return linkRepo{b: t} }
func (t *txStore) Balances() repository.BalanceRepository  { return balanceRepo{b: t, inTx: true} }

func (t *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return fn(ctx, t)
}

type ledgerRepo struct{ b backend }

func (r ledgerRepo) CreateEntry(_ context.Context, e *domain.LedgerEntry) error {
	return r.b.do(func(st *state) error {
		e.ID = int64(len(st.entries) + 1)
		e.OccurredAt = e.OccurredAt.UTC()
		st.entries = append(st.entries, copyEntry(*e))
		return nil
	})
}

func (r ledgerRepo) GetEntry(_ context.Context, id int64) (*domain.LedgerEntry, error) {
	var out *domain.LedgerEntry
	err := r.b.do(func(st *state) error {
		e, ok := st.entry(id)
		if !ok {
			return domain.ErrNotFound
		}
		c := copyEntry(e)
		out = &c
		return nil
	})
	return out, err
}

func (r ledgerRepo) GetCapacity(_ context.Context, entryID int64) (*domain.Capacity, error) {
	var out *domain.Capacity
	err := r.b.do(func(st *state) error {
		e, ok := st.entry(entryID)
		if !ok {
			return domain.ErrNotFound
		}
		out = &domain.Capacity{Entry: copyEntry(e), Remaining: e.Amount - st.consumed(e.ID)}
		return nil
	})
	return out, err
}

func (r ledgerRepo) FindReversal(_ context.Context, entryID int64, reversalType domain.EntryType) (*domain.LedgerEntry, error) {
	var out *domain.LedgerEntry
	err := r.b.do(func(st *state) error {
		for _, e := range st.entries {
			if e.Type == reversalType && e.RefEntryID != nil && *e.RefEntryID == entryID {
				c := copyEntry(e)
				out = &c
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r ledgerRepo) ListCapacities(_ context.Context, accountID string) ([]domain.Capacity, error) {
	var out []domain.Capacity
	err := r.b.do(func(st *state) error {
		out = st.capacities(accountID, func(e domain.LedgerEntry) bool { return e.Type.IsCredit() })
		utils.SortForConsumption(out)
		return nil
	})
	return out, err
}

func (r ledgerRepo) ListDueForExpiry(_ context.Context, accountID string, now time.Time) ([]domain.Capacity, error) {
	var out []domain.Capacity
	err := r.b.do(func(st *state) error {
		out = st.capacities(accountID, func(e domain.LedgerEntry) bool {
			return e.Type == domain.EntryTypeSave && e.ExpiredAt(now)
		})
		sortByExpiry(out)
		return nil
	})
	return out, err
}

func (r ledgerRepo) ListExpiring(_ context.Context, accountID string, from, to time.Time) ([]domain.Capacity, error) {
	var out []domain.Capacity
	err := r.b.do(func(st *state) error {
		out = st.capacities(accountID, func(e domain.LedgerEntry) bool {
			return e.Type == domain.EntryTypeSave && e.ExpiryAt != nil &&
				!e.ExpiryAt.Before(from) && !e.ExpiryAt.After(to)
		})
		sortByExpiry(out)
		return nil
	})
	return out, err
}

func (r ledgerRepo) ListAccountsDueForExpiry(_ context.Context, now time.Time) ([]string, error) {
	var out []string
	err := r.b.do(func(st *state) error {
		seen := make(map[string]bool)
		for _, e := range st.entries {
			if seen[e.AccountID] || e.Type != domain.EntryTypeSave || !e.ExpiredAt(now) {
				continue
			}
			if e.Amount-st.consumed(e.ID) > 0 {
				seen[e.AccountID] = true
				out = append(out, e.AccountID)
			}
		}
		sort.Strings(out)
		return nil
	})
	return out, err
}

func (r ledgerRepo) ListEntries(_ context.Context, q domain.HistoryQuery) ([]domain.LedgerEntry, int32, error) {
	var out []domain.LedgerEntry
	var count int32
	err := r.b.do(func(st *state) error {
		types := make(map[domain.EntryType]bool, len(q.Types))
		for _, t := range q.Types {
			types[t] = true
		}
		var matched []domain.LedgerEntry
		for _, e := range st.entries {
			if e.AccountID != q.AccountID {
				continue
			}
			if len(types) > 0 && !types[e.Type] {
				continue
			}
			if q.From != nil && e.OccurredAt.Before(*q.From) {
				continue
			}
			if q.To != nil && !e.OccurredAt.Before(*q.To) {
				continue
			}
			matched = append(matched, copyEntry(e))
		}
		sort.SliceStable(matched, func(i, j int) bool {
			if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
				return matched[i].OccurredAt.After(matched[j].OccurredAt)
			}
			return matched[i].ID > matched[j].ID
		})
		count = int32(len(matched))

		limit, offset := utils.Pagination(q.Page, q.PageSize, 0)
		if offset < 0 || offset >= int64(len(matched)) {
			return nil
		}
		end := offset + int64(limit)
		if end > int64(len(matched)) {
			end = int64(len(matched))
		}
		out = matched[offset:end]
		return nil
	})
	return out, count, err
}

func (r ledgerRepo) SumByType(_ context.Context, accountID string) (map[domain.EntryType]int64, error) {
	out := make(map[domain.EntryType]int64)
	err := r.b.do(func(st *state) error {
		for _, e := range st.entries {
			if e.AccountID == accountID {
				out[e.Type] += e.Amount
			}
		}
		return nil
	})
	return out, err
}

type linkRepo struct{ b backend }

func (r linkRepo) CreateLinks(_ context.Context, links []domain.ConsumeLink) error {
	return r.b.do(func(st *state) error {
		st.links = append(st.links, links...)
		return nil
	})
}

func (r linkRepo) ListBySaveEntry(_ context.Context, saveEntryID int64) ([]domain.ConsumeLink, error) {
	var out []domain.ConsumeLink
	err := r.b.do(func(st *state) error {
		for _, l := range st.links {
			if l.SaveEntryID == saveEntryID {
				out = append(out, l)
			}
		}
		return nil
	})
	return out, err
}

func (r linkRepo) ListByConsumingEntry(_ context.Context, consumingEntryID int64) ([]domain.ConsumeLink, error) {
	var out []domain.ConsumeLink
	err := r.b.do(func(st *state) error {
		for _, l := range st.links {
			if l.ConsumingEntryID == consumingEntryID {
				out = append(out, l)
			}
		}
		return nil
	})
	return out, err
}

func (r linkRepo) SumRemaining(_ context.Context, accountID string) (int64, error) {
	var total int64
	err := r.b.do(func(st *state) error {
		for _, c := range st.capacities(accountID, func(e domain.LedgerEntry) bool { return e.Type.IsCredit() }) {
			total += c.Remaining
		}
		return nil
	})
	return total, err
}

func (r linkRepo) ListOverConsumed(_ context.Context, accountID string) ([]int64, error) {
	var out []int64
	err := r.b.do(func(st *state) error {
		for _, e := range st.entries {
			if e.AccountID == accountID && e.Type.IsCredit() && st.consumed(e.ID) > e.Amount {
				out = append(out, e.ID)
			}
		}
		return nil
	})
	return out, err
}

type balanceRepo struct {
	b    backend
	inTx bool
}

func (r balanceRepo) Get(_ context.Context, accountID string) (*domain.AccountBalance, error) {
	var out domain.AccountBalance
	err := r.b.do(func(st *state) error {
		b, ok := st.balances[accountID]
		if !ok {
			b = domain.AccountBalance{AccountID: accountID}
		}
		out = b
		return nil
	})
	return &out, err
}

func (r balanceRepo) Lock(_ context.Context, accountID string) (*domain.AccountBalance, error) {
	if !r.inTx {
		return nil, errLockOutsideTx
	}
	var out domain.AccountBalance
	err := r.b.do(func(st *state) error {
		b, ok := st.balances[accountID]
		if !ok {
			b = domain.AccountBalance{AccountID: accountID, UpdatedAt: r.b.now()}
			st.balances[accountID] = b
		}
		out = b
		return nil
	})
	return &out, err
}

func (r balanceRepo) Save(_ context.Context, b *domain.AccountBalance) error {
	return r.b.do(func(st *state) error {
		b.UpdatedAt = r.b.now()
		st.balances[b.AccountID] = *b
		return nil
	})
}

func (r balanceRepo) ListAccountIDs(_ context.Context) ([]string, error) {
	var out []string
	err := r.b.do(func(st *state) error {
		for id := range st.balances {
			out = append(out, id)
		}
		sort.Strings(out)
		return nil
	})
	return out, err
}

func (st *state) entry(id int64) (domain.LedgerEntry, bool) {
	if id < 1 || id > int64(len(st.entries)) {
		return domain.LedgerEntry{}, false
	}
	return st.entries[id-1], true
}

func (st *state) consumed(saveEntryID int64) int64 {
	var sum int64
	for _, l := range st.links {
		if l.SaveEntryID == saveEntryID {
			sum += l.ConsumedAmount
		}
	}
	return sum
}

func (st *state) capacities(accountID string, keep func(domain.LedgerEntry) bool) []domain.Capacity {
	var out []domain.Capacity
	for _, e := range st.entries {
		if e.AccountID != accountID || !keep(e) {
			continue
		}
		if remaining := e.Amount - st.consumed(e.ID); remaining > 0 {
			out = append(out, domain.Capacity{Entry: copyEntry(e), Remaining: remaining})
		}
	}
	return out
}

func sortByExpiry(caps []domain.Capacity) {
	sort.SliceStable(caps, func(i, j int) bool {
		a, b := caps[i].Entry, caps[j].Entry
		if !a.ExpiryAt.Equal(*b.ExpiryAt) {
			return a.ExpiryAt.Before(*b.ExpiryAt)
		}
		return a.ID < b.ID
	})
}

// copyEntry detaches pointer fields so callers cannot mutate stored rows.
func copyEntry(e domain.LedgerEntry) domain.LedgerEntry {
	if e.ExpiryAt != nil {
		t := e.ExpiryAt.UTC()
		e.ExpiryAt = &t
	}
	if e.RefOrderID != nil {
		s := *e.RefOrderID
		e.RefOrderID = &s
	}
	if e.RefEntryID != nil {
		id := *e.RefEntryID
		e.RefEntryID = &id
	}
	return e
}
