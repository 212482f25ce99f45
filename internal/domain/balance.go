package domain

import (
	"fmt"
	"math"
	"time"
)

// AccountBalance is the cached projection of an account's ledger. It can
// always be rebuilt from entries and consume links.
type AccountBalance struct {
	AccountID string    `json:"account_id"`
	Total     int64     `json:"total"`
	Active    int64     `json:"active"`
	Used      int64     `json:"used"`
	Expired   int64     `json:"expired"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Apply folds one ledger movement of the given magnitude into the balance.
func (b *AccountBalance) Apply(t EntryType, magnitude int64) error {
	if magnitude < 0 {
		return fmt.Errorf("%w: negative magnitude %d", ErrInvalidAmount, magnitude)
	}
	if t.IsCredit() && (b.Total > math.MaxInt64-magnitude || b.Active > math.MaxInt64-magnitude) {
		return fmt.Errorf("%w: %d would overflow balance %d", ErrInvalidAmount, magnitude, b.Total)
	}
	switch t {
	case EntryTypeSave:
		b.Total += magnitude
		b.Active += magnitude
	case EntryTypeUse:
		b.Total -= magnitude
		b.Active -= magnitude
		b.Used += magnitude
	case EntryTypeExpire:
		b.Total -= magnitude
		b.Active -= magnitude
		b.Expired += magnitude
	case EntryTypeCancelUse:
		b.Total += magnitude
		b.Active += magnitude
		b.Used -= magnitude
	case EntryTypeCancelSave:
		b.Total -= magnitude
		b.Active -= magnitude
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEntryType, t)
	}
	if b.Active < 0 || b.Used < 0 || b.Expired < 0 {
		return &ConsistencyError{
			AccountID: b.AccountID,
			Detail:    fmt.Sprintf("balance went negative after %s %d (active=%d used=%d expired=%d)", t, magnitude, b.Active, b.Used, b.Expired),
		}
	}
	return nil
}

// SameFigures compares the cached figures, ignoring timestamps.
func (b AccountBalance) SameFigures(o AccountBalance) bool {
	return b.Total == o.Total && b.Active == o.Active && b.Used == o.Used && b.Expired == o.Expired
}

// ReconcileResult reports the outcome of rebuilding one account's cache.
type ReconcileResult struct {
	AccountID string         `json:"account_id"`
	Cached    AccountBalance `json:"cached"`
	Derived   AccountBalance `json:"derived"`
	Repaired  bool           `json:"repaired"`
}

// ExpiringSummary groups the capacities expiring within a window.
type ExpiringSummary struct {
	AccountID string     `json:"account_id"`
	From      time.Time  `json:"from"`
	To        time.Time  `json:"to"`
	Total     int64      `json:"total"`
	Entries   []Capacity `json:"entries"`
}
