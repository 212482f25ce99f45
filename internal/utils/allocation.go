package utils

import (
	"fmt"
	"sort"
	"time"

	"pointledger/internal/domain"
)

// Allocation is the share of one credit entry assigned to a consumption.
type Allocation struct {
	SaveEntryID int64
	Amount      int64
}

// SortForConsumption orders capacities soonest-to-expire first: entries with
// an expiry precede never-expiring ones, then ascending expiry, then
// ascending occurrence, then ascending id.
func SortForConsumption(caps []domain.Capacity) {
	sort.SliceStable(caps, func(i, j int) bool {
		a, b := caps[i].Entry, caps[j].Entry
		switch {
		case a.ExpiryAt != nil && b.ExpiryAt == nil:
			return true
		case a.ExpiryAt == nil && b.ExpiryAt != nil:
			return false
		case a.ExpiryAt != nil && !a.ExpiryAt.Equal(*b.ExpiryAt):
			return a.ExpiryAt.Before(*b.ExpiryAt)
		case !a.OccurredAt.Equal(b.OccurredAt):
			return a.OccurredAt.Before(b.OccurredAt)
		default:
			return a.ID < b.ID
		}
	})
}

// Eligible keeps credit entries that still have capacity and have not
// expired at now.
func Eligible(caps []domain.Capacity, now time.Time) []domain.Capacity {
	out := make([]domain.Capacity, 0, len(caps))
	for _, c := range caps {
		if !c.Entry.Type.IsCredit() || c.Remaining <= 0 || c.Entry.ExpiredAt(now) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Allocate walks the eligible capacities in consumption order and takes
// min(remaining, still needed) from each until need is covered. The caller
// must have checked the balance beforehand; a shortfall here means the cache
// and the ledger diverged and is reported as a consistency violation.
func Allocate(accountID string, caps []domain.Capacity, need int64, now time.Time) ([]Allocation, error) {
	if need <= 0 {
		return nil, fmt.Errorf("%w: allocation of %d", domain.ErrInvalidAmount, need)
	}

	eligible := Eligible(caps, now)
	SortForConsumption(eligible)

	var allocs []Allocation
	left := need
	for _, c := range eligible {
		if left == 0 {
			break
		}
		take := c.Remaining
		if take > left {
			take = left
		}
		allocs = append(allocs, Allocation{SaveEntryID: c.Entry.ID, Amount: take})
		left -= take
	}

	if left > 0 {
		return nil, &domain.ConsistencyError{
			AccountID: accountID,
			Detail:    fmt.Sprintf("allocation short by %d of %d across %d eligible entries", left, need, len(eligible)),
		}
	}
	return allocs, nil
}
