package domain

import (
	"fmt"
	"time"
)

type EntryType string

const (
	EntryTypeSave       EntryType = "SAVE"
	EntryTypeUse        EntryType = "USE"
	EntryTypeExpire     EntryType = "EXPIRE"
	EntryTypeCancelUse  EntryType = "CANCEL_USE"
	EntryTypeCancelSave EntryType = "CANCEL_SAVE"
)

// AllEntryTypes lists every entry type in a stable order.
var AllEntryTypes = []EntryType{
	EntryTypeSave,
	EntryTypeUse,
	EntryTypeExpire,
	EntryTypeCancelUse,
	EntryTypeCancelSave,
}

func ParseEntryType(s string) (EntryType, error) {
	t := EntryType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntryType, s)
	}
	return t, nil
}

func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeSave, EntryTypeUse, EntryTypeExpire, EntryTypeCancelUse, EntryTypeCancelSave:
		return true
	}
	return false
}

// Sign is +1 for entries that add points and -1 for entries that remove them.
func (t EntryType) Sign() int64 {
	switch t {
	case EntryTypeSave, EntryTypeCancelUse:
		return 1
	default:
		return -1
	}
}

// IsCredit reports whether entries of this type carry consumable capacity.
// CANCEL_USE re-enters the pool as never-expiring capacity.
func (t EntryType) IsCredit() bool {
	return t == EntryTypeSave || t == EntryTypeCancelUse
}

// IsConsuming reports whether entries of this type own consume links.
func (t EntryType) IsConsuming() bool {
	return t == EntryTypeUse || t == EntryTypeExpire || t == EntryTypeCancelSave
}

// LedgerEntry is immutable once written. Corrections are new entries.
type LedgerEntry struct {
	ID         int64      `json:"id"`
	AccountID  string     `json:"account_id"`
	Type       EntryType  `json:"type"`
	Amount     int64      `json:"amount"` // signed, see EntryType.Sign
	OccurredAt time.Time  `json:"occurred_at"`
	ExpiryAt   *time.Time `json:"expiry_at,omitempty"` // nil never expires
	RefOrderID *string    `json:"ref_order_id,omitempty"`
	RefEntryID *int64     `json:"ref_entry_id,omitempty"` // reversed entry for CANCEL_USE / CANCEL_SAVE
	Reason     string     `json:"reason"`
	Actor      string     `json:"actor"`
}

// Magnitude returns the absolute transaction size.
func (e *LedgerEntry) Magnitude() int64 {
	if e.Amount < 0 {
		return -e.Amount
	}
	return e.Amount
}

// ExpiredAt reports whether the entry can no longer be consumed at now.
func (e *LedgerEntry) ExpiredAt(now time.Time) bool {
	return e.ExpiryAt != nil && !e.ExpiryAt.After(now)
}

// ConsumeLink records that ConsumedAmount of a credit entry was taken by a
// consuming entry. SaveEntryID points at a SAVE or CANCEL_USE entry.
type ConsumeLink struct {
	SaveEntryID      int64 `json:"save_entry_id"`
	ConsumingEntryID int64 `json:"consuming_entry_id"`
	ConsumedAmount   int64 `json:"consumed_amount"`
}

// Capacity is a credit entry together with its unconsumed remainder.
type Capacity struct {
	Entry     LedgerEntry `json:"entry"`
	Remaining int64       `json:"remaining"`
}

// CapacityState is the implicit lifecycle of a credit entry.
type CapacityState string

const (
	CapacityActive            CapacityState = "ACTIVE"
	CapacityPartiallyConsumed CapacityState = "PARTIALLY_CONSUMED"
	CapacityExhausted         CapacityState = "EXHAUSTED"
	CapacityExpired           CapacityState = "EXPIRED"
)

// State derives the lifecycle state at now. An entry past its expiry that
// still has remaining capacity is reported as expired even before the batch
// sweep writes its EXPIRE entry.
func (c *Capacity) State(now time.Time) CapacityState {
	switch {
	case c.Remaining <= 0:
		return CapacityExhausted
	case c.Entry.ExpiredAt(now):
		return CapacityExpired
	case c.Remaining < c.Entry.Amount:
		return CapacityPartiallyConsumed
	default:
		return CapacityActive
	}
}
