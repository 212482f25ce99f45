package domain

import "time"

type AccrueCommand struct {
	AccountID  string     `json:"account_id" validate:"required"`
	Amount     int64      `json:"amount" validate:"gt=0"`
	ExpiryAt   *time.Time `json:"expiry_at,omitempty"`
	RefOrderID *string    `json:"ref_order_id,omitempty"`
	Reason     string     `json:"reason" validate:"max=255"`
	Actor      string     `json:"actor" validate:"max=100"`
}

type ConsumeCommand struct {
	AccountID  string  `json:"account_id" validate:"required"`
	Amount     int64   `json:"amount" validate:"gt=0"`
	RefOrderID *string `json:"ref_order_id,omitempty"`
	Reason     string  `json:"reason" validate:"max=255"`
	Actor      string  `json:"actor" validate:"max=100"`
}

// ReverseCommand cancels a USE entry (reverse consumption) or the remaining
// capacity of a SAVE entry (reverse accrual).
type ReverseCommand struct {
	AccountID string `json:"account_id" validate:"required"`
	EntryID   int64  `json:"entry_id" validate:"gt=0"`
	Reason    string `json:"reason" validate:"max=255"`
	Actor     string `json:"actor" validate:"max=100"`
}

// HistoryQuery selects a page of an account's entries, newest first.
type HistoryQuery struct {
	AccountID string
	Types     []EntryType // empty means all types
	From      *time.Time  // inclusive
	To        *time.Time  // exclusive
	Page      int32
	PageSize  int32
}
