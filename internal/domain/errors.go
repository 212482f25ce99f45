package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAccount      = errors.New("invalid account id")
	ErrInvalidExpiry       = errors.New("expiry must be in the future")
	ErrInvalidCommand      = errors.New("invalid command")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("ledger entry not found")
	ErrWrongType           = errors.New("wrong entry type")
	ErrFullyConsumed       = errors.New("entry has no remaining capacity")
	ErrAlreadyReversed     = errors.New("entry already reversed")
	ErrUnknownEntryType    = errors.New("unknown entry type")

	// ErrConsistencyViolation means the cache and the ledger disagree. It is
	// never retried and must be treated as a data integrity incident.
	ErrConsistencyViolation = errors.New("ledger consistency violation")
)

type InsufficientBalanceError struct {
	AccountID string
	Active    int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for account %s: active %d, requested %d", e.AccountID, e.Active, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

type WrongTypeError struct {
	EntryID int64
	Want    EntryType
	Got     EntryType
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("entry %d is %s, expected %s", e.EntryID, e.Got, e.Want)
}

func (e *WrongTypeError) Unwrap() error { return ErrWrongType }

type FullyConsumedError struct {
	EntryID int64
}

func (e *FullyConsumedError) Error() string {
	return fmt.Sprintf("entry %d is fully consumed or expired, nothing left to reverse", e.EntryID)
}

func (e *FullyConsumedError) Unwrap() error { return ErrFullyConsumed }

type ConsistencyError struct {
	AccountID string
	Detail    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("ledger consistency violation on account %s: %s", e.AccountID, e.Detail)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistencyViolation }

// IsClientError reports errors caused by the caller's input or the account's
// current state. They are returned as-is and never retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrInvalidExpiry) ||
		errors.Is(err, ErrInvalidCommand) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWrongType) ||
		errors.Is(err, ErrFullyConsumed) ||
		errors.Is(err, ErrAlreadyReversed)
}

// IsFatal reports errors that indicate ledger corruption.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConsistencyViolation)
}
