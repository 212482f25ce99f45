package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pointledger/internal/domain"
	"pointledger/internal/logger"
	"pointledger/internal/repository"
	"pointledger/internal/utils"
)

const (
	systemActor  = "system"
	expiryReason = "points expired"
)

type ledgerService struct {
	store repository.Store
	clock func() time.Time
}

// NewLedgerService wires the mutation side. A nil clock means time.Now.
func NewLedgerService(store repository.Store, clock func() time.Time) LedgerService {
	if clock == nil {
		clock = time.Now
	}
	return &ledgerService{store: store, clock: clock}
}

func (s *ledgerService) now() time.Time { return s.clock().UTC() }

// Accrue rejects an expiryAt at or before the service clock with
// ErrInvalidExpiry, and an amount that would overflow the balance with
// ErrInvalidAmount.
func (s *ledgerService) Accrue(ctx context.Context, cmd domain.AccrueCommand) (*domain.LedgerEntry, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	now := s.now()
	if cmd.ExpiryAt != nil && !cmd.ExpiryAt.After(now) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidExpiry, cmd.ExpiryAt.UTC().Format(time.RFC3339))
	}

	var entry *domain.LedgerEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		balance, err := tx.Balances().Lock(ctx, cmd.AccountID)
		if err != nil {
			return err
		}

		// Applied before the insert so an overflowing amount writes nothing.
		if err := balance.Apply(domain.EntryTypeSave, cmd.Amount); err != nil {
			return err
		}
		entry = &domain.LedgerEntry{
			AccountID:  cmd.AccountID,
			Type:       domain.EntryTypeSave,
			Amount:     cmd.Amount,
			OccurredAt: now,
			ExpiryAt:   utcPtr(cmd.ExpiryAt),
			RefOrderID: cmd.RefOrderID,
			Reason:     cmd.Reason,
			Actor:      cmd.Actor,
		}
		if err := tx.Ledger().CreateEntry(ctx, entry); err != nil {
			return err
		}
		return tx.Balances().Save(ctx, balance)
	})
	if err != nil {
		return nil, s.fail(ctx, "Accrue", cmd.AccountID, err)
	}

	logger.InfoContext(ctx, "Points accrued", "account_id", cmd.AccountID, "entry_id", entry.ID, "amount", entry.Amount)
	return entry, nil
}

func (s *ledgerService) Consume(ctx context.Context, cmd domain.ConsumeCommand) (*domain.LedgerEntry, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	now := s.now()

	var entry *domain.LedgerEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		balance, err := tx.Balances().Lock(ctx, cmd.AccountID)
		if err != nil {
			return err
		}

		// Sweep past-due capacity first so the cached active figure that the
		// pre-check reads matches what allocation can actually use.
		if _, err := s.expireDue(ctx, tx, balance, now); err != nil {
			return err
		}
		if cmd.Amount > balance.Active {
			return &domain.InsufficientBalanceError{AccountID: cmd.AccountID, Active: balance.Active, Requested: cmd.Amount}
		}

		caps, err := tx.Ledger().ListCapacities(ctx, cmd.AccountID)
		if err != nil {
			return err
		}
		allocs, err := utils.Allocate(cmd.AccountID, caps, cmd.Amount, now)
		if err != nil {
			return err
		}

		entry = &domain.LedgerEntry{
			AccountID:  cmd.AccountID,
			Type:       domain.EntryTypeUse,
			Amount:     -cmd.Amount,
			OccurredAt: now,
			RefOrderID: cmd.RefOrderID,
			Reason:     cmd.Reason,
			Actor:      cmd.Actor,
		}
		if err := tx.Ledger().CreateEntry(ctx, entry); err != nil {
			return err
		}

		links := make([]domain.ConsumeLink, len(allocs))
		for i, a := range allocs {
			links[i] = domain.ConsumeLink{SaveEntryID: a.SaveEntryID, ConsumingEntryID: entry.ID, ConsumedAmount: a.Amount}
		}
		if err := tx.Links().CreateLinks(ctx, links); err != nil {
			return err
		}

		if err := balance.Apply(entry.Type, entry.Magnitude()); err != nil {
			return err
		}
		return tx.Balances().Save(ctx, balance)
	})
	if err != nil {
		return nil, s.fail(ctx, "Consume", cmd.AccountID, err)
	}

	logger.InfoContext(ctx, "Points consumed", "account_id", cmd.AccountID, "entry_id", entry.ID, "amount", cmd.Amount)
	return entry, nil
}

// ReverseConsumption cancels a USE entry. The reversed points come back as
// fresh, never-expiring capacity held by the CANCEL_USE entry; the original
// SAVE entries keep their links and their expiry.
func (s *ledgerService) ReverseConsumption(ctx context.Context, cmd domain.ReverseCommand) (*domain.LedgerEntry, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	now := s.now()

	var entry *domain.LedgerEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		balance, err := tx.Balances().Lock(ctx, cmd.AccountID)
		if err != nil {
			return err
		}

		original, err := s.entryOf(ctx, tx, cmd.AccountID, cmd.EntryID)
		if err != nil {
			return err
		}
		if original.Type != domain.EntryTypeUse {
			return &domain.WrongTypeError{EntryID: original.ID, Want: domain.EntryTypeUse, Got: original.Type}
		}

		_, err = tx.Ledger().FindReversal(ctx, original.ID, domain.EntryTypeCancelUse)
		switch {
		case err == nil:
			return fmt.Errorf("%w: use entry %d", domain.ErrAlreadyReversed, original.ID)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		entry = &domain.LedgerEntry{
			AccountID:  cmd.AccountID,
			Type:       domain.EntryTypeCancelUse,
			Amount:     original.Magnitude(),
			OccurredAt: now,
			RefOrderID: original.RefOrderID,
			RefEntryID: &original.ID,
			Reason:     cmd.Reason,
			Actor:      cmd.Actor,
		}
		if err := tx.Ledger().CreateEntry(ctx, entry); err != nil {
			return err
		}
		if err := balance.Apply(entry.Type, entry.Magnitude()); err != nil {
			return err
		}
		return tx.Balances().Save(ctx, balance)
	})
	if err != nil {
		return nil, s.fail(ctx, "ReverseConsumption", cmd.AccountID, err)
	}

	logger.InfoContext(ctx, "Point use reversed", "account_id", cmd.AccountID, "use_entry_id", cmd.EntryID, "entry_id", entry.ID, "amount", entry.Amount)
	return entry, nil
}

// ReverseAccrual cancels whatever is left of a SAVE entry. The CANCEL_SAVE
// entry is linked to the SAVE entry so its remaining capacity drops to zero.
func (s *ledgerService) ReverseAccrual(ctx context.Context, cmd domain.ReverseCommand) (*domain.LedgerEntry, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	now := s.now()

	var entry *domain.LedgerEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		balance, err := tx.Balances().Lock(ctx, cmd.AccountID)
		if err != nil {
			return err
		}

		capacity, err := tx.Ledger().GetCapacity(ctx, cmd.EntryID)
		if err != nil {
			return err
		}
		if capacity.Entry.AccountID != cmd.AccountID {
			return fmt.Errorf("%w: entry %d on account %s", domain.ErrNotFound, cmd.EntryID, cmd.AccountID)
		}
		if capacity.Entry.Type != domain.EntryTypeSave {
			return &domain.WrongTypeError{EntryID: cmd.EntryID, Want: domain.EntryTypeSave, Got: capacity.Entry.Type}
		}
		if capacity.Remaining <= 0 {
			return &domain.FullyConsumedError{EntryID: cmd.EntryID}
		}

		entry = &domain.LedgerEntry{
			AccountID:  cmd.AccountID,
			Type:       domain.EntryTypeCancelSave,
			Amount:     -capacity.Remaining,
			OccurredAt: now,
			RefOrderID: capacity.Entry.RefOrderID,
			RefEntryID: &capacity.Entry.ID,
			Reason:     cmd.Reason,
			Actor:      cmd.Actor,
		}
		if err := tx.Ledger().CreateEntry(ctx, entry); err != nil {
			return err
		}
		link := domain.ConsumeLink{SaveEntryID: capacity.Entry.ID, ConsumingEntryID: entry.ID, ConsumedAmount: capacity.Remaining}
		if err := tx.Links().CreateLinks(ctx, []domain.ConsumeLink{link}); err != nil {
			return err
		}
		if err := balance.Apply(entry.Type, entry.Magnitude()); err != nil {
			return err
		}
		return tx.Balances().Save(ctx, balance)
	})
	if err != nil {
		return nil, s.fail(ctx, "ReverseAccrual", cmd.AccountID, err)
	}

	logger.InfoContext(ctx, "Point accrual reversed", "account_id", cmd.AccountID, "save_entry_id", cmd.EntryID, "entry_id", entry.ID, "amount", entry.Amount)
	return entry, nil
}

// ExpireAccount writes one EXPIRE entry per SAVE entry whose expiry is at or
// before now and returns the total expired. Nothing due is not an error.
func (s *ledgerService) ExpireAccount(ctx context.Context, accountID string, now time.Time) (int64, error) {
	if accountID == "" {
		return 0, domain.ErrInvalidAccount
	}
	now = now.UTC()

	var expired int64
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		balance, err := tx.Balances().Lock(ctx, accountID)
		if err != nil {
			return err
		}
		expired, err = s.expireDue(ctx, tx, balance, now)
		if err != nil || expired == 0 {
			return err
		}
		return tx.Balances().Save(ctx, balance)
	})
	if err != nil {
		return 0, s.fail(ctx, "ExpireAccount", accountID, err)
	}

	if expired > 0 {
		logger.InfoContext(ctx, "Points expired", "account_id", accountID, "amount", expired, "as_of", now)
	}
	return expired, nil
}

// expireDue folds the expiry of every due SAVE entry into balance without
// saving it; the caller saves once at the end of its transaction.
func (s *ledgerService) expireDue(ctx context.Context, tx repository.Store, balance *domain.AccountBalance, now time.Time) (int64, error) {
	due, err := tx.Ledger().ListDueForExpiry(ctx, balance.AccountID, now)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, c := range due {
		entry := &domain.LedgerEntry{
			AccountID:  balance.AccountID,
			Type:       domain.EntryTypeExpire,
			Amount:     -c.Remaining,
			OccurredAt: now,
			RefOrderID: c.Entry.RefOrderID,
			Reason:     expiryReason,
			Actor:      systemActor,
		}
		if err := tx.Ledger().CreateEntry(ctx, entry); err != nil {
			return 0, err
		}
		link := domain.ConsumeLink{SaveEntryID: c.Entry.ID, ConsumingEntryID: entry.ID, ConsumedAmount: c.Remaining}
		if err := tx.Links().CreateLinks(ctx, []domain.ConsumeLink{link}); err != nil {
			return 0, err
		}
		if err := balance.Apply(entry.Type, c.Remaining); err != nil {
			return 0, err
		}
		total += c.Remaining
	}
	return total, nil
}

// Reconcile rebuilds the account's cache from entries and links, checks the
// link invariants and overwrites the cached row if it drifted.
func (s *ledgerService) Reconcile(ctx context.Context, accountID string) (*domain.ReconcileResult, error) {
	if accountID == "" {
		return nil, domain.ErrInvalidAccount
	}

	var result *domain.ReconcileResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		cached, err := tx.Balances().Lock(ctx, accountID)
		if err != nil {
			return err
		}

		over, err := tx.Links().ListOverConsumed(ctx, accountID)
		if err != nil {
			return err
		}
		if len(over) > 0 {
			return &domain.ConsistencyError{AccountID: accountID, Detail: fmt.Sprintf("entries %v consumed beyond their amount", over)}
		}

		derived, err := s.derive(ctx, tx, accountID)
		if err != nil {
			return err
		}

		result = &domain.ReconcileResult{AccountID: accountID, Cached: *cached, Derived: *derived}
		if cached.SameFigures(*derived) {
			return nil
		}
		if err := tx.Balances().Save(ctx, derived); err != nil {
			return err
		}
		result.Derived = *derived
		result.Repaired = true
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "Reconcile", accountID, err)
	}

	if result.Repaired {
		logger.Integrity(ctx, "Balance cache drift repaired",
			"account_id", accountID,
			"cached_total", result.Cached.Total, "derived_total", result.Derived.Total,
			"cached_active", result.Cached.Active, "derived_active", result.Derived.Active,
			"cached_used", result.Cached.Used, "derived_used", result.Derived.Used,
			"cached_expired", result.Cached.Expired, "derived_expired", result.Derived.Expired)
	}
	return result, nil
}

// derive recomputes the balance from raw entries. Every consuming entry is
// fully linked, so the net of all entries must equal the unconsumed capacity.
func (s *ledgerService) derive(ctx context.Context, tx repository.Store, accountID string) (*domain.AccountBalance, error) {
	sums, err := tx.Ledger().SumByType(ctx, accountID)
	if err != nil {
		return nil, err
	}
	remaining, err := tx.Links().SumRemaining(ctx, accountID)
	if err != nil {
		return nil, err
	}

	derived := &domain.AccountBalance{
		AccountID: accountID,
		Active:    remaining,
		Used:      -sums[domain.EntryTypeUse] - sums[domain.EntryTypeCancelUse],
		Expired:   -sums[domain.EntryTypeExpire],
	}
	for _, t := range domain.AllEntryTypes {
		derived.Total += sums[t]
	}

	if derived.Total != derived.Active {
		return nil, &domain.ConsistencyError{
			AccountID: accountID,
			Detail:    fmt.Sprintf("net of entries %d differs from unconsumed capacity %d", derived.Total, derived.Active),
		}
	}
	if derived.Active < 0 || derived.Used < 0 || derived.Expired < 0 {
		return nil, &domain.ConsistencyError{
			AccountID: accountID,
			Detail:    fmt.Sprintf("derived balance negative (active=%d used=%d expired=%d)", derived.Active, derived.Used, derived.Expired),
		}
	}
	return derived, nil
}

func (s *ledgerService) GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	if accountID == "" {
		return nil, domain.ErrInvalidAccount
	}
	return s.store.Balances().Get(ctx, accountID)
}

func (s *ledgerService) GetActiveBalance(ctx context.Context, accountID string) (int64, error) {
	b, err := s.GetBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return b.Active, nil
}

func (s *ledgerService) GetTotalBalance(ctx context.Context, accountID string) (int64, error) {
	b, err := s.GetBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return b.Total, nil
}

func (s *ledgerService) entryOf(ctx context.Context, tx repository.Store, accountID string, id int64) (*domain.LedgerEntry, error) {
	entry, err := tx.Ledger().GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.AccountID != accountID {
		return nil, fmt.Errorf("%w: entry %d on account %s", domain.ErrNotFound, id, accountID)
	}
	return entry, nil
}

// fail logs the error at the level its class deserves and returns it
// unchanged.
func (s *ledgerService) fail(ctx context.Context, op, accountID string, err error) error {
	log := logger.WithAccount(accountID).With("operation", op)
	switch {
	case domain.IsFatal(err):
		logger.Integrity(ctx, "Ledger consistency violation", "operation", op, "account_id", accountID, "error", err)
	case domain.IsClientError(err):
		log.DebugContext(ctx, "Ledger operation rejected", "error", err)
	default:
		log.ErrorContext(ctx, "Ledger operation failed", "error", err)
	}
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
