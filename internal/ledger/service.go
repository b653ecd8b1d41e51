package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

// DecideFunc inspects the locked account state and returns the signed amount
// to post (negative for charges). Returning an error aborts with no mutation.
type DecideFunc func(a Account) (decimal.Decimal, error)

// Store is the persistence contract for accounts and ledger entries.
//
// Post must:
// - serialize concurrent calls per account (row lock or equivalent)
// - resolve idempotency first: an existing entry for (kind, ref) on this
//   account is returned with existed=true and nothing is re-applied
// - otherwise call decide with the current account, then persist the new
//   balance and append the entry in one atomic unit
// - map transient conflicts to ErrLedgerContention.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (Account, error)
	ListEntries(ctx context.Context, accountID string) ([]Entry, error)
	ListEntriesByReference(ctx context.Context, kind ReferenceKind, refID string) ([]Entry, error)
	Post(ctx context.Context, accountID string, kind EntryKind, ref Reference, decide DecideFunc) (entry Entry, existed bool, err error)
}

// Service is the single entry point for balance mutation. No other component
// may write balances.
type Service struct {
	store Store

	// opTimeout bounds a single ledger mutation.
	opTimeout time.Duration
	// maxRetries bounds contention retries before the error surfaces.
	maxRetries    uint64
	retryInterval time.Duration
}

func NewService(store Store) *Service {
	return &Service{
		store:         store,
		opTimeout:     5 * time.Second,
		maxRetries:    4,
		retryInterval: 50 * time.Millisecond,
	}
}

// Charge debits amount from the account.
//
// Admission runs before the mutation, under the account lock: the account
// must be active, and the resulting balance must not cross the account floor
// (zero for prepaid, -credit_limit for postpaid). A duplicate reference
// returns the prior entry and deducts nothing.
func (s *Service) Charge(ctx context.Context, accountID string, amount decimal.Decimal, kind EntryKind, ref Reference) (Entry, error) {
	if accountID == "" || !ref.Valid() || !amount.IsPositive() {
		return Entry{}, ErrInvalidArgument
	}

	return s.post(ctx, accountID, kind, ref, func(a Account) (decimal.Decimal, error) {
		if a.Status != AccountStatusActive {
			return decimal.Zero, ErrAccountInactive
		}
		wouldBe := a.Balance.Sub(amount)
		if wouldBe.LessThan(a.Floor()) {
			return decimal.Zero, ErrInsufficientFunds
		}
		return amount.Neg(), nil
	})
}

// Credit adds amount to the account. There is no balance ceiling, and
// credits land even on suspended or locked accounts: refunds must never be
// blocked by account state.
func (s *Service) Credit(ctx context.Context, accountID string, amount decimal.Decimal, kind EntryKind, ref Reference) (Entry, error) {
	if accountID == "" || !ref.Valid() || !amount.IsPositive() {
		return Entry{}, ErrInvalidArgument
	}

	return s.post(ctx, accountID, kind, ref, func(a Account) (decimal.Decimal, error) {
		return amount, nil
	})
}

func (s *Service) post(ctx context.Context, accountID string, kind EntryKind, ref Reference, decide DecideFunc) (Entry, error) {
	var out Entry

	op := func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		entry, _, err := s.store.Post(opCtx, accountID, kind, ref, decide)
		if err != nil {
			if errors.Is(err, ErrLedgerContention) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = entry
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.retryInterval
	bo := backoff.WithMaxRetries(exp, s.maxRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return Entry{}, err
	}
	return out, nil
}

// GetAccount returns the current account snapshot.
func (s *Service) GetAccount(ctx context.Context, accountID string) (Account, error) {
	if accountID == "" {
		return Account{}, ErrInvalidArgument
	}
	return s.store.GetAccount(ctx, accountID)
}

// Entries returns all ledger entries for an account, oldest first.
func (s *Service) Entries(ctx context.Context, accountID string) ([]Entry, error) {
	if accountID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListEntries(ctx, accountID)
}

// EntriesForReference returns every entry posted against one business event
// (e.g., all incremental charges of a call).
func (s *Service) EntriesForReference(ctx context.Context, kind ReferenceKind, refID string) ([]Entry, error) {
	if refID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListEntriesByReference(ctx, kind, refID)
}
