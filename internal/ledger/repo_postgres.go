package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"voip-billing/pkg/utils"
)

// PostgresStore persists accounts and ledger entries.
//
// Assumed tables:
// - accounts (balance NUMERIC(19,4), credit_limit NUMERIC(19,4), account_type, status)
// - ledger_entries (append-only; UNIQUE (account_id, kind, idempotency_key))
//
// Concurrency: Post locks the account row with SELECT ... FOR UPDATE for the
// whole read-check-write sequence, so all mutations for one account are
// strictly serialized. Conflicting writers surface as ErrLedgerContention and
// are retried by the service.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	const q = `
SELECT id, balance, credit_limit, account_type, status, created_at, updated_at
FROM accounts
WHERE id = $1
`
	return scanAccount(s.db.QueryRowContext(ctx, q, accountID))
}

func (s *PostgresStore) ListEntries(ctx context.Context, accountID string) ([]Entry, error) {
	const q = `
SELECT id, account_id, kind, amount, balance_before, balance_after,
       reference_kind, reference_id, reference_qualifier, created_at
FROM ledger_entries
WHERE account_id = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := s.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) ListEntriesByReference(ctx context.Context, kind ReferenceKind, refID string) ([]Entry, error) {
	const q = `
SELECT id, account_id, kind, amount, balance_before, balance_after,
       reference_kind, reference_id, reference_qualifier, created_at
FROM ledger_entries
WHERE reference_kind = $1 AND reference_id = $2
ORDER BY created_at ASC, id ASC
`
	rows, err := s.db.QueryContext(ctx, q, string(kind), refID)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) Post(ctx context.Context, accountID string, kind EntryKind, ref Reference, decide DecideFunc) (Entry, bool, error) {
	var out Entry
	existed := false

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		acct, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}

		if existing, ok, err := findEntryByKey(ctx, tx, accountID, kind, ref.Key()); err != nil {
			return err
		} else if ok {
			out = existing
			existed = true
			return nil
		}

		amount, err := decide(acct)
		if err != nil {
			return err
		}

		now := s.clock().UTC()
		entry := Entry{
			ID:            uuid.NewString(),
			AccountID:     accountID,
			Kind:          kind,
			Amount:        amount,
			BalanceBefore: acct.Balance,
			BalanceAfter:  acct.Balance.Add(amount),
			Reference:     ref,
			CreatedAt:     now,
		}

		if err := insertEntry(ctx, tx, entry, ref.Key()); err != nil {
			return err
		}
		if err := updateBalance(ctx, tx, accountID, entry.BalanceAfter, now); err != nil {
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		return Entry{}, false, mapPgErr(err)
	}
	return out, existed, nil
}

func lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (Account, error) {
	const q = `
SELECT id, balance, credit_limit, account_type, status, created_at, updated_at
FROM accounts
WHERE id = $1
FOR UPDATE
`
	return scanAccount(tx.QueryRowContext(ctx, q, accountID))
}

func findEntryByKey(ctx context.Context, tx *sql.Tx, accountID string, kind EntryKind, key string) (Entry, bool, error) {
	const q = `
SELECT id, account_id, kind, amount, balance_before, balance_after,
       reference_kind, reference_id, reference_qualifier, created_at
FROM ledger_entries
WHERE account_id = $1 AND kind = $2 AND idempotency_key = $3
LIMIT 1
`
	var e Entry
	err := tx.QueryRowContext(ctx, q, accountID, string(kind), key).Scan(
		&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
		&e.Reference.Kind, &e.Reference.ID, &e.Reference.Qualifier, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e Entry, key string) error {
	const q = `
INSERT INTO ledger_entries (
  id, account_id, kind, amount, balance_before, balance_after,
  reference_kind, reference_id, reference_qualifier, idempotency_key, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID, e.AccountID, string(e.Kind), e.Amount, e.BalanceBefore, e.BalanceAfter,
		string(e.Reference.Kind), e.Reference.ID, e.Reference.Qualifier, key, e.CreatedAt,
	)
	return err
}

func updateBalance(ctx context.Context, tx *sql.Tx, accountID string, balance decimal.Decimal, now time.Time) error {
	const q = `
UPDATE accounts SET balance = $2, updated_at = $3 WHERE id = $1
`
	_, err := tx.ExecContext(ctx, q, accountID, balance, now)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Balance, &a.CreditLimit, &a.Type, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, mapPgErr(err)
	}
	return a, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
			&e.Reference.Kind, &e.Reference.ID, &e.Reference.Qualifier, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// mapPgErr converts transient Postgres failures into ErrLedgerContention.
// A unique violation on the idempotency key means another writer posted the
// same reference first; retrying resolves it to the existing entry.
func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505", "55P03":
			return errors.Join(ErrLedgerContention, err)
		}
	}
	return err
}
