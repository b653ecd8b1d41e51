package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Account is the billable party. Balance is mutated exclusively through
// Service; rating code never writes it directly.
type Account struct {
	ID string `json:"id" db:"id"`

	// Balance carries 4 decimal places.
	Balance decimal.Decimal `json:"balance" db:"balance"`

	// CreditLimit is the postpaid floor: balance may not go below -CreditLimit.
	// Ignored for prepaid accounts.
	CreditLimit decimal.Decimal `json:"credit_limit" db:"credit_limit"`

	Type   AccountType   `json:"account_type" db:"account_type"`
	Status AccountStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type AccountType string

const (
	AccountTypePrepaid  AccountType = "prepaid"
	AccountTypePostpaid AccountType = "postpaid"
)

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusLocked    AccountStatus = "locked"
	AccountStatusInactive  AccountStatus = "inactive"
)

// Floor returns the lowest balance this account may reach.
func (a Account) Floor() decimal.Decimal {
	if a.Type == AccountTypePostpaid {
		return a.CreditLimit.Neg()
	}
	return decimal.Zero
}

// EntryKind categorizes a ledger entry. Keep these stable; they are part of
// the audit contract.
type EntryKind string

const (
	KindCallCharge     EntryKind = "call_charge"
	KindDIDSetup       EntryKind = "did_setup"
	KindDIDMonthly     EntryKind = "did_monthly"
	KindDIDRefund      EntryKind = "did_refund"
	KindDIDTransferIn  EntryKind = "did_transfer_in"
	KindDIDTransferOut EntryKind = "did_transfer_out"
	KindCredit         EntryKind = "credit"
	KindAdjustment     EntryKind = "adjustment"
)

// ReferenceKind tags what a ledger entry points at. Each kind carries its
// payload in ID (call id, DID number, transfer id) plus an optional
// Qualifier (billed-seconds boundary, billing period, reversal marker).
type ReferenceKind string

const (
	RefCall     ReferenceKind = "call"
	RefDID      ReferenceKind = "did"
	RefTransfer ReferenceKind = "transfer"
	RefManual   ReferenceKind = "manual"
)

// Reference identifies the business event behind a balance mutation. Its key
// is the idempotency guard: retrying a crashed poster with the same reference
// returns the original entry instead of charging twice.
type Reference struct {
	Kind      ReferenceKind `json:"kind" db:"reference_kind"`
	ID        string        `json:"id" db:"reference_id"`
	Qualifier string        `json:"qualifier,omitempty" db:"reference_qualifier"`
}

func (r Reference) Valid() bool {
	switch r.Kind {
	case RefCall, RefDID, RefTransfer, RefManual:
		return r.ID != ""
	default:
		return false
	}
}

// Key is the dedup key within one entry kind.
func (r Reference) Key() string {
	return string(r.Kind) + ":" + r.ID + ":" + r.Qualifier
}

// Entry is an immutable balance mutation record. Corrections are new entries,
// never updates. Invariant: BalanceAfter == BalanceBefore + Amount.
type Entry struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	Kind EntryKind `json:"kind" db:"kind"`

	// Amount is signed: negative for charges, positive for credits.
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`

	Reference Reference `json:"reference"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

var (
	ErrAccountNotFound   = errors.New("ledger: account not found")
	ErrAccountInactive   = errors.New("ledger: account not active")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidArgument   = errors.New("ledger: invalid argument")

	// ErrLedgerContention marks transient serialization conflicts; the
	// service retries these with backoff before surfacing them.
	ErrLedgerContention = errors.New("ledger: transient contention")
)
