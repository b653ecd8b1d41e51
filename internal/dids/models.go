package dids

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Subscription is one DID number rented by an account. The paid-through
// boundary is ExpiresAt; the renewal sweep extends it month by month.
type Subscription struct {
	DIDNumber string `json:"did_number" db:"did_number"`
	AccountID string `json:"account_id" db:"account_id"`

	MonthlyCost decimal.Decimal `json:"monthly_cost" db:"monthly_cost"`
	SetupCost   decimal.Decimal `json:"setup_cost" db:"setup_cost"`

	Status Status `json:"status" db:"status"`

	ActivatedAt time.Time `json:"activated_at" db:"activated_at"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	// StatusAssigned implies AccountID is set and ExpiresAt marks the
	// paid-through boundary.
	StatusAssigned Status = "assigned"
	// StatusSuspended means the renewal charge failed; inbound service stops
	// until the account is funded and the subscription renewed manually.
	StatusSuspended Status = "suspended"
	// StatusAvailable is an unassigned number: no account, no expiry.
	StatusAvailable Status = "available"
)

var (
	ErrSubscriptionNotFound = errors.New("dids: subscription not found")
	ErrNotAssigned          = errors.New("dids: number not assigned")
	ErrAlreadyAssigned      = errors.New("dids: number already assigned")
)

func (s Subscription) Validate() error {
	if s.DIDNumber == "" {
		return fmt.Errorf("dids: did_number required")
	}
	if s.Status != StatusAvailable && s.AccountID == "" {
		return fmt.Errorf("dids: account_id required for %s numbers", s.Status)
	}
	if s.MonthlyCost.IsNegative() || s.SetupCost.IsNegative() {
		return fmt.Errorf("dids: costs may not be negative")
	}
	return nil
}

// PeriodKey identifies one billing month for idempotent renewal references.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
