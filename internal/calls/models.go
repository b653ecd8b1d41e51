package calls

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Session tracks the billing view of one call.
//
// Money invariant reminder: AccumulatedCost mirrors what the ledger has
// actually collected for this call; it moves only when a ledger charge
// succeeds and is monotonically non-decreasing while the call is live.
type Session struct {
	CallID    string `json:"call_id" db:"call_id"`
	AccountID string `json:"account_id" db:"account_id"`

	// Destination is the dialed number as received; rating normalizes it.
	Destination string `json:"destination" db:"destination"`

	StartTime time.Time `json:"start_time" db:"start_time"`
	Status    Status    `json:"status" db:"status"`

	AccumulatedCost  decimal.Decimal `json:"accumulated_cost" db:"accumulated_cost"`
	LastBilledSecond int             `json:"last_billed_second" db:"last_billed_second"`

	// TerminationReason distinguishes a forced hangup from a normal one on
	// the billing breakdown.
	TerminationReason TerminationReason `json:"termination_reason,omitempty" db:"termination_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusAnswered   Status = "answered"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
	StatusCancelled  Status = "cancelled"
)

type TerminationReason string

const (
	ReasonNormal            TerminationReason = "normal"
	ReasonInsufficientFunds TerminationReason = "insufficient_funds"
	ReasonAccountInactive   TerminationReason = "account_inactive"
)

var ErrInvalidTransition = errors.New("calls: invalid status transition")

// next maps each state to the states it may move into. Terminal states have
// no successors; transitions only ever move forward. Completed is reachable
// from every live state: a CDR can report completion for a call whose
// progress events never arrived, and settlement must still finalize it.
var next = map[Status][]Status{
	StatusInitiated:  {StatusRinging, StatusAnswered, StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCancelled},
	StatusRinging:    {StatusAnswered, StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCancelled},
	StatusAnswered:   {StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCancelled},
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCancelled:
		return true
	}
	return false
}

// Accruing reports whether the call accrues cost in this state.
func (s Status) Accruing() bool { return s == StatusInProgress }

func (s Status) canMoveTo(to Status) bool {
	for _, n := range next[s] {
		if n == to {
			return true
		}
	}
	return false
}

// TransitionTo advances the session state. Backward moves are rejected;
// terminal states are frozen.
func (s *Session) TransitionTo(to Status, now time.Time) error {
	if s.Status == to {
		return nil
	}
	if !s.Status.canMoveTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = now
	return nil
}

// AddCharge records a successful ledger charge against this session.
func (s *Session) AddCharge(amount decimal.Decimal, billedSeconds int, now time.Time) error {
	if amount.IsNegative() {
		return fmt.Errorf("calls: accumulated cost may not decrease")
	}
	if billedSeconds < s.LastBilledSecond {
		return fmt.Errorf("calls: billed boundary may not move backwards")
	}
	s.AccumulatedCost = s.AccumulatedCost.Add(amount)
	s.LastBilledSecond = billedSeconds
	s.UpdatedAt = now
	return nil
}
