package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for alert events.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service raises operational alerts.
//
// Callers treat alerting as best-effort: a failed append is logged by the
// caller, never propagated into billing decisions.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("alerts: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("alerts: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// TerminateFailed records a call the control plane would not hang up.
func (s *Service) TerminateFailed(ctx context.Context, accountID, callID, message string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeTerminateFailed,
		AccountID: accountID,
		CallID:    callID,
		Message:   message,
	})
}

// LedgerFailure records a ledger mutation that failed after all retries.
func (s *Service) LedgerFailure(ctx context.Context, accountID, callID, message string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeLedgerFailure,
		AccountID: accountID,
		CallID:    callID,
		Message:   message,
	})
}

// RenewalFailed records an uncollectible DID renewal.
func (s *Service) RenewalFailed(ctx context.Context, accountID, didNumber, message string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeRenewalFailed,
		AccountID: accountID,
		DIDNumber: didNumber,
		Message:   message,
	})
}

// TransferReversal records a compensating credit after a failed transfer leg.
func (s *Service) TransferReversal(ctx context.Context, accountID, didNumber, message string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeTransferReversal,
		AccountID: accountID,
		DIDNumber: didNumber,
		Message:   message,
	})
}
