package alerts

import "time"

// Event is an immutable, append-only operational alert record.
//
// Invariants:
// - Events are never updated or deleted.
// - Alerting is best-effort; callers must not block billing flows on it.
//
// Storage recommendation (Postgres): INSERT-only table, partitioned by time
// for retention.
type Event struct {
	ID string `json:"id" db:"id"`

	Type EventType `json:"type" db:"type"`

	// Target identifiers (optional, depending on the event type).
	AccountID string `json:"account_id,omitempty" db:"account_id"`
	CallID    string `json:"call_id,omitempty" db:"call_id"`
	DIDNumber string `json:"did_number,omitempty" db:"did_number"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeTerminateFailed: the control plane refused to hang up a call
	// that exhausted its funds; an operator must intervene.
	EventTypeTerminateFailed EventType = "terminate_failed"
	// EventTypeLedgerFailure: a ledger mutation kept failing after all
	// retries.
	EventTypeLedgerFailure EventType = "ledger_failure"
	// EventTypeRenewalFailed: a DID renewal charge could not be collected.
	EventTypeRenewalFailed EventType = "renewal_failed"
	// EventTypeTransferReversal: a DID transfer credit failed after the
	// debit; a compensating credit was issued.
	EventTypeTransferReversal EventType = "transfer_reversal"
)
