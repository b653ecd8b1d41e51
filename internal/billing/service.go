package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"voip-billing/internal/calls"
	"voip-billing/internal/ledger"
	"voip-billing/internal/rates"
	"voip-billing/internal/rating"
)

// Service is the billing facade behind the HTTP handlers and batch jobs. It
// never holds call state of its own; everything is derived from the rate
// table, the session store and the ledger.
type Service struct {
	rates    *rates.Service
	calc     *rating.Calculator
	ledger   *ledger.Service
	sessions calls.Repository

	log   *slog.Logger
	clock func() time.Time
}

func NewService(rateSvc *rates.Service, calc *rating.Calculator, ledgerSvc *ledger.Service, sessions calls.Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		rates:    rateSvc,
		calc:     calc,
		ledger:   ledgerSvc,
		sessions: sessions,
		log:      log,
		clock:    time.Now,
	}
}

// Prediction is a pre-call quote. Nothing is charged.
type Prediction struct {
	Destination      string          `json:"destination"`
	Prefix           string          `json:"prefix"`
	DisplayName      string          `json:"display_name"`
	RatePerMinute    decimal.Decimal `json:"rate_per_minute"`
	RequestedSeconds int             `json:"requested_seconds"`
	BilledSeconds    int             `json:"billed_seconds"`
	EstimatedCost    decimal.Decimal `json:"estimated_cost"`
}

// PredictCost quotes a hypothetical call of the given length placed now.
func (s *Service) PredictCost(ctx context.Context, destination string, durationMinutes float64) (Prediction, error) {
	if durationMinutes < 0 {
		return Prediction{}, fmt.Errorf("billing: duration may not be negative")
	}
	now := s.clock().UTC()
	rule, err := s.rates.Resolve(ctx, destination, now)
	if err != nil {
		return Prediction{}, err
	}

	seconds := int(math.Ceil(durationMinutes * 60))
	return Prediction{
		Destination:      destination,
		Prefix:           rule.Prefix,
		DisplayName:      rule.DisplayName,
		RatePerMinute:    rule.RatePerMinute,
		RequestedSeconds: seconds,
		BilledSeconds:    s.calc.BillableSeconds(rule, seconds),
		EstimatedCost:    s.calc.Cost(rule, seconds, now),
	}, nil
}

// Breakdown explains how a call was billed: the rate applied, the billed
// boundary reached and every ledger entry posted against it.
type Breakdown struct {
	Session       calls.Session   `json:"session"`
	Rate          rates.RateRule  `json:"rate"`
	BilledSeconds int             `json:"billed_seconds"`
	TotalCharged  decimal.Decimal `json:"total_charged"`
	Entries       []ledger.Entry  `json:"entries"`
}

// CallBillingBreakdown is read-only; it reconstructs the bill from the
// session and the ledger without touching either.
func (s *Service) CallBillingBreakdown(ctx context.Context, callID string) (Breakdown, error) {
	session, err := s.sessions.Get(ctx, callID)
	if err != nil {
		return Breakdown{}, err
	}

	rule, err := s.rates.Resolve(ctx, session.Destination, session.StartTime)
	if err != nil {
		return Breakdown{}, err
	}

	entries, err := s.ledger.EntriesForReference(ctx, ledger.RefCall, callID)
	if err != nil {
		return Breakdown{}, err
	}

	total := decimal.Zero
	for _, e := range entries {
		// Charges are stored as negative amounts.
		total = total.Sub(e.Amount)
	}

	return Breakdown{
		Session:       session,
		Rate:          rule,
		BilledSeconds: session.LastBilledSecond,
		TotalCharged:  total,
		Entries:       entries,
	}, nil
}

// CompletedCall is a terminal call record arriving from a CDR batch or any
// path the live monitor never saw.
type CompletedCall struct {
	CallID          string    `json:"call_id"`
	AccountID       string    `json:"account_id"`
	Destination     string    `json:"destination"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int       `json:"duration_seconds"`
}

func (c CompletedCall) Validate() error {
	if c.CallID == "" || c.AccountID == "" || c.Destination == "" {
		return fmt.Errorf("billing: call_id, account_id and destination required")
	}
	if c.StartTime.IsZero() {
		return fmt.Errorf("billing: start_time required")
	}
	if c.DurationSeconds < 0 {
		return fmt.Errorf("billing: duration may not be negative")
	}
	return nil
}

// ChargeForCompletedCall settles a finished call in one shot. Any charges the
// live monitor already posted for the same call are counted first and only
// the remainder is collected, so replays and monitor/batch overlap both
// settle to the same total.
func (s *Service) ChargeForCompletedCall(ctx context.Context, rec CompletedCall) (Breakdown, error) {
	if err := rec.Validate(); err != nil {
		return Breakdown{}, err
	}

	rule, err := s.rates.Resolve(ctx, rec.Destination, rec.StartTime)
	if err != nil {
		return Breakdown{}, err
	}

	billed := s.calc.BillableSeconds(rule, rec.DurationSeconds)
	total := s.calc.Cost(rule, rec.DurationSeconds, rec.StartTime)

	existing, err := s.ledger.EntriesForReference(ctx, ledger.RefCall, rec.CallID)
	if err != nil {
		return Breakdown{}, err
	}
	charged := decimal.Zero
	for _, e := range existing {
		charged = charged.Sub(e.Amount)
	}

	remainder := total.Sub(charged)
	if remainder.IsPositive() {
		ref := ledger.Reference{Kind: ledger.RefCall, ID: rec.CallID, Qualifier: strconv.Itoa(billed)}
		if _, cerr := s.ledger.Charge(ctx, rec.AccountID, remainder, ledger.KindCallCharge, ref); cerr != nil {
			return Breakdown{}, fmt.Errorf("billing: settle call %s: %w", rec.CallID, cerr)
		}
	}

	if err := s.recordSettledSession(ctx, rec, billed, total); err != nil {
		s.log.Error("settled session bookkeeping failed", "call_id", rec.CallID, "err", err)
	}

	return s.CallBillingBreakdown(ctx, rec.CallID)
}

// recordSettledSession makes the batch-settled call visible to breakdown
// queries, creating the session when the monitor never tracked it.
func (s *Service) recordSettledSession(ctx context.Context, rec CompletedCall, billed int, total decimal.Decimal) error {
	now := s.clock().UTC()
	_, err := s.sessions.Update(ctx, rec.CallID, func(x *calls.Session) error {
		if terr := x.TransitionTo(calls.StatusCompleted, now); terr != nil {
			return terr
		}
		if delta := total.Sub(x.AccumulatedCost); delta.IsPositive() {
			return x.AddCharge(delta, billed, now)
		}
		return nil
	})
	if err == nil || !errors.Is(err, calls.ErrSessionNotFound) {
		return err
	}

	return s.sessions.Put(ctx, calls.Session{
		CallID:            rec.CallID,
		AccountID:         rec.AccountID,
		Destination:       rec.Destination,
		StartTime:         rec.StartTime,
		Status:            calls.StatusCompleted,
		AccumulatedCost:   total,
		LastBilledSecond:  billed,
		TerminationReason: calls.ReasonNormal,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}
