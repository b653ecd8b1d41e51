package dids

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"voip-billing/internal/alerts"
	"voip-billing/internal/ledger"
)

type Config struct {
	// MinRefund is the smallest proration worth posting; anything below is
	// dropped rather than cluttering the ledger.
	MinRefund decimal.Decimal
}

type Service struct {
	repo   Repository
	ledger *ledger.Service
	alerts *alerts.Service

	minRefund decimal.Decimal
	log       *slog.Logger
	clock     func() time.Time
}

func NewService(repo Repository, ledgerSvc *ledger.Service, alertSvc *alerts.Service, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	minRefund := cfg.MinRefund
	if minRefund.IsZero() {
		minRefund = decimal.RequireFromString("0.01")
	}
	return &Service{
		repo:      repo,
		ledger:    ledgerSvc,
		alerts:    alertSvc,
		minRefund: minRefund,
		log:       log,
		clock:     time.Now,
	}
}

// Provision assigns a number to an account, collecting the setup fee and the
// first month up front. Both charges carry number-scoped references, so a
// retried provision never double-bills.
func (s *Service) Provision(ctx context.Context, accountID, didNumber string, monthly, setup decimal.Decimal, now time.Time) (Subscription, error) {
	if existing, err := s.repo.Get(ctx, didNumber); err == nil && existing.Status != StatusAvailable {
		return Subscription{}, ErrAlreadyAssigned
	}

	period := PeriodKey(now)
	if setup.IsPositive() {
		ref := ledger.Reference{Kind: ledger.RefDID, ID: didNumber, Qualifier: "setup:" + period}
		if _, err := s.ledger.Charge(ctx, accountID, setup, ledger.KindDIDSetup, ref); err != nil {
			return Subscription{}, fmt.Errorf("dids: setup charge: %w", err)
		}
	}
	if monthly.IsPositive() {
		ref := ledger.Reference{Kind: ledger.RefDID, ID: didNumber, Qualifier: period}
		if _, err := s.ledger.Charge(ctx, accountID, monthly, ledger.KindDIDMonthly, ref); err != nil {
			return Subscription{}, fmt.Errorf("dids: first month charge: %w", err)
		}
	}

	sub := Subscription{
		DIDNumber:   didNumber,
		AccountID:   accountID,
		MonthlyCost: monthly,
		SetupCost:   setup,
		Status:      StatusAssigned,
		ActivatedAt: now,
		ExpiresAt:   now.AddDate(0, 1, 0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Put(ctx, sub); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// RenewDue sweeps every subscription past its paid-through boundary and
// collects the next month. The reference is keyed by the period being paid,
// so rerunning the sweep in the same period is harmless. A failed charge
// suspends the subscription and raises an alert instead of retrying forever.
func (s *Service) RenewDue(ctx context.Context, now time.Time) (renewed, failed int, err error) {
	due, err := s.repo.ListDue(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	for _, sub := range due {
		period := PeriodKey(sub.ExpiresAt)
		ref := ledger.Reference{Kind: ledger.RefDID, ID: sub.DIDNumber, Qualifier: period}

		_, cerr := s.ledger.Charge(ctx, sub.AccountID, sub.MonthlyCost, ledger.KindDIDMonthly, ref)
		switch {
		case cerr == nil:
			if _, uerr := s.repo.Update(ctx, sub.DIDNumber, func(x *Subscription) error {
				x.ExpiresAt = x.ExpiresAt.AddDate(0, 1, 0)
				x.UpdatedAt = now
				return nil
			}); uerr != nil {
				s.log.Error("renewal bookkeeping failed", "did", sub.DIDNumber, "err", uerr)
				failed++
				continue
			}
			renewed++

		case errors.Is(cerr, ledger.ErrInsufficientFunds), errors.Is(cerr, ledger.ErrAccountInactive):
			failed++
			if _, uerr := s.repo.Update(ctx, sub.DIDNumber, func(x *Subscription) error {
				x.Status = StatusSuspended
				x.UpdatedAt = now
				return nil
			}); uerr != nil {
				s.log.Error("renewal suspend failed", "did", sub.DIDNumber, "err", uerr)
			}
			if s.alerts != nil {
				_ = s.alerts.RenewalFailed(ctx, sub.AccountID, sub.DIDNumber, cerr.Error())
			}

		default:
			// Transient ledger trouble; the next sweep retries the same
			// period key.
			failed++
			s.log.Error("renewal charge failed", "did", sub.DIDNumber, "err", cerr)
		}
	}
	return renewed, failed, nil
}

// Release returns the number to the available pool and refunds the unused
// remainder of the current month, prorated by calendar days. Refunds below
// the minimum threshold are dropped. An available number carries no account
// and no expiry; the next Provision starts a fresh subscription.
func (s *Service) Release(ctx context.Context, didNumber string, now time.Time) (Subscription, error) {
	sub, err := s.repo.Get(ctx, didNumber)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Status != StatusAssigned {
		return Subscription{}, ErrNotAssigned
	}

	refund := Prorate(sub.MonthlyCost, now)
	if refund.GreaterThanOrEqual(s.minRefund) {
		ref := ledger.Reference{Kind: ledger.RefDID, ID: didNumber, Qualifier: "release:" + PeriodKey(now)}
		if _, cerr := s.ledger.Credit(ctx, sub.AccountID, refund, ledger.KindDIDRefund, ref); cerr != nil {
			return Subscription{}, fmt.Errorf("dids: release refund: %w", cerr)
		}
	}

	return s.repo.Update(ctx, didNumber, func(x *Subscription) error {
		x.Status = StatusAvailable
		x.AccountID = ""
		x.ExpiresAt = time.Time{}
		x.UpdatedAt = now
		return nil
	})
}

// Transfer moves a number to another account. The unused prorated value
// moves with it: debited from the current holder, credited to the recipient.
// A credit that fails after the debit landed is compensated back to the
// sender so money never disappears mid-transfer.
func (s *Service) Transfer(ctx context.Context, didNumber, toAccountID string, now time.Time) (Subscription, error) {
	sub, err := s.repo.Get(ctx, didNumber)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Status != StatusAssigned {
		return Subscription{}, ErrNotAssigned
	}
	if toAccountID == "" || toAccountID == sub.AccountID {
		return Subscription{}, fmt.Errorf("dids: invalid transfer target")
	}

	amount := Prorate(sub.MonthlyCost, now)
	if amount.IsPositive() {
		transferID := uuid.NewString()
		outRef := ledger.Reference{Kind: ledger.RefTransfer, ID: transferID, Qualifier: "out"}
		if _, cerr := s.ledger.Charge(ctx, sub.AccountID, amount, ledger.KindDIDTransferOut, outRef); cerr != nil {
			return Subscription{}, fmt.Errorf("dids: transfer debit: %w", cerr)
		}

		inRef := ledger.Reference{Kind: ledger.RefTransfer, ID: transferID, Qualifier: "in"}
		if _, cerr := s.ledger.Credit(ctx, toAccountID, amount, ledger.KindDIDTransferIn, inRef); cerr != nil {
			revRef := ledger.Reference{Kind: ledger.RefTransfer, ID: transferID, Qualifier: "reversal"}
			if _, rerr := s.ledger.Credit(ctx, sub.AccountID, amount, ledger.KindAdjustment, revRef); rerr != nil {
				// Debit landed and both credits failed; this needs a human.
				s.log.Error("transfer reversal failed", "did", didNumber, "transfer_id", transferID, "err", rerr)
			}
			if s.alerts != nil {
				_ = s.alerts.TransferReversal(ctx, sub.AccountID, didNumber,
					fmt.Sprintf("transfer %s to %s reversed: %v", transferID, toAccountID, cerr))
			}
			return Subscription{}, fmt.Errorf("dids: transfer credit: %w", cerr)
		}
	}

	return s.repo.Update(ctx, didNumber, func(x *Subscription) error {
		x.AccountID = toAccountID
		x.UpdatedAt = now
		return nil
	})
}

// Prorate values the rest of the current month, today excluded, against the
// month's calendar length.
func Prorate(monthly decimal.Decimal, now time.Time) decimal.Decimal {
	daysInMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 1, -1).Day()
	daysRemaining := daysInMonth - now.Day()
	if daysRemaining <= 0 {
		return decimal.Zero
	}
	return monthly.
		Mul(decimal.NewFromInt(int64(daysRemaining))).
		Div(decimal.NewFromInt(int64(daysInMonth))).
		Round(4)
}
