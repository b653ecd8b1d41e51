package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"voip-billing/internal/alerts"
	"voip-billing/internal/calls"
	"voip-billing/internal/ledger"
	"voip-billing/internal/rates"
	"voip-billing/internal/rating"
)

// CallControl is the telephony control plane the monitor consumes. The
// monitor never talks to a provider SDK directly.
type CallControl interface {
	// ElapsedSeconds reports the call's current answered duration. Any
	// error is treated as transient: the poll cycle is skipped, never
	// charged from stale data.
	ElapsedSeconds(ctx context.Context, callID string) (int, error)
	Terminate(ctx context.Context, callID string) error
}

// SlotLimiter caps concurrent watched calls per account. A nil limiter
// means unlimited.
type SlotLimiter interface {
	Acquire(ctx context.Context, accountID string) (bool, error)
	Release(ctx context.Context, accountID string) error
}

type Config struct {
	// BalanceCheckInterval is the billing poll period.
	BalanceCheckInterval time.Duration
	// GracePeriod lets a call continue briefly after funds run out.
	GracePeriod time.Duration
	// AutoTerminateOnZeroBalance skips the grace window entirely.
	AutoTerminateOnZeroBalance bool

	// PollTimeout bounds one duration query.
	PollTimeout time.Duration
	// TerminateRetries bounds hangup attempts before escalating.
	TerminateRetries int
	// TerminateTimeout bounds one hangup attempt.
	TerminateTimeout time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.BalanceCheckInterval <= 0 {
		out.BalanceCheckInterval = 10 * time.Second
	}
	if out.PollTimeout <= 0 {
		out.PollTimeout = 2 * time.Second
	}
	if out.TerminateRetries <= 0 {
		out.TerminateRetries = 3
	}
	if out.TerminateTimeout <= 0 {
		out.TerminateTimeout = 5 * time.Second
	}
	return out
}

var (
	ErrAlreadyWatched = errors.New("monitor: call already watched")
	ErrNotWatched     = errors.New("monitor: call not watched")
	ErrTooManyCalls   = errors.New("monitor: concurrent call limit reached")
)

// Manager runs one watcher goroutine per live call. Watchers share no state
// with each other; they meet only in the ledger and the rate table.
type Manager struct {
	rates    *rates.Service
	calc     *rating.Calculator
	ledger   *ledger.Service
	sessions calls.Repository
	ctl      CallControl
	alerts   *alerts.Service
	limiter  SlotLimiter

	cfg   Config
	log   *slog.Logger
	clock func() time.Time

	mu      sync.Mutex
	active  map[string]*watcher
	wg      sync.WaitGroup
	stopped bool
}

type watcher struct {
	cancel context.CancelFunc
	ended  chan endEvent
}

type endEvent struct {
	finalSeconds int
	status       calls.Status
}

func NewManager(
	rateSvc *rates.Service,
	calc *rating.Calculator,
	ledgerSvc *ledger.Service,
	sessions calls.Repository,
	ctl CallControl,
	alertSvc *alerts.Service,
	limiter SlotLimiter,
	cfg Config,
	log *slog.Logger,
) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		rates:    rateSvc,
		calc:     calc,
		ledger:   ledgerSvc,
		sessions: sessions,
		ctl:      ctl,
		alerts:   alertSvc,
		limiter:  limiter,
		cfg:      cfg.withDefaults(),
		log:      log,
		clock:    time.Now,
		active:   make(map[string]*watcher),
	}
}

// Watch admits a call into real-time billing. The rate is resolved once here
// and cached for the whole call; rule updates never apply mid-call. A call
// with no matching rate is refused outright.
func (m *Manager) Watch(ctx context.Context, session calls.Session) error {
	if session.CallID == "" || session.AccountID == "" {
		return fmt.Errorf("monitor: call_id and account_id required")
	}

	rule, err := m.rates.Resolve(ctx, session.Destination, session.StartTime)
	if err != nil {
		return err
	}

	if m.limiter != nil {
		ok, err := m.limiter.Acquire(ctx, session.AccountID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTooManyCalls
		}
	}

	if session.Status == "" {
		session.Status = calls.StatusInitiated
	}
	if err := m.sessions.Put(ctx, session); err != nil {
		m.releaseSlot(session.AccountID)
		return err
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.releaseSlot(session.AccountID)
		return errors.New("monitor: manager stopped")
	}
	if _, ok := m.active[session.CallID]; ok {
		m.mu.Unlock()
		m.releaseSlot(session.AccountID)
		return ErrAlreadyWatched
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	w := &watcher{cancel: cancel, ended: make(chan endEvent, 1)}
	m.active[session.CallID] = w
	m.wg.Add(1)
	m.mu.Unlock()

	go m.loop(loopCtx, w, session.CallID, session.AccountID, rule)
	return nil
}

// MarkStatus applies a call-progress event (ringing, answered, in_progress).
// Terminal events go through CallEnded instead.
func (m *Manager) MarkStatus(ctx context.Context, callID string, status calls.Status) error {
	if status.Terminal() {
		return fmt.Errorf("monitor: terminal status %s must be reported via CallEnded", status)
	}
	_, err := m.sessions.Update(ctx, callID, func(s *calls.Session) error {
		return s.TransitionTo(status, m.clock().UTC())
	})
	return err
}

// CallEnded signals the genuine end of a call. The watcher performs one
// final reconciliation charge for the unbilled tail and freezes the session.
func (m *Manager) CallEnded(ctx context.Context, callID string, finalSeconds int, status calls.Status) error {
	_ = ctx
	if !status.Terminal() {
		return fmt.Errorf("monitor: %s is not a terminal status", status)
	}

	m.mu.Lock()
	w, ok := m.active[callID]
	m.mu.Unlock()
	if !ok {
		return ErrNotWatched
	}

	select {
	case w.ended <- endEvent{finalSeconds: finalSeconds, status: status}:
	default:
		// end already signaled
	}
	return nil
}

// Stop detaches all watchers and waits for any in-flight work. Live calls
// are left non-terminal for the CDR settlement path to finalize.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	for _, w := range m.active {
		w.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context, w *watcher, callID, accountID string, rule rates.RateRule) {
	defer m.wg.Done()
	defer m.releaseSlot(accountID)
	defer func() {
		m.mu.Lock()
		delete(m.active, callID)
		m.mu.Unlock()
	}()

	log := m.log.With("call_id", callID, "account_id", accountID)
	ticker := time.NewTicker(m.cfg.BalanceCheckInterval)
	defer ticker.Stop()

	var graceStart time.Time
	escalated := false

	for {
		select {
		case <-ctx.Done():
			// Shutdown, not hangup. The call may still be live on the
			// switch, so the session stays non-terminal; everything charged
			// so far is already in the ledger and the CDR settlement path
			// bills the tail and finalizes from the true duration.
			log.Info("watcher detached, leaving call for settlement")
			return

		case ev := <-w.ended:
			m.reconcile(callID, accountID, rule, ev.finalSeconds, ev.status, calls.ReasonNormal, log)
			return

		case <-ticker.C:
			done := m.poll(ctx, callID, accountID, rule, &graceStart, &escalated, log)
			if done {
				return
			}
		}
	}
}

// poll runs one billing cycle. Returns true when the watcher should stop.
func (m *Manager) poll(ctx context.Context, callID, accountID string, rule rates.RateRule, graceStart *time.Time, escalated *bool, log *slog.Logger) bool {
	session, err := m.sessions.Get(ctx, callID)
	if err != nil {
		log.Error("session lookup failed", "err", err)
		return false
	}
	if session.Status.Terminal() {
		return true
	}
	if !session.Status.Accruing() {
		return false
	}

	pollCtx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
	elapsed, err := m.ctl.ElapsedSeconds(pollCtx, callID)
	cancel()
	if err != nil {
		// Transient collaborator failure: skip this cycle, never charge
		// from unknown duration, never terminate for a monitoring failure.
		log.Warn("duration query failed, skipping cycle", "err", err)
		return false
	}

	billed := m.calc.BillableSeconds(rule, elapsed)
	costSoFar := m.calc.Cost(rule, elapsed, session.StartTime)
	delta := costSoFar.Sub(session.AccumulatedCost)
	if !delta.IsPositive() {
		return false
	}

	ref := ledger.Reference{Kind: ledger.RefCall, ID: callID, Qualifier: strconv.Itoa(billed)}
	_, err = m.ledger.Charge(ctx, accountID, delta, ledger.KindCallCharge, ref)
	switch {
	case err == nil:
		*graceStart = time.Time{}
		if _, uerr := m.sessions.Update(ctx, callID, func(s *calls.Session) error {
			return s.AddCharge(delta, billed, m.clock().UTC())
		}); uerr != nil {
			log.Error("session charge update failed", "err", uerr)
		}
		return false

	case errors.Is(err, ledger.ErrInsufficientFunds):
		now := m.clock().UTC()
		if !m.cfg.AutoTerminateOnZeroBalance && m.cfg.GracePeriod > 0 {
			if graceStart.IsZero() {
				*graceStart = now
				log.Info("balance exhausted, grace window started", "grace", m.cfg.GracePeriod)
				return false
			}
			if now.Sub(*graceStart) < m.cfg.GracePeriod {
				return false
			}
		}
		return m.terminate(ctx, callID, accountID, calls.ReasonInsufficientFunds, escalated, log)

	case errors.Is(err, ledger.ErrAccountInactive):
		// No grace for deactivated accounts.
		return m.terminate(ctx, callID, accountID, calls.ReasonAccountInactive, escalated, log)

	default:
		log.Error("ledger charge failed", "err", err)
		if m.alerts != nil {
			_ = m.alerts.LedgerFailure(ctx, accountID, callID, err.Error())
		}
		return false
	}
}

// terminate instructs the control plane to hang up, retrying a bounded
// number of times. Persistent failure raises an operational alert and keeps
// the watcher alive so the next cycle tries again.
func (m *Manager) terminate(ctx context.Context, callID, accountID string, reason calls.TerminationReason, escalated *bool, log *slog.Logger) bool {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 25 * time.Millisecond
	err := backoff.Retry(func() error {
		termCtx, cancel := context.WithTimeout(ctx, m.cfg.TerminateTimeout)
		defer cancel()
		return m.ctl.Terminate(termCtx, callID)
	}, backoff.WithMaxRetries(exp, uint64(m.cfg.TerminateRetries)))
	if err != nil {
		log.Error("terminate failed after retries", "err", err, "reason", reason)
		if !*escalated {
			*escalated = true
			if m.alerts != nil {
				_ = m.alerts.TerminateFailed(ctx, accountID, callID, err.Error())
			}
		}
		return false
	}

	now := m.clock().UTC()
	if _, uerr := m.sessions.Update(ctx, callID, func(s *calls.Session) error {
		if terr := s.TransitionTo(calls.StatusCompleted, now); terr != nil {
			return terr
		}
		s.TerminationReason = reason
		return nil
	}); uerr != nil {
		log.Error("session finalize failed", "err", uerr)
	}
	log.Info("call terminated", "reason", reason)
	return true
}

// reconcile performs the final charge for seconds billed past the last poll
// and freezes the session. finalSeconds < 0 means the true duration is
// unknown; the session freezes at its accumulated cost.
func (m *Manager) reconcile(callID, accountID string, rule rates.RateRule, finalSeconds int, status calls.Status, reason calls.TerminationReason, log *slog.Logger) {
	// The watcher context may already be canceled; reconciliation gets its
	// own bounded context so it always completes.
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TerminateTimeout)
	defer cancel()

	session, err := m.sessions.Get(ctx, callID)
	if err != nil {
		log.Error("reconcile session lookup failed", "err", err)
		return
	}
	if session.Status.Terminal() {
		return
	}

	if finalSeconds >= 0 && session.Status.Accruing() {
		billed := m.calc.BillableSeconds(rule, finalSeconds)
		total := m.calc.Cost(rule, finalSeconds, session.StartTime)
		delta := total.Sub(session.AccumulatedCost)
		if delta.IsPositive() {
			ref := ledger.Reference{Kind: ledger.RefCall, ID: callID, Qualifier: strconv.Itoa(billed)}
			_, cerr := m.ledger.Charge(ctx, accountID, delta, ledger.KindCallCharge, ref)
			switch {
			case cerr == nil:
				if _, uerr := m.sessions.Update(ctx, callID, func(s *calls.Session) error {
					return s.AddCharge(delta, billed, m.clock().UTC())
				}); uerr != nil {
					log.Error("reconcile session update failed", "err", uerr)
				}
			case errors.Is(cerr, ledger.ErrInsufficientFunds):
				// The tail is uncollectible; freeze at what was collected.
				reason = calls.ReasonInsufficientFunds
				log.Warn("final reconciliation short on funds, freezing at accumulated cost")
			default:
				log.Error("final reconciliation charge failed", "err", cerr)
				if m.alerts != nil {
					_ = m.alerts.LedgerFailure(ctx, accountID, callID, cerr.Error())
				}
			}
		}
	}

	now := m.clock().UTC()
	if _, uerr := m.sessions.Update(ctx, callID, func(s *calls.Session) error {
		if terr := s.TransitionTo(status, now); terr != nil {
			return terr
		}
		if s.TerminationReason == "" {
			s.TerminationReason = reason
		}
		return nil
	}); uerr != nil {
		log.Error("session freeze failed", "err", uerr)
	}
}

func (m *Manager) releaseSlot(accountID string) {
	if m.limiter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.limiter.Release(ctx, accountID); err != nil {
		m.log.Warn("call slot release failed", "account_id", accountID, "err", err)
	}
}
