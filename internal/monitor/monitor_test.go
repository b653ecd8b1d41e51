package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"voip-billing/internal/alerts"
	"voip-billing/internal/calls"
	"voip-billing/internal/ledger"
	"voip-billing/internal/rates"
	"voip-billing/internal/rating"
)

type fakeControl struct {
	mu            sync.Mutex
	elapsed       int
	elapsedErr    error
	terminateErr  error
	terminated    bool
	terminateHits int
}

func (f *fakeControl) ElapsedSeconds(ctx context.Context, callID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.elapsedErr != nil {
		return 0, f.elapsedErr
	}
	return f.elapsed, nil
}

func (f *fakeControl) Terminate(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminateHits++
	if f.terminateErr != nil {
		return f.terminateErr
	}
	f.terminated = true
	return nil
}

func (f *fakeControl) setElapsed(v int) {
	f.mu.Lock()
	f.elapsed = v
	f.mu.Unlock()
}

func (f *fakeControl) wasTerminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

type denyLimiter struct{}

func (denyLimiter) Acquire(ctx context.Context, accountID string) (bool, error) { return false, nil }
func (denyLimiter) Release(ctx context.Context, accountID string) error         { return nil }

type harness struct {
	mgr      *Manager
	store    *ledger.MemoryStore
	sessions *calls.MemoryRepo
	ctl      *fakeControl
	alerts   *alerts.MemoryRepo
	calc     *rating.Calculator
	rule     rates.RateRule
}

func newHarness(t *testing.T, balance string, cfg Config, limiter SlotLimiter) *harness {
	t.Helper()

	rule := rates.RateRule{
		ID:                      "r1",
		Prefix:                  "44",
		DisplayName:             "United Kingdom",
		RatePerMinute:           decimal.RequireFromString("0.60"),
		MinimumDurationSeconds:  60,
		BillingIncrementSeconds: 60,
		EffectiveFrom:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:                  true,
	}
	rateRepo := rates.NewMemoryRepo()
	if err := rateRepo.ReplaceAll(context.Background(), []rates.RateRule{rule}); err != nil {
		t.Fatalf("seed rates: %v", err)
	}

	calc, err := rating.NewCalculator(rating.DefaultConfig())
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}

	store := ledger.NewMemoryStore()
	store.SeedAccount(ledger.Account{
		ID:      "acct-1",
		Balance: decimal.RequireFromString(balance),
		Type:    ledger.AccountTypePrepaid,
		Status:  ledger.AccountStatusActive,
	})

	ctl := &fakeControl{}
	alertRepo := alerts.NewMemoryRepo()
	sessions := calls.NewMemoryRepo()

	if cfg.BalanceCheckInterval == 0 {
		cfg.BalanceCheckInterval = 5 * time.Millisecond
	}
	mgr := NewManager(
		rates.NewService(rateRepo),
		calc,
		ledger.NewService(store),
		sessions,
		ctl,
		alerts.NewService(alertRepo),
		limiter,
		cfg,
		nil,
	)
	t.Cleanup(mgr.Stop)

	return &harness{mgr: mgr, store: store, sessions: sessions, ctl: ctl, alerts: alertRepo, calc: calc, rule: rule}
}

func (h *harness) liveSession(callID string) calls.Session {
	return calls.Session{
		CallID:      callID,
		AccountID:   "acct-1",
		Destination: "442071234567",
		StartTime:   time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC),
		Status:      calls.StatusInProgress,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestWatchChargesDeltas(t *testing.T) {
	h := newHarness(t, "100.0000", Config{}, nil)
	ctx := context.Background()

	h.ctl.setElapsed(30)
	if err := h.mgr.Watch(ctx, h.liveSession("call-1")); err != nil {
		t.Fatalf("watch: %v", err)
	}

	// 30s elapsed bills the 60s minimum at 0.60/min.
	waitFor(t, 2*time.Second, func() bool {
		s, err := h.sessions.Get(ctx, "call-1")
		return err == nil && s.AccumulatedCost.Equal(decimal.RequireFromString("0.6000"))
	})

	// Crossing into the third minute bills two more increments.
	h.ctl.setElapsed(125)
	waitFor(t, 2*time.Second, func() bool {
		s, err := h.sessions.Get(ctx, "call-1")
		return err == nil && s.AccumulatedCost.Equal(decimal.RequireFromString("1.8000"))
	})

	s, err := h.sessions.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.LastBilledSecond != 180 {
		t.Fatalf("last billed second = %d, want 180", s.LastBilledSecond)
	}

	entries, err := h.store.ListEntriesByReference(ctx, ledger.RefCall, "call-1")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	if !sum.Equal(decimal.RequireFromString("-1.8000")) {
		t.Fatalf("ledger sum = %s, want -1.8000", sum)
	}

	acct, err := h.store.GetAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !acct.Balance.Equal(decimal.RequireFromString("98.2000")) {
		t.Fatalf("balance = %s, want 98.2000", acct.Balance)
	}
}

func TestWatchStableElapsedChargesOnce(t *testing.T) {
	h := newHarness(t, "100.0000", Config{}, nil)
	ctx := context.Background()

	h.ctl.setElapsed(70)
	if err := h.mgr.Watch(ctx, h.liveSession("call-1")); err != nil {
		t.Fatalf("watch: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		s, err := h.sessions.Get(ctx, "call-1")
		return err == nil && s.AccumulatedCost.Equal(decimal.RequireFromString("1.2000"))
	})

	// Let several more cycles run with unchanged duration.
	time.Sleep(30 * time.Millisecond)

	entries, err := h.store.ListEntriesByReference(ctx, ledger.RefCall, "call-1")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestAutoTerminateOnExhaustedBalance(t *testing.T) {
	h := newHarness(t, "1.0000", Config{AutoTerminateOnZeroBalance: true}, nil)
	ctx := context.Background()

	// 3 billed minutes cost 1.80, beyond the 1.00 balance.
	h.ctl.setElapsed(150)
	if err := h.mgr.Watch(ctx, h.liveSession("call-1")); err != nil {
		t.Fatalf("watch: %v", err)
	}

	waitFor(t, 2*time.Second, h.ctl.wasTerminated)
	waitFor(t, 2*time.Second, func() bool {
		s, err := h.sessions.Get(ctx, "call-1")
		return err == nil && s.Status == calls.StatusCompleted
	})

	s, _ := h.sessions.Get(ctx, "call-1")
	if s.TerminationReason != calls.ReasonInsufficientFunds {
		t.Fatalf("reason = %s, want %s", s.TerminationReason, calls.ReasonInsufficientFunds)
	}

	// The account was never driven below its floor.
	acct, err := h.store.GetAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Balance.IsNegative() {
		t.Fatalf("prepaid balance went negative: %s", acct.Balance)
	}
}

func TestGracePeriodDelaysTermination(t *testing.T) {
	h := newHarness(t, "0.5000", Config{GracePeriod: 60 * time.Millisecond}, nil)
	ctx := context.Background()

	h.ctl.setElapsed(150)
	if err := h.mgr.Watch(ctx, h.liveSession("call-1")); err != nil {
		t.Fatalf("watch: %v", err)
	}

	// The first failed cycle opens the grace window instead of hanging up.
	time.Sleep(25 * time.Millisecond)
	if h.ctl.wasTerminated() {
		t.Fatal("terminated before grace period elapsed")
	}

	waitFor(t, 2*time.Second, h.ctl.wasTerminated)
}

func TestTerminateFailureRaisesAlert(t *testing.T) {
	h := newHarness(t, "0.1000", Config{
		AutoTerminateOnZeroBalance: true,
		TerminateRetries:           2,
		TerminateTimeout:           50 * time.Millisecond,
	}, nil)
	ctx := context.Background()

	h.ctl.mu.Lock()
	h.ctl.terminateErr = errors.New("provider unreachable")
	h.ctl.elapsed = 150
	h.ctl.mu.Unlock()

	if err := h.mgr.Watch(ctx, h.liveSession("call-1")); err != nil {
		t.Fatalf("watch: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, e := range h.alerts.Events() {
			if e.Type == alerts.EventTypeTerminateFailed && e.CallID == "call-1" {
				return true
			}
		}
		return false
	})

	// The session is not falsely finalized while the call is still up.
	s, err := h.sessions.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Status.Terminal() {
		t.Fatalf("session finalized despite hangup failure: %s", s.Status)
	}

	h.ctl.mu.Lock()
	hits := h.ctl.terminateHits
	h.ctl.mu.Unlock()
	if hits < 2 {
		t.Fatalf("expected hangup to be retried, got %d attempts", hits)
	}
}

func TestDurationQueryFailureSkipsCycle(t *testing.T) {
	h := newHarness(t, "100.0000", Config{}, nil)
	ctx := context.Background()

	h.ctl.mu.Lock()
	h.ctl.elapsedErr = errors.New("ami timeout")
	h.ctl.mu.Unlock()

	if err := h.mgr.Watch(ctx, h.liveSession("call-1")); err != nil {
		t.Fatalf("watch: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	entries, err := h.store.ListEntriesByReference(ctx, ledger.RefCall, "call-1")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("charged %d entries from failed duration queries", len(entries))
	}
	if h.ctl.wasTerminated() {
		t.Fatal("terminated due to a monitoring failure")
	}

	// Recovery resumes billing where it left off.
	h.ctl.mu.Lock()
	h.ctl.elapsedErr = nil
	h.ctl.elapsed = 30
	h.ctl.mu.Unlock()

	waitFor(t, 2*time.Second, func() bool {
		s, err := h.sessions.Get(ctx, "call-1")
		return err == nil && s.AccumulatedCost.Equal(decimal.RequireFromString("0.6000"))
	})
}

func TestCallEndedReconcilesTail(t *testing.T) {
	h := newHarness(t, "100.0000", Config{BalanceCheckInterval: time.Hour}, nil)
	ctx := context.Background()

	// The hour-long interval means no poll ever fires; the whole call is
	// billed by the final reconciliation.
	h.ctl.setElapsed(95)
	if err := h.mgr.Watch(ctx, h.liveSession("call-1")); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := h.mgr.CallEnded(ctx, "call-1", 95, calls.StatusCompleted); err != nil {
		t.Fatalf("call ended: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		s, err := h.sessions.Get(ctx, "call-1")
		return err == nil && s.Status == calls.StatusCompleted
	})

	s, _ := h.sessions.Get(ctx, "call-1")
	want := h.calc.Cost(h.rule, 95, s.StartTime)
	if !s.AccumulatedCost.Equal(want) {
		t.Fatalf("final cost = %s, want %s", s.AccumulatedCost, want)
	}
	if s.TerminationReason != calls.ReasonNormal {
		t.Fatalf("reason = %s, want %s", s.TerminationReason, calls.ReasonNormal)
	}

	if err := h.mgr.CallEnded(ctx, "call-1", 95, calls.StatusCompleted); !errors.Is(err, ErrNotWatched) {
		t.Fatalf("second CallEnded err = %v, want ErrNotWatched", err)
	}
}

func TestStopLeavesLiveCallsForSettlement(t *testing.T) {
	h := newHarness(t, "100.0000", Config{BalanceCheckInterval: time.Hour}, nil)
	ctx := context.Background()

	h.ctl.setElapsed(42)
	if err := h.mgr.Watch(ctx, h.liveSession("call-1")); err != nil {
		t.Fatalf("watch: %v", err)
	}

	h.mgr.Stop()

	// The call is still up on the switch; shutdown must not record a
	// completion that never happened. The CDR settlement path finalizes it.
	s, err := h.sessions.Get(ctx, "call-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Status.Terminal() {
		t.Fatalf("session falsely finalized on shutdown: %s", s.Status)
	}
	if s.TerminationReason != "" {
		t.Fatalf("termination reason = %q, want empty", s.TerminationReason)
	}
	if h.ctl.wasTerminated() {
		t.Fatal("shutdown must not hang up live calls")
	}
}

func TestWatchRejectsUnknownDestination(t *testing.T) {
	h := newHarness(t, "100.0000", Config{}, nil)
	s := h.liveSession("call-1")
	s.Destination = "99912345"

	if err := h.mgr.Watch(context.Background(), s); !errors.Is(err, rates.ErrRateNotFound) {
		t.Fatalf("err = %v, want ErrRateNotFound", err)
	}
}

func TestWatchHonorsSlotLimit(t *testing.T) {
	h := newHarness(t, "100.0000", Config{}, denyLimiter{})

	if err := h.mgr.Watch(context.Background(), h.liveSession("call-1")); !errors.Is(err, ErrTooManyCalls) {
		t.Fatalf("err = %v, want ErrTooManyCalls", err)
	}
}

func TestWatchRejectsDuplicateCall(t *testing.T) {
	h := newHarness(t, "100.0000", Config{BalanceCheckInterval: time.Hour}, nil)
	ctx := context.Background()

	if err := h.mgr.Watch(ctx, h.liveSession("call-1")); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := h.mgr.Watch(ctx, h.liveSession("call-1")); !errors.Is(err, ErrAlreadyWatched) {
		t.Fatalf("err = %v, want ErrAlreadyWatched", err)
	}
}
