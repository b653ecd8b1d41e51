package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustRepo(t *testing.T, rules []RateRule) *MemoryRepo {
	t.Helper()
	repo := NewMemoryRepo()
	if err := repo.ReplaceAll(context.Background(), rules); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}
	return repo
}

func rule(prefix string, rate string, effective time.Time) RateRule {
	return RateRule{
		ID:                      "rule-" + prefix,
		Prefix:                  prefix,
		RatePerMinute:           decimal.RequireFromString(rate),
		BillingIncrementSeconds: 60,
		EffectiveFrom:           effective,
		Active:                  true,
	}
}

func TestResolve_LongestPrefixWins(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-24 * time.Hour)

	repo := mustRepo(t, []RateRule{
		rule("1", "0.010000", old),
		rule("12", "0.020000", old),
		rule("123", "0.030000", old),
	})
	svc := NewService(repo)

	got, err := svc.Resolve(context.Background(), "1234567", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Prefix != "123" {
		t.Fatalf("expected prefix 123, got %q", got.Prefix)
	}
}

func TestResolve_StripsNonDigits(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := mustRepo(t, []RateRule{rule("1555", "0.020000", now.Add(-time.Hour))})
	svc := NewService(repo)

	got, err := svc.Resolve(context.Background(), "+1 (555) 123-4567", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Prefix != "1555" {
		t.Fatalf("expected prefix 1555, got %q", got.Prefix)
	}
}

func TestResolve_TieBreakMostRecentEffectiveFrom(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	older := rule("44", "0.050000", now.Add(-48*time.Hour))
	older.ID = "older"
	newer := rule("44", "0.060000", now.Add(-1*time.Hour))
	newer.ID = "newer"
	future := rule("44", "0.070000", now.Add(time.Hour))
	future.ID = "future"

	repo := mustRepo(t, []RateRule{future, older, newer})
	svc := NewService(repo)

	got, err := svc.Resolve(context.Background(), "442071234567", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "newer" {
		t.Fatalf("expected most recent effective rule, got %q", got.ID)
	}
}

func TestResolve_IgnoresInactiveAndFuture(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	inactive := rule("49", "0.050000", now.Add(-time.Hour))
	inactive.Active = false

	repo := mustRepo(t, []RateRule{
		inactive,
		rule("4", "0.040000", now.Add(-time.Hour)),
	})
	svc := NewService(repo)

	got, err := svc.Resolve(context.Background(), "4930123456", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Prefix != "4" {
		t.Fatalf("expected fallback to prefix 4, got %q", got.Prefix)
	}
}

func TestResolve_NotFound(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := mustRepo(t, []RateRule{rule("1", "0.010000", now.Add(-time.Hour))})
	svc := NewService(repo)

	_, err := svc.Resolve(context.Background(), "9995551234", now)
	if !errors.Is(err, ErrRateNotFound) {
		t.Fatalf("expected ErrRateNotFound, got %v", err)
	}
}

func TestResolve_DeterministicAcrossInsertionOrder(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-time.Hour)

	a := []RateRule{rule("1", "0.010000", old), rule("15", "0.020000", old), rule("155", "0.030000", old)}
	b := []RateRule{a[2], a[0], a[1]}

	got1, err := NewService(mustRepo(t, a)).Resolve(context.Background(), "15551234", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got2, err := NewService(mustRepo(t, b)).Resolve(context.Background(), "15551234", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got1.ID != got2.ID {
		t.Fatalf("resolution depends on insertion order: %q vs %q", got1.ID, got2.ID)
	}
}

func TestReplaceAll_RejectsInvalidRules(t *testing.T) {
	repo := NewMemoryRepo()

	bad := rule("1", "0.010000", time.Now())
	bad.BillingIncrementSeconds = 0
	if err := repo.ReplaceAll(context.Background(), []RateRule{bad}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for zero increment, got %v", err)
	}

	alpha := rule("1a2", "0.010000", time.Now())
	if err := repo.ReplaceAll(context.Background(), []RateRule{alpha}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for non-numeric prefix, got %v", err)
	}
}
