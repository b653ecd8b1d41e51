package rating

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"voip-billing/internal/rates"
)

func testRule(rate string, minDur, increment int) rates.RateRule {
	return rates.RateRule{
		Prefix:                  "1",
		RatePerMinute:           decimal.RequireFromString(rate),
		MinimumDurationSeconds:  minDur,
		BillingIncrementSeconds: increment,
		EffectiveFrom:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:                  true,
	}
}

func mustCalc(t *testing.T, cfg Config) *Calculator {
	t.Helper()
	c, err := NewCalculator(cfg)
	if err != nil {
		t.Fatalf("NewCalculator failed: %v", err)
	}
	return c
}

// Wednesday, off-peak reference instant.
var quietHour = time.Date(2026, 8, 5, 3, 30, 0, 0, time.UTC)

func TestCost_BaseFormula(t *testing.T) {
	calc := mustCalc(t, DefaultConfig())
	rule := testRule("0.020000", 30, 60)

	// 95s raw -> ceil(max(95,30)/60)*60 = 120s -> (120/60)*0.02 = 0.04
	got := calc.Cost(rule, 95, quietHour)
	if !got.Equal(decimal.RequireFromString("0.0400")) {
		t.Fatalf("expected 0.0400, got %s", got)
	}
}

func TestCost_Reproducible(t *testing.T) {
	calc := mustCalc(t, DefaultConfig())
	rule := testRule("0.013370", 0, 6)

	first := calc.Cost(rule, 187, quietHour)
	for i := 0; i < 50; i++ {
		if got := calc.Cost(rule, 187, quietHour); !got.Equal(first) {
			t.Fatalf("cost drifted on run %d: %s vs %s", i, got, first)
		}
	}
}

func TestCost_MonotonicInDuration(t *testing.T) {
	calc := mustCalc(t, DefaultConfig())
	rule := testRule("0.020000", 0, 60)

	prev := decimal.Zero
	for sec := 10; sec <= 300; sec += 10 {
		got := calc.Cost(rule, sec, quietHour)
		if got.LessThan(prev) {
			t.Fatalf("cost decreased at %ds: %s < %s", sec, got, prev)
		}
		prev = got
	}
}

func TestMultiplier_Composition(t *testing.T) {
	peakDays, err := ParseWeekdayMask("sat,sun,mon,tue,wed,thu,fri")
	if err != nil {
		t.Fatalf("mask: %v", err)
	}
	band, err := ParseTimeband("08:00-20:00")
	if err != nil {
		t.Fatalf("band: %v", err)
	}
	cfg := DefaultConfig()
	cfg.PeakBand = band
	cfg.PeakDays = peakDays
	cfg.PeakMultiplier = decimal.RequireFromString("1.5")
	cfg.WeekendMultiplier = decimal.RequireFromString("2")
	calc := mustCalc(t, cfg)

	// Saturday at noon: weekend and peak both apply -> 2 * 1.5 = 3
	satNoon := time.Date(2026, 8, 8, 12, 0, 0, 0, time.UTC)
	if got := calc.Multiplier(satNoon); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected composed multiplier 3, got %s", got)
	}

	// Saturday at 03:00: weekend only
	satNight := time.Date(2026, 8, 8, 3, 0, 0, 0, time.UTC)
	if got := calc.Multiplier(satNight); !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected weekend multiplier 2, got %s", got)
	}

	// Wednesday at noon: peak only
	wedNoon := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)
	if got := calc.Multiplier(wedNoon); !got.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected peak multiplier 1.5, got %s", got)
	}
}

func TestMultiplier_Holiday(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HolidayMultiplier = decimal.RequireFromString("0.5")
	cfg.Holidays = map[string]struct{}{"2026-12-25": {}}
	calc := mustCalc(t, cfg)

	xmas := time.Date(2026, 12, 25, 10, 0, 0, 0, time.UTC)
	if got := calc.Multiplier(xmas); !got.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected holiday multiplier 0.5, got %s", got)
	}
	if got := calc.Multiplier(quietHour); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected 1 off-holiday, got %s", got)
	}
}

func TestCost_PrecisionRounding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrecisionDecimals = 2
	calc := mustCalc(t, cfg)

	// 30s at 0.015/min = 0.0075 -> rounds up to 0.01 at 2dp
	rule := testRule("0.015000", 0, 30)
	got := calc.Cost(rule, 30, quietHour)
	if !got.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected 0.01, got %s", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrecisionDecimals = 3
	if _, err := NewCalculator(cfg); err == nil {
		t.Fatalf("expected error for precision 3")
	}

	cfg = DefaultConfig()
	cfg.Rounding = "sideways"
	if _, err := NewCalculator(cfg); err == nil {
		t.Fatalf("expected error for bad rounding mode")
	}
}
