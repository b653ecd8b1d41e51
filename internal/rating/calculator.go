package rating

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"voip-billing/internal/rates"
)

// Config is the injected rating configuration. The calculator carries no
// ambient state: same config + same inputs always produce the same cost,
// which is what makes incremental re-billing and final reconciliation agree.
type Config struct {
	// PrecisionDecimals is the billing precision: 2, 4 or 6.
	PrecisionDecimals int32
	Rounding          RoundingMode

	// Peak window applies PeakMultiplier on matching weekdays/times.
	PeakBand Timeband
	PeakDays WeekdayMask

	PeakMultiplier    decimal.Decimal
	WeekendMultiplier decimal.Decimal
	HolidayMultiplier decimal.Decimal

	// Holidays are dates in "2006-01-02" form, interpreted in Location.
	Holidays map[string]struct{}

	// Location anchors weekday/time-of-day decisions. Defaults to UTC.
	Location *time.Location
}

func (c Config) Validate() error {
	switch c.PrecisionDecimals {
	case 2, 4, 6:
	default:
		return fmt.Errorf("rating: precision must be 2, 4 or 6, got %d", c.PrecisionDecimals)
	}
	switch c.Rounding {
	case RoundUp, RoundDown, RoundNearest:
	default:
		return fmt.Errorf("rating: unknown rounding mode %q", c.Rounding)
	}
	for name, m := range map[string]decimal.Decimal{
		"peak": c.PeakMultiplier, "weekend": c.WeekendMultiplier, "holiday": c.HolidayMultiplier,
	} {
		if !m.IsZero() && m.IsNegative() {
			return fmt.Errorf("rating: %s multiplier must be >= 0", name)
		}
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

// DefaultConfig is plain per-increment billing: 4 decimal places, round up,
// no time-of-day multipliers.
func DefaultConfig() Config {
	return Config{
		PrecisionDecimals: 4,
		Rounding:          RoundUp,
	}
}

var sixty = decimal.NewFromInt(60)

// Calculator turns a rate rule and a raw duration into money.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

// BillableSeconds applies the rule's minimum duration and increment using
// the configured rounding mode.
func (c *Calculator) BillableSeconds(rule rates.RateRule, rawSeconds int) int {
	return BillableSeconds(rawSeconds, rule.MinimumDurationSeconds, rule.BillingIncrementSeconds, c.cfg.Rounding)
}

// Cost computes the charge for rawSeconds under rule, with time-of-day
// multipliers selected by at. Multipliers compose multiplicatively when
// more than one window applies (a peak weekend hour pays weekend x peak).
func (c *Calculator) Cost(rule rates.RateRule, rawSeconds int, at time.Time) decimal.Decimal {
	billed := c.BillableSeconds(rule, rawSeconds)
	base := rule.RatePerMinute.Mul(decimal.NewFromInt(int64(billed))).Div(sixty)
	total := base.Mul(c.Multiplier(at))
	return c.round(total)
}

// Multiplier returns the composed time-based multiplier for at.
func (c *Calculator) Multiplier(at time.Time) decimal.Decimal {
	local := at.In(c.cfg.location())
	m := decimal.NewFromInt(1)

	wd := local.Weekday()
	if (wd == time.Saturday || wd == time.Sunday) && !c.cfg.WeekendMultiplier.IsZero() {
		m = m.Mul(c.cfg.WeekendMultiplier)
	}
	if !c.cfg.PeakMultiplier.IsZero() && c.cfg.PeakDays.Contains(wd) {
		minOfDay := local.Hour()*60 + local.Minute()
		if c.cfg.PeakBand.Contains(minOfDay) {
			m = m.Mul(c.cfg.PeakMultiplier)
		}
	}
	if len(c.cfg.Holidays) > 0 && !c.cfg.HolidayMultiplier.IsZero() {
		if _, ok := c.cfg.Holidays[local.Format("2006-01-02")]; ok {
			m = m.Mul(c.cfg.HolidayMultiplier)
		}
	}
	return m
}

// RoundAmount snaps any monetary amount to the configured billing precision.
func (c *Calculator) RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return c.round(amount)
}

// Precision reports the configured decimal places.
func (c *Calculator) Precision() int32 { return c.cfg.PrecisionDecimals }

func (c *Calculator) round(d decimal.Decimal) decimal.Decimal {
	switch c.cfg.Rounding {
	case RoundDown:
		return d.RoundFloor(c.cfg.PrecisionDecimals)
	case RoundNearest:
		return d.Round(c.cfg.PrecisionDecimals)
	default:
		return d.RoundCeil(c.cfg.PrecisionDecimals)
	}
}
