package rates

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RateRule defines the price for calls to destinations matching Prefix.
//
// Rules are created/edited by the admin surface and are read-only to the
// billing core. Multiple rules may share a prefix as long as EffectiveFrom
// differs; resolution picks the most recent effective rule among equal-length
// prefixes.
type RateRule struct {
	ID          string `json:"id" db:"id"`
	Prefix      string `json:"prefix" db:"prefix"`
	DisplayName string `json:"display_name" db:"display_name"`

	// RatePerMinute is the price per billed minute, 6 decimal places.
	RatePerMinute decimal.Decimal `json:"rate_per_minute" db:"rate_per_minute"`

	// MinimumDurationSeconds enforces a minimum charge duration.
	MinimumDurationSeconds int `json:"minimum_duration_seconds" db:"minimum_duration_seconds"`

	// BillingIncrementSeconds is the rounding granularity (e.g., 60 for
	// per-minute, 1 for per-second billing). Must be >= 1.
	BillingIncrementSeconds int `json:"billing_increment_seconds" db:"billing_increment_seconds"`

	EffectiveFrom time.Time `json:"effective_from" db:"effective_from"`
	Active        bool      `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

var (
	ErrRateNotFound     = errors.New("rates: no rule matches destination")
	ErrInvalidRule      = errors.New("rates: invalid rule")
	ErrEmptyDestination = errors.New("rates: empty destination")
)

// Validate rejects misconfigured rules at load time, not at call time.
func (r RateRule) Validate() error {
	if r.Prefix == "" {
		return fmt.Errorf("%w: prefix required", ErrInvalidRule)
	}
	for i := 0; i < len(r.Prefix); i++ {
		if r.Prefix[i] < '0' || r.Prefix[i] > '9' {
			return fmt.Errorf("%w: prefix %q must be numeric", ErrInvalidRule, r.Prefix)
		}
	}
	if r.BillingIncrementSeconds < 1 {
		return fmt.Errorf("%w: prefix %q: billing increment must be >= 1, got %d", ErrInvalidRule, r.Prefix, r.BillingIncrementSeconds)
	}
	if r.MinimumDurationSeconds < 0 {
		return fmt.Errorf("%w: prefix %q: minimum duration must be >= 0", ErrInvalidRule, r.Prefix)
	}
	if r.RatePerMinute.IsNegative() {
		return fmt.Errorf("%w: prefix %q: rate must be >= 0", ErrInvalidRule, r.Prefix)
	}
	if r.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: prefix %q: effective_from required", ErrInvalidRule, r.Prefix)
	}
	return nil
}

// NormalizeDestination strips every non-digit character. Rating operates on
// digits only; formatting (+, spaces, dashes) is caller noise.
func NormalizeDestination(destination string) string {
	var b strings.Builder
	b.Grow(len(destination))
	for i := 0; i < len(destination); i++ {
		c := destination[i]
		if c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
