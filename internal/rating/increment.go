package rating

import "fmt"

// RoundingMode controls how durations and amounts snap to boundaries.
//
// Billing defaults to rounding up: a rated call must never be under-charged
// by truncation. The other modes exist only for rules that explicitly
// override the default via admin configuration.
type RoundingMode string

const (
	RoundUp      RoundingMode = "up"
	RoundDown    RoundingMode = "down"
	RoundNearest RoundingMode = "nearest"
)

func ParseRoundingMode(s string) (RoundingMode, error) {
	switch RoundingMode(s) {
	case RoundUp, RoundDown, RoundNearest:
		return RoundingMode(s), nil
	case "":
		return RoundUp, nil
	default:
		return "", fmt.Errorf("rating: unknown rounding mode %q", s)
	}
}

// BillableSeconds converts raw call seconds into billable seconds:
// max(raw, minDuration) snapped to the increment boundary.
//
// increment < 1 is a rule-load configuration error and must be rejected
// before any call reaches this function; it is clamped here only so a
// misconfigured caller cannot divide by zero.
func BillableSeconds(rawSeconds, minDuration, increment int, mode RoundingMode) int {
	if rawSeconds < 0 {
		rawSeconds = 0
	}
	if minDuration < 0 {
		minDuration = 0
	}
	if increment < 1 {
		increment = 1
	}

	sec := rawSeconds
	if sec < minDuration {
		sec = minDuration
	}

	q := sec / increment
	r := sec % increment
	switch mode {
	case RoundDown:
		// keep q
	case RoundNearest:
		if r*2 >= increment {
			q++
		}
	default: // RoundUp
		if r != 0 {
			q++
		}
	}
	return q * increment
}
