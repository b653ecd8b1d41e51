package rating

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeband is a daily window [StartMin, EndMin) in minutes since midnight.
// A band with Start > End wraps past midnight (e.g., 22:00-06:00).
type Timeband struct {
	StartMin int
	EndMin   int
}

func (b Timeband) IsZero() bool { return b.StartMin == 0 && b.EndMin == 0 }

func (b Timeband) Contains(minOfDay int) bool {
	if b.IsZero() {
		return false
	}
	if b.StartMin < b.EndMin {
		return minOfDay >= b.StartMin && minOfDay < b.EndMin
	}
	return minOfDay >= b.StartMin || minOfDay < b.EndMin
}

// ParseTimeband parses "08:00-20:00". Empty input yields a zero band
// (no peak window).
func ParseTimeband(s string) (Timeband, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timeband{}, nil
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return Timeband{}, fmt.Errorf("rating: bad timeband %q", s)
	}
	start, err := parseHHMM(parts[0])
	if err != nil {
		return Timeband{}, err
	}
	end, err := parseHHMM(parts[1])
	if err != nil {
		return Timeband{}, err
	}
	return Timeband{StartMin: start, EndMin: end}, nil
}

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("rating: bad time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("rating: bad hour %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("rating: bad minute %q", s)
	}
	return h*60 + m, nil
}

// WeekdayMask is a bit set of weekdays (bit 0 = Sunday, as time.Weekday).
// A zero mask means "every day".
type WeekdayMask uint8

func (m WeekdayMask) Contains(d time.Weekday) bool {
	if m == 0 {
		return true
	}
	return m&(1<<uint(d)) != 0
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekdayMask parses a comma-separated day list ("mon,tue,wed,thu,fri").
// Empty input yields the zero mask (all days).
func ParseWeekdayMask(s string) (WeekdayMask, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	var mask WeekdayMask
	for _, part := range strings.Split(s, ",") {
		d, ok := weekdayNames[strings.TrimSpace(part)]
		if !ok {
			return 0, fmt.Errorf("rating: bad weekday %q", part)
		}
		mask |= 1 << uint(d)
	}
	return mask, nil
}
