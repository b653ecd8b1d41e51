package rating

import (
	"testing"
	"time"
)

func TestParseTimeband(t *testing.T) {
	b, err := ParseTimeband("08:00-20:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.StartMin != 8*60 || b.EndMin != 20*60 {
		t.Fatalf("unexpected band %+v", b)
	}
	if !b.Contains(8 * 60) {
		t.Fatalf("start should be inclusive")
	}
	if b.Contains(20 * 60) {
		t.Fatalf("end should be exclusive")
	}

	if _, err := ParseTimeband("25:00-26:00"); err == nil {
		t.Fatalf("expected error for bad hour")
	}
}

func TestTimeband_Wraparound(t *testing.T) {
	b, err := ParseTimeband("22:00-06:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Contains(23 * 60) {
		t.Fatalf("23:00 should be inside")
	}
	if !b.Contains(3 * 60) {
		t.Fatalf("03:00 should be inside")
	}
	if b.Contains(12 * 60) {
		t.Fatalf("noon should be outside")
	}
}

func TestParseWeekdayMask(t *testing.T) {
	m, err := ParseWeekdayMask("mon,tue,wed,thu,fri")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Contains(time.Monday) || m.Contains(time.Saturday) {
		t.Fatalf("unexpected mask %08b", m)
	}

	// zero mask matches every day
	var all WeekdayMask
	if !all.Contains(time.Sunday) {
		t.Fatalf("zero mask should match all days")
	}

	if _, err := ParseWeekdayMask("funday"); err == nil {
		t.Fatalf("expected error for bad weekday")
	}
}
