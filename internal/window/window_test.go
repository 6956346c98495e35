package window

import (
	"testing"
	"time"
)

func TestHoursInWindow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		key   string
		first int
		last  int
		count int
	}{
		{name: "full day", key: "00:00-24:00", first: 0, last: 23, count: 24},
		{name: "morning start", key: "06:00-24:00", first: 6, last: 23, count: 18},
		{name: "business hours", key: "09:00-18:00", first: 9, last: 17, count: 9},
		{name: "single hour", key: "13:00-14:00", first: 13, last: 13, count: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			hours := HoursInWindow(tt.key)
			if len(hours) != tt.count {
				t.Fatalf("len = %d, want %d", len(hours), tt.count)
			}
			if hours[0] != tt.first || hours[len(hours)-1] != tt.last {
				t.Fatalf("range = [%d,%d], want [%d,%d]", hours[0], hours[len(hours)-1], tt.first, tt.last)
			}
		})
	}
}

func TestHoursInWindowFailsClosed(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"", "garbage", "24:00-00:00", "12:00-12:00", "06:30-24:00", "25:00-26:00"} {
		if hours := HoursInWindow(key); len(hours) != 0 {
			t.Errorf("HoursInWindow(%q) = %v, want empty", key, hours)
		}
	}
}

func TestInWindow(t *testing.T) {
	t.Parallel()
	if !InWindow("06:00-24:00", 6) || !InWindow("06:00-24:00", 23) {
		t.Error("window edges should be eligible")
	}
	if InWindow("06:00-24:00", 5) {
		t.Error("hour 5 should be outside 06:00-24:00")
	}
	if InWindow("bogus", 12) {
		t.Error("unknown key should never be eligible")
	}
}

func TestLastHour(t *testing.T) {
	t.Parallel()
	if got := LastHour("00:00-24:00"); got != 23 {
		t.Errorf("LastHour = %d, want 23", got)
	}
	if got := LastHour("nope"); got != -1 {
		t.Errorf("LastHour(unknown) = %d, want -1", got)
	}
}

func TestOffsetDateBoundary(t *testing.T) {
	t.Parallel()
	clock := FixedClock(-8)

	// Offset midnight for UTC-8 falls at 08:00 UTC.
	before := time.Date(2025, 3, 10, 7, 59, 59, 0, time.UTC)
	after := time.Date(2025, 3, 10, 8, 0, 1, 0, time.UTC)

	d1, d2 := clock.OffsetDate(before), clock.OffsetDate(after)
	if d1 != "2025-03-09" {
		t.Errorf("before boundary = %s, want 2025-03-09", d1)
	}
	if d2 != "2025-03-10" {
		t.Errorf("after boundary = %s, want 2025-03-10", d2)
	}
	if d1 == d2 {
		t.Error("dates across the offset boundary must differ")
	}
	if h := clock.OffsetHour(before); h != 23 {
		t.Errorf("OffsetHour(before) = %d, want 23", h)
	}
	if h := clock.OffsetHour(after); h != 0 {
		t.Errorf("OffsetHour(after) = %d, want 0", h)
	}
}

func TestNewClockIANA(t *testing.T) {
	t.Parallel()
	if _, err := NewClock("America/Los_Angeles", 0); err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	if _, err := NewClock("Not/AZone", 0); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}
