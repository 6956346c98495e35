// Package window maps wall-clock instants to execution days and hours under
// a single configured timezone, and decides which hours fall inside a task's
// symbolic time window.
package window

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DateFormat is the calendar-day key used throughout the store.
const DateFormat = "2006-01-02"

// Clock resolves instants against one fixed location. No DST surprises when
// constructed from a UTC offset; IANA zones are supported for deployments
// that want proper calendar behavior.
type Clock struct {
	loc *time.Location
}

// NewClock builds a Clock from an IANA zone name, falling back to a fixed
// UTC offset (whole hours) when the name is empty.
func NewClock(tzName string, offsetHours int) (*Clock, error) {
	if tzName != "" {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tzName, err)
		}
		return &Clock{loc: loc}, nil
	}
	name := fmt.Sprintf("UTC%+d", offsetHours)
	return &Clock{loc: time.FixedZone(name, offsetHours*3600)}, nil
}

// FixedClock returns a Clock at a fixed UTC offset. Used in tests.
func FixedClock(offsetHours int) *Clock {
	c, _ := NewClock("", offsetHours)
	return c
}

// Location returns the clock's location.
func (c *Clock) Location() *time.Location { return c.loc }

// OffsetHour returns the hour-of-day [0,23] of instant in the clock's zone.
func (c *Clock) OffsetHour(instant time.Time) int {
	return instant.In(c.loc).Hour()
}

// OffsetDate returns the calendar day of instant in the clock's zone. The
// day rolls over at the zone's midnight, not UTC midnight.
func (c *Clock) OffsetDate(instant time.Time) string {
	return instant.In(c.loc).Format(DateFormat)
}

// Now returns the current instant (UTC). Split out so the coordinator and
// triggers share one source of time.
func (c *Clock) Now() time.Time { return time.Now().UTC() }

var windowKeyRe = regexp.MustCompile(`^(\d{2}):00-(\d{2}):00$`)

// HoursInWindow expands a symbolic window key into the ordered set of
// eligible hours. "00:00-24:00" covers all 24 hours; "06:00-24:00" covers
// 6..23. Unknown or malformed keys return an empty set: a misconfigured
// window disables the task rather than crashing the scheduler.
func HoursInWindow(key string) []int {
	m := windowKeyRe.FindStringSubmatch(key)
	if m == nil {
		return nil
	}
	start, err1 := strconv.Atoi(m[1])
	end, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return nil
	}
	if start < 0 || start > 23 || end < 1 || end > 24 || start >= end {
		return nil
	}
	hours := make([]int, 0, end-start)
	for h := start; h < end; h++ {
		hours = append(hours, h)
	}
	return hours
}

// InWindow reports whether hour is eligible under the window key.
func InWindow(key string, hour int) bool {
	m := windowKeyRe.FindStringSubmatch(key)
	if m == nil {
		return false
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	if start < 0 || start > 23 || end < 1 || end > 24 || start >= end {
		return false
	}
	return hour >= start && hour < end
}

// LastHour returns the final eligible hour of the window key, or -1 when the
// key is unknown.
func LastHour(key string) int {
	hours := HoursInWindow(key)
	if len(hours) == 0 {
		return -1
	}
	return hours[len(hours)-1]
}
