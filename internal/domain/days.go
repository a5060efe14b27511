package domain

import (
	"fmt"
	"time"
)

// DayLayout is the wire format for date-only schedule fields.
const DayLayout = "2006-01-02"

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDay renders a time as YYYY-MM-DD in UTC.
func FormatDay(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// AddDays shifts a YYYY-MM-DD date by n days. The input must be valid.
func AddDays(day string, n int) string {
	t, err := ParseDay(day)
	if err != nil {
		return day
	}
	return FormatDay(t.AddDate(0, 0, n))
}

// DayBefore reports a < b for two valid YYYY-MM-DD dates.
func DayBefore(a, b string) bool {
	ta, errA := ParseDay(a)
	tb, errB := ParseDay(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return ta.Before(tb)
}

// WindowOverlaps reports whether the inclusive plan [planStart,planEnd]
// intersects the half-open freeze window [winStart,winEnd).
func WindowOverlaps(planStart, planEnd, winStart, winEnd string) bool {
	return DayBefore(planStart, winEnd) && !DayBefore(planEnd, winStart)
}
