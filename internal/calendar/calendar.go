// Package calendar implements Monday-to-Friday business-day arithmetic.
// Weekends never count as workdays and no holiday calendar is modelled.
package calendar

import (
	"strings"
	"time"
)

// NoDueDate is returned by WorkdaysRemaining when an order has no usable due date.
// It ranks as the lowest urgency.
const NoDueDate = 999

// NoDateKey stands in for a missing or unparseable date in grouping keys.
const NoDateKey = "N/D"

var layouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
}

// IsWorkday reports whether t falls on Monday through Friday.
func IsWorkday(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddWorkdays steps forward from start one day at a time until n workdays
// have been counted. The result is date-only. n <= 0 returns start's date.
func AddWorkdays(start time.Time, n int) time.Time {
	d := Midnight(start)
	for added := 0; added < n; {
		d = d.AddDate(0, 0, 1)
		if IsWorkday(d) {
			added++
		}
	}
	return d
}

// WorkdaysBetween counts the workdays stepped over when walking from the
// earlier date (exclusive) to the later one (inclusive). The result is
// negative when end is before start and zero on the same calendar day.
func WorkdaysBetween(start, end time.Time) int {
	from := Midnight(start)
	to := Midnight(end.In(start.Location()))
	if from.Equal(to) {
		return 0
	}
	sign := 1
	if to.Before(from) {
		from, to = to, from
		sign = -1
	}
	count := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if IsWorkday(d) {
			count++
		}
	}
	return sign * count
}

// WorkdaysRemaining returns the workdays from now until due, or NoDueDate
// when due is absent or cannot be parsed.
func WorkdaysRemaining(now time.Time, due *string) int {
	if due == nil {
		return NoDueDate
	}
	t, ok := ParseDate(*due, now.Location())
	if !ok {
		return NoDueDate
	}
	return WorkdaysBetween(now, t)
}

// ParseDate accepts the date and timestamp shapes the order data carries.
// Date-only values are read as calendar days in loc; timestamps with an
// offset are converted into loc.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

// DateKey returns the YYYY-MM-DD portion of a parseable date string, or
// NoDateKey.
func DateKey(s *string) string {
	if s == nil {
		return NoDateKey
	}
	raw := strings.TrimSpace(*s)
	if _, ok := ParseDate(raw, time.UTC); !ok || len(raw) < 10 {
		return NoDateKey
	}
	return raw[:10]
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
