package timeframe

import (
	"errors"
	"fmt"
	"time"
)

// DayLayout is the calendar day format used for days everywhere: in
// summaries, settings and query parameters.
const DayLayout = "2006-01-02"

// maxRangeDays bounds ranges expanded day by day.
const maxRangeDays = 5 * 366

// ErrInvalidDay is returned for malformed day strings.
var ErrInvalidDay = errors.New("invalid day")

// ErrInvalidRange is returned when from is after to.
var ErrInvalidRange = errors.New("invalid range")

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider reads the system clock.
type DefaultTimeProvider struct{}

// Now returns the current time in loc.
func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// FixedTimeProvider always returns the same instant.
type FixedTimeProvider struct {
	Time time.Time
}

// Now returns the fixed instant in loc.
func (p *FixedTimeProvider) Now(loc *time.Location) time.Time {
	return p.Time.In(loc)
}

// ParseDay parses a YYYY-MM-DD string into UTC midnight. Values that do
// not round-trip (like 2024-02-30) are rejected.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, s, time.UTC)
	if err != nil || t.Format(DayLayout) != s {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDay, s)
	}
	return t, nil
}

// FormatDay formats t's UTC calendar day.
func FormatDay(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// DayBounds returns the half-open UTC interval [start, end) covering day.
func DayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Yesterday returns the UTC calendar day before now.
func Yesterday(p TimeProvider) string {
	if p == nil {
		p = &DefaultTimeProvider{}
	}
	return FormatDay(p.Now(time.UTC).AddDate(0, 0, -1))
}

// Range is a filter over whole UTC days. A zero From or To is open-ended;
// To is exclusive (midnight after the last included day).
type Range struct {
	From    time.Time
	To      time.Time
	FromDay string
	ToDay   string
}

// HasFrom reports whether the lower bound is set.
func (r Range) HasFrom() bool { return !r.From.IsZero() }

// HasTo reports whether the upper bound is set.
func (r Range) HasTo() bool { return !r.To.IsZero() }

// ParseRange builds a Range from optional from/to day strings.
func ParseRange(from, to string) (Range, error) {
	var r Range
	if from != "" {
		day, err := ParseDay(from)
		if err != nil {
			return Range{}, fmt.Errorf("invalid 'from' date: %w", err)
		}
		r.From, r.FromDay = day, from
	}
	if to != "" {
		day, err := ParseDay(to)
		if err != nil {
			return Range{}, fmt.Errorf("invalid 'to' date: %w", err)
		}
		_, r.To = DayBounds(day)
		r.ToDay = to
	}
	if r.HasFrom() && r.HasTo() && !r.From.Before(r.To) {
		return Range{}, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}
	return r, nil
}

// Days lists every day from..to inclusive.
func Days(from, to string) ([]string, error) {
	start, err := ParseDay(from)
	if err != nil {
		return nil, err
	}
	end, err := ParseDay(to)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}

	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if len(days) >= maxRangeDays {
			return nil, fmt.Errorf("%w: more than %d days", ErrInvalidRange, maxRangeDays)
		}
		days = append(days, d.Format(DayLayout))
	}
	return days, nil
}
