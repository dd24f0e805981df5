package calendar

import (
	"errors"
	"fmt"
	"time"
)

// Layout is the wire and storage format of calendar dates.
const Layout = "2006-01-02"

var (
	ErrInvalidDateFormat = errors.New("invalid date format, expected YYYY-MM-DD")
	ErrInvalidRange      = errors.New("end date is before start date")
)

// Parse reads a YYYY-MM-DD string as midnight in loc.
func Parse(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	t, err := time.ParseInLocation(Layout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, value)
	}

	return t, nil
}

func Format(t time.Time) string {
	return t.Format(Layout)
}

// Midnight drops the time of day, keeping the location of t.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay is the last representable millisecond of t's day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// AddDays moves t by n calendar days; DST shifts do not leak into the result.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// AddMonths moves t by n months, clamping the day to the target month's length.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())

	return first.AddDate(0, 0, min(d, DaysIn(first))-1)
}

// DaysBetween counts whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)

	return int(ub.Sub(ua).Hours() / 24)
}

// DaysIn returns the number of days of t's month.
func DaysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// MondayIndex maps Monday..Sunday to 0..6.
func MondayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Span is an inclusive interval between two instants.
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewSpan parses an inclusive [start, end] date pair.
func NewSpan(start, end string, loc *time.Location) (Span, error) {
	s, err := Parse(start, loc)
	if err != nil {
		return Span{}, err
	}

	e, err := Parse(end, loc)
	if err != nil {
		return Span{}, err
	}

	if e.Before(s) {
		return Span{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}

	return Span{Start: s, End: e}, nil
}

// Contains reports whether day falls inside the span, comparing midnights only.
func (s Span) Contains(day time.Time) bool {
	d := Midnight(day)
	return !d.Before(Midnight(s.Start)) && !d.After(Midnight(s.End))
}

// Intersects is the closed interval overlap test.
func (s Span) Intersects(other Span) bool {
	return !s.Start.After(other.End) && !s.End.Before(other.Start)
}

// Days is the number of calendar days covered, inclusive.
func (s Span) Days() int {
	return DaysBetween(s.Start, s.End) + 1
}
