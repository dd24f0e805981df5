package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"vuosikello/pkg/calendar"
)

// DefaultMaxOccurrences caps an expansion when the Expander sets no limit.
const DefaultMaxOccurrences = 1000

var (
	ErrUnknownFrequency   = errors.New("unknown repeat frequency")
	ErrTooManyOccurrences = errors.New("repeat rule produces too many occurrences")
)

// Frequency is how far apart consecutive occurrences start.
type Frequency string

const (
	None    Frequency = "none"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// ParseFrequency accepts the known frequencies case-insensitively; blank means None.
func ParseFrequency(value string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(value))); f {
	case "", None:
		return None, nil
	case Daily, Weekly, Monthly:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFrequency, value)
	}
}

// Rule describes how a new event repeats. When Until is set it bounds the start
// date of the last occurrence and Count is ignored.
type Rule struct {
	Enabled   bool      `json:"enabled"`
	Frequency Frequency `json:"frequency"`
	Count     int       `json:"count,omitempty"`
	Until     *string   `json:"until,omitempty"`
}

// Template is the event being created, and also each generated occurrence.
type Template struct {
	Name      string
	StartDate string
	EndDate   string
	Type      string
	TenantID  string
	Info      string
}

type Expander struct {
	Location       *time.Location
	MaxOccurrences int
}

func NewExpander(loc *time.Location, maxOccurrences int) *Expander {
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}

	return &Expander{Location: loc, MaxOccurrences: maxOccurrences}
}

// Expand turns one template into the records to insert, in occurrence order.
// Every occurrence keeps the day span of the template.
func (e *Expander) Expand(tmpl Template, rule Rule) ([]Template, error) {
	span, err := calendar.NewSpan(tmpl.StartDate, tmpl.EndDate, e.Location)
	if err != nil {
		return nil, err
	}

	freq, err := ParseFrequency(string(rule.Frequency))
	if err != nil {
		return nil, err
	}

	if !rule.Enabled || freq == None {
		return []Template{tmpl}, nil
	}

	var until *time.Time

	if rule.Until != nil && *rule.Until != "" {
		u, err := calendar.Parse(*rule.Until, e.Location)
		if err != nil {
			return nil, err
		}

		until = &u
	}

	count := max(rule.Count, 1)
	length := calendar.DaysBetween(span.Start, span.End)
	limit := e.limit()

	out := make([]Template, 0)
	curStart, curEnd := span.Start, span.End

	for i := 0; ; i++ {
		if until != nil {
			if curStart.After(*until) {
				break
			}
		} else if i >= count {
			break
		}

		if len(out) == limit {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyOccurrences, limit)
		}

		occ := tmpl
		occ.StartDate = calendar.Format(curStart)
		occ.EndDate = calendar.Format(curEnd)
		out = append(out, occ)

		curStart, curEnd = advance(freq, curStart, curEnd, length)
	}

	return out, nil
}

func (e *Expander) limit() int {
	if e.MaxOccurrences <= 0 {
		return DefaultMaxOccurrences
	}

	return e.MaxOccurrences
}

func advance(freq Frequency, start, end time.Time, length int) (time.Time, time.Time) {
	switch freq {
	case Daily:
		return calendar.AddDays(start, 1), calendar.AddDays(end, 1)
	case Weekly:
		next := calendar.AddDays(start, 7)
		return next, calendar.AddDays(next, length)
	default:
		next := start.AddDate(0, 1, 0)
		return next, calendar.AddDays(next, length)
	}
}
