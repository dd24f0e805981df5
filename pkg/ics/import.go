package ics

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"vuosikello/pkg/calendar"
)

const defaultMaxOccurrences = 1000

var ErrMalformedCalendar = errors.New("malformed calendar")

// Occurrence is one imported day range, ready to become an event.
type Occurrence struct {
	UID         string
	Summary     string
	Description string
	StartDate   string
	EndDate     string
}

// Window bounds the expansion of recurring events. Both ends are inclusive.
type Window struct {
	From           time.Time
	To             time.Time
	Location       *time.Location
	MaxOccurrences int
}

type vevent struct {
	uid         string
	summary     string
	description string
	start       time.Time
	days        int
	allDay      bool
	rrule       string
	exdates     []time.Time
	recurrence  *time.Time
}

// Import reads a calendar and flattens it into day ranges inside w. Recurring
// events are expanded by their RRULE, honouring EXDATE and RECURRENCE-ID
// overrides. Events without a summary or start are skipped.
func Import(r io.Reader, w Window) ([]Occurrence, error) {
	if w.Location == nil {
		w.Location = time.Local
	}

	if w.MaxOccurrences <= 0 {
		w.MaxOccurrences = defaultMaxOccurrences
	}

	if w.To.Before(w.From) {
		return nil, calendar.ErrInvalidRange
	}

	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCalendar, err)
	}

	var (
		bases     []vevent
		overrides = make(map[string][]vevent)
	)

	for _, comp := range cal.Events() {
		ev, ok := readEvent(comp, w.Location)
		if !ok {
			continue
		}

		if ev.recurrence != nil {
			overrides[ev.uid] = append(overrides[ev.uid], ev)
			continue
		}

		bases = append(bases, ev)
	}

	out := make([]Occurrence, 0)

	for _, ev := range bases {
		if ev.rrule == "" {
			if occ, ok := single(ev, w); ok {
				out = append(out, occ)
			}

			continue
		}

		occs, err := expand(ev, overrides[ev.uid], w)
		if err != nil {
			return nil, err
		}

		out = append(out, occs...)

		if len(out) > w.MaxOccurrences {
			return nil, fmt.Errorf("%w: more than %d occurrences", ErrMalformedCalendar, w.MaxOccurrences)
		}
	}

	slices.SortStableFunc(out, func(a, b Occurrence) int {
		return strings.Compare(a.StartDate, b.StartDate)
	})

	return out, nil
}

func readEvent(comp *ical.VEvent, loc *time.Location) (vevent, bool) {
	var ev vevent

	if p := comp.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		ev.uid = p.Value
	}

	if p := comp.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.summary = strings.TrimSpace(p.Value)
	}

	if p := comp.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.description = p.Value
	}

	dtstart := comp.GetProperty(ical.ComponentPropertyDtStart)
	if ev.summary == "" || dtstart == nil {
		return vevent{}, false
	}

	ev.allDay = isDate(dtstart)

	start, err := comp.GetStartAt()
	if err != nil {
		return vevent{}, false
	}

	ev.start = day(start, ev.allDay, loc)

	end, err := comp.GetEndAt()
	if err != nil || !end.After(start) {
		ev.days = 0
	} else {
		// DTEND is exclusive.
		last := day(end.Add(-time.Nanosecond), ev.allDay, loc)
		ev.days = max(0, calendar.DaysBetween(ev.start, last))
	}

	if p := comp.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rrule = p.Value
	}

	for _, p := range comp.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseTime(part, tzid(p, loc)); err == nil {
				ev.exdates = append(ev.exdates, t)
			}
		}
	}

	if p := comp.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseTime(p.Value, tzid(p, loc)); err == nil {
			ev.recurrence = &t
		}
	}

	return ev, true
}

func single(ev vevent, w Window) (Occurrence, bool) {
	end := calendar.AddDays(ev.start, ev.days)
	if end.Before(calendar.Midnight(w.From.In(w.Location))) || ev.start.After(w.To) {
		return Occurrence{}, false
	}

	return occurrence(ev, ev.start), true
}

func expand(ev vevent, overrides []vevent, w Window) ([]Occurrence, error) {
	rule, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		return nil, fmt.Errorf("%w: rrule of %s: %w", ErrMalformedCalendar, ev.uid, err)
	}

	rule.DTStart(ev.start)

	var set rrule.Set
	set.RRule(rule)

	for _, ex := range ev.exdates {
		set.ExDate(day(ex, ev.allDay, w.Location))
	}

	for _, o := range overrides {
		set.ExDate(day(*o.recurrence, ev.allDay, w.Location))
	}

	out := make([]Occurrence, 0)

	for _, start := range set.Between(w.From, w.To, true) {
		out = append(out, occurrence(ev, day(start, ev.allDay, w.Location)))

		if len(out) > w.MaxOccurrences {
			return nil, fmt.Errorf("%w: %s repeats more than %d times", ErrMalformedCalendar, ev.uid, w.MaxOccurrences)
		}
	}

	for _, o := range overrides {
		if occ, ok := single(o, w); ok {
			out = append(out, occ)
		}
	}

	return out, nil
}

func occurrence(ev vevent, start time.Time) Occurrence {
	return Occurrence{
		UID:         ev.uid,
		Summary:     ev.summary,
		Description: ev.description,
		StartDate:   calendar.Format(start),
		EndDate:     calendar.Format(calendar.AddDays(start, ev.days)),
	}
}

// day is the local calendar date of t. All-day values keep their written date
// whatever zone the parser attached to them.
func day(t time.Time, allDay bool, loc *time.Location) time.Time {
	if !allDay {
		t = t.In(loc)
	}

	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func isDate(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}

	return !strings.Contains(p.Value, "T")
}

func tzid(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}

	return fallback
}

func parseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)

	switch {
	case value == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(value, "Z"):
		return time.Parse("20060102T150405Z", value)
	case strings.Contains(value, "T"):
		return time.ParseInLocation("20060102T150405", value, loc)
	default:
		return time.ParseInLocation("20060102", value, loc)
	}
}
