package calendar

import (
	"strings"
	"time"
)

// ViewMode is the granularity of the calendar view.
type ViewMode string

const (
	ViewDay   ViewMode = "day"
	ViewWeek  ViewMode = "week"
	ViewMonth ViewMode = "month"
)

// ParseViewMode never fails: anything unrecognised is a day view.
func ParseViewMode(value string) ViewMode {
	switch ViewMode(strings.ToLower(strings.TrimSpace(value))) {
	case ViewWeek:
		return ViewWeek
	case ViewMonth:
		return ViewMonth
	default:
		return ViewDay
	}
}

// RangeFor returns the displayed interval for mode around ref.
func RangeFor(mode ViewMode, ref time.Time) Span {
	switch mode {
	case ViewWeek:
		start := WeekStart(ref)
		return Span{Start: start, End: EndOfDay(AddDays(start, 6))}
	case ViewMonth:
		start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
		end := time.Date(ref.Year(), ref.Month(), DaysIn(ref), 0, 0, 0, 0, ref.Location())
		return Span{Start: start, End: EndOfDay(end)}
	default:
		return Span{Start: Midnight(ref), End: EndOfDay(ref)}
	}
}

// WeekStart is the Monday of ref's week at midnight.
func WeekStart(ref time.Time) time.Time {
	return AddDays(Midnight(ref), -MondayIndex(ref))
}

// MonthGrid lays out ref's month Monday-first. Leading cells before the 1st are nil;
// trailing cells are left to the renderer.
func MonthGrid(ref time.Time) []*time.Time {
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	lead := MondayIndex(first)
	days := DaysIn(first)

	grid := make([]*time.Time, lead, lead+days)
	for i := range days {
		day := AddDays(first, i)
		grid = append(grid, &day)
	}

	return grid
}

// WeekGrid is the seven days of ref's week starting Monday.
func WeekGrid(ref time.Time) []time.Time {
	start := WeekStart(ref)

	grid := make([]time.Time, 7)
	for i := range grid {
		grid[i] = AddDays(start, i)
	}

	return grid
}

// State is the navigation state of a calendar view.
type State struct {
	Mode      ViewMode  `json:"mode"`
	Reference time.Time `json:"reference"`
}

func NewState(mode ViewMode, ref time.Time) State {
	return State{Mode: ParseViewMode(string(mode)), Reference: Midnight(ref)}
}

// SetMode switches granularity and leaves the reference date alone.
func (s State) SetMode(mode ViewMode) State {
	s.Mode = ParseViewMode(string(mode))
	return s
}

func (s State) Next() State {
	s.Reference = s.step(1)
	return s
}

func (s State) Prev() State {
	s.Reference = s.step(-1)
	return s
}

func (s State) Range() Span {
	return RangeFor(s.Mode, s.Reference)
}

func (s State) step(dir int) time.Time {
	switch s.Mode {
	case ViewWeek:
		return AddDays(s.Reference, 7*dir)
	case ViewMonth:
		return AddMonths(s.Reference, dir)
	default:
		return AddDays(s.Reference, dir)
	}
}
