package calendar

import (
	"time"
)

// Day is one rendered cell. Blank cells pad the first week of a month view.
type Day[E Spanner, K Dueable] struct {
	Date   *time.Time `json:"date"`
	Blank  bool       `json:"blank"`
	Events []E        `json:"events"`
	Tasks  []K        `json:"tasks"`
	Scale  float64    `json:"scale"`
}

// View is everything a client needs to draw one calendar page.
type View[E Spanner, K Dueable] struct {
	Mode  ViewMode    `json:"mode"`
	Range Span        `json:"range"`
	Prev  string      `json:"prev"`
	Next  string      `json:"next"`
	Days  []Day[E, K] `json:"days"`
}

// Build computes the cells of state's page and assigns events and tasks to them.
func Build[E Spanner, K Dueable](state State, events []E, tasks []K, visible Visibility, loc *time.Location) (View[E, K], error) {
	all, err := place(events, loc)
	if err != nil {
		return View[E, K]{}, err
	}

	view := View[E, K]{
		Mode:  state.Mode,
		Range: state.Range(),
		Prev:  Format(state.Prev().Reference),
		Next:  Format(state.Next().Reference),
	}

	for _, cell := range cells(state) {
		if cell == nil {
			view.Days = append(view.Days, Day[E, K]{Blank: true, Scale: 1})
			continue
		}

		matched := matchPlaced(*cell, all, visible)
		view.Days = append(view.Days, Day[E, K]{
			Date:   cell,
			Events: matched,
			Tasks:  DueOn(*cell, tasks),
			Scale:  CrowdingScale(len(matched)),
		})
	}

	return view, nil
}

func cells(state State) []*time.Time {
	switch state.Mode {
	case ViewMonth:
		return MonthGrid(state.Reference)
	case ViewWeek:
		week := WeekGrid(state.Reference)

		out := make([]*time.Time, len(week))
		for i := range week {
			out[i] = &week[i]
		}

		return out
	default:
		day := Midnight(state.Reference)
		return []*time.Time{&day}
	}
}
