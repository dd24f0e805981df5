package calendar

import (
	"slices"
	"time"
)

const (
	minScale  = 0.6
	scaleStep = 0.15
)

// Spanner is anything placed on the calendar over an inclusive date range.
type Spanner interface {
	DateSpan() (start, end string)
	Category() string
}

// Dueable is anything pinned to a single deadline date.
type Dueable interface {
	DueDate() string
	IsOpen() bool
}

// Visibility is the set of categories toggled on. A nil set shows everything.
type Visibility map[string]bool

// NewVisibility shows only categories; with none given it shows everything.
func NewVisibility(categories ...string) Visibility {
	if len(categories) == 0 {
		return nil
	}

	v := make(Visibility, len(categories))
	for _, c := range categories {
		v[c] = true
	}

	return v
}

// Shows reports whether items of category are displayed.
func (v Visibility) Shows(category string) bool {
	return v == nil || v[category]
}

// CrowdingScale is the font scale applied to every item of a day holding n items.
func CrowdingScale(n int) float64 {
	if n <= 1 {
		return 1
	}

	return max(minScale, 1-float64(n-1)*scaleStep)
}

type placed[T Spanner] struct {
	item T
	span Span
}

func place[T Spanner](items []T, loc *time.Location) ([]placed[T], error) {
	out := make([]placed[T], 0, len(items))

	for _, item := range items {
		start, end := item.DateSpan()

		span, err := NewSpan(start, end, loc)
		if err != nil {
			return nil, err
		}

		out = append(out, placed[T]{item: item, span: span})
	}

	return out, nil
}

// MatchDay returns the visible items whose date range covers day.
func MatchDay[T Spanner](day time.Time, items []T, visible Visibility, loc *time.Location) ([]T, error) {
	all, err := place(items, loc)
	if err != nil {
		return nil, err
	}

	return matchPlaced(day, all, visible), nil
}

func matchPlaced[T Spanner](day time.Time, all []placed[T], visible Visibility) []T {
	var out []T

	for _, p := range all {
		if !visible.Shows(p.item.Category()) {
			continue
		}

		if p.span.Contains(day) {
			out = append(out, p.item)
		}
	}

	return out
}

// DueOn returns the open items whose deadline is exactly day.
func DueOn[T Dueable](day time.Time, items []T) []T {
	key := Format(day)

	var out []T

	for _, item := range items {
		if item.IsOpen() && item.DueDate() == key {
			out = append(out, item)
		}
	}

	return out
}

// Agenda groups the items intersecting span by category, each group ordered by start date.
func Agenda[T Spanner](items []T, span Span, loc *time.Location) (map[string][]T, error) {
	all, err := place(items, loc)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(all, func(a, b placed[T]) int {
		return a.span.Start.Compare(b.span.Start)
	})

	out := make(map[string][]T)

	for _, p := range all {
		if p.span.Intersects(span) {
			out[p.item.Category()] = append(out[p.item.Category()], p.item)
		}
	}

	return out, nil
}

// Categories returns the keys of an agenda in a stable order.
func Categories[T any](agenda map[string][]T) []string {
	keys := make([]string, 0, len(agenda))
	for k := range agenda {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
