package calendar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name, start, end, kind string
}

func (e entry) DateSpan() (string, string) { return e.start, e.end }
func (e entry) Category() string           { return e.kind }

type todo struct {
	title, due string
	done       bool
}

func (t todo) DueDate() string { return t.due }
func (t todo) IsOpen() bool    { return !t.done }

func names(items []entry) []string {
	out := make([]string, 0, len(items))
	for _, i := range items {
		out = append(out, i.name)
	}

	return out
}

func TestCrowdingScale(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, CrowdingScale(0), 1e-9)
	assert.InDelta(t, 1.0, CrowdingScale(1), 1e-9)
	assert.InDelta(t, 0.85, CrowdingScale(2), 1e-9)
	assert.InDelta(t, 0.7, CrowdingScale(3), 1e-9)
	assert.InDelta(t, 0.6, CrowdingScale(4), 1e-9)
	assert.InDelta(t, 0.6, CrowdingScale(10), 1e-9)

	prev := CrowdingScale(1)
	for n := 2; n < 50; n++ {
		cur := CrowdingScale(n)
		assert.LessOrEqual(t, cur, prev)
		assert.GreaterOrEqual(t, cur, 0.6)
		prev = cur
	}
}

func TestMatchDay(t *testing.T) {
	t.Parallel()

	items := []entry{
		{name: "conference", start: "2024-03-10", end: "2024-03-12", kind: "work"},
		{name: "birthday", start: "2024-03-11", end: "2024-03-11", kind: "family"},
		{name: "later", start: "2024-03-13", end: "2024-03-20", kind: "work"},
	}

	got, err := MatchDay(date(t, "2024-03-11"), items, nil, helsinki)
	require.NoError(t, err)
	assert.Equal(t, []string{"conference", "birthday"}, names(got))

	got, err = MatchDay(date(t, "2024-03-11"), items, NewVisibility("family"), helsinki)
	require.NoError(t, err)
	assert.Equal(t, []string{"birthday"}, names(got))

	got, err = MatchDay(date(t, "2024-03-09"), items, nil, helsinki)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = MatchDay(date(t, "2024-03-09"), []entry{{start: "2024-3-1", end: "2024-03-02"}}, nil, helsinki)
	require.ErrorIs(t, err, ErrInvalidDateFormat)
}

func TestDueOn(t *testing.T) {
	t.Parallel()

	tasks := []todo{
		{title: "open", due: "2024-05-01"},
		{title: "done", due: "2024-05-01", done: true},
		{title: "other day", due: "2024-05-02"},
	}

	got := DueOn(date(t, "2024-05-01"), tasks)
	require.Len(t, got, 1)
	assert.Equal(t, "open", got[0].title)
}

func TestAgenda(t *testing.T) {
	t.Parallel()

	items := []entry{
		{name: "b", start: "2024-06-05", end: "2024-06-06", kind: "work"},
		{name: "a", start: "2024-05-28", end: "2024-06-01", kind: "work"},
		{name: "outside", start: "2024-07-01", end: "2024-07-02", kind: "work"},
		{name: "c", start: "2024-06-30", end: "2024-06-30", kind: "holiday"},
		{name: "before", start: "2024-05-01", end: "2024-05-31", kind: "holiday"},
	}

	got, err := Agenda(items, RangeFor(ViewMonth, date(t, "2024-06-15")), helsinki)
	require.NoError(t, err)

	assert.Equal(t, []string{"holiday", "work"}, Categories(got))
	assert.Equal(t, []string{"a", "b"}, names(got["work"]))
	assert.Equal(t, []string{"c"}, names(got["holiday"]))
}

func TestBuild(t *testing.T) {
	t.Parallel()

	events := []entry{
		{name: "one", start: "2024-02-01", end: "2024-02-03", kind: "x"},
		{name: "two", start: "2024-02-02", end: "2024-02-02", kind: "x"},
		{name: "three", start: "2024-02-02", end: "2024-02-02", kind: "y"},
	}
	tasks := []todo{{title: "due", due: "2024-02-02"}}

	t.Run("month", func(t *testing.T) {
		t.Parallel()

		view, err := Build(NewState(ViewMonth, date(t, "2024-02-20")), events, tasks, nil, helsinki)
		require.NoError(t, err)

		require.Len(t, view.Days, 3+29)
		assert.True(t, view.Days[0].Blank)
		assert.Equal(t, "2024-01-20", view.Prev)
		assert.Equal(t, "2024-03-20", view.Next)

		second := view.Days[3+1]
		assert.Equal(t, "2024-02-02", Format(*second.Date))
		assert.Equal(t, []string{"one", "two", "three"}, names(second.Events))
		assert.InDelta(t, 0.7, second.Scale, 1e-9)
		assert.Len(t, second.Tasks, 1)
	})

	t.Run("hidden types do not crowd", func(t *testing.T) {
		t.Parallel()

		view, err := Build(NewState(ViewDay, date(t, "2024-02-02")), events, tasks, NewVisibility("y"), helsinki)
		require.NoError(t, err)

		require.Len(t, view.Days, 1)
		assert.Equal(t, []string{"three"}, names(view.Days[0].Events))
		assert.InDelta(t, 1.0, view.Days[0].Scale, 1e-9)
	})

	t.Run("week", func(t *testing.T) {
		t.Parallel()

		view, err := Build(NewState(ViewWeek, date(t, "2024-02-02")), events, tasks, nil, helsinki)
		require.NoError(t, err)

		require.Len(t, view.Days, 7)
		assert.Equal(t, "2024-01-29", Format(*view.Days[0].Date))
		assert.Equal(t, []string{"one"}, names(view.Days[3].Events))
	})
}
