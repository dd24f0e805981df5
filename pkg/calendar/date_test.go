package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var helsinki = mustLoad("Europe/Helsinki")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}

	return loc
}

func date(t *testing.T, value string) time.Time {
	t.Helper()

	d, err := Parse(value, helsinki)
	require.NoError(t, err)

	return d
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{name: "valid", value: "2024-02-29"},
		{name: "invalid day", value: "2023-02-29", wantErr: true},
		{name: "not padded", value: "2024-1-5", wantErr: true},
		{name: "with time", value: "2024-01-05T10:00:00Z", wantErr: true},
		{name: "empty", value: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(tt.value, helsinki)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidDateFormat)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.value, Format(got))
			assert.Equal(t, 0, got.Hour())
			assert.Equal(t, helsinki, got.Location())
		})
	}
}

func TestNewSpan(t *testing.T) {
	t.Parallel()

	span, err := NewSpan("2024-03-10", "2024-03-12", helsinki)
	require.NoError(t, err)
	assert.Equal(t, 3, span.Days())

	_, err = NewSpan("2024-03-12", "2024-03-10", helsinki)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = NewSpan("2024-03-12", "12.3.2024", helsinki)
	require.ErrorIs(t, err, ErrInvalidDateFormat)
}

func TestSpan_Contains(t *testing.T) {
	t.Parallel()

	span, err := NewSpan("2024-03-10", "2024-03-12", helsinki)
	require.NoError(t, err)

	for day := date(t, "2024-03-05"); day.Before(date(t, "2024-03-20")); day = AddDays(day, 1) {
		want := Format(day) >= "2024-03-10" && Format(day) <= "2024-03-12"
		assert.Equal(t, want, span.Contains(day), Format(day))

		noon := day.Add(12*time.Hour + 34*time.Minute)
		assert.Equal(t, want, span.Contains(noon), "time of day must not matter for %s", Format(day))
	}
}

func TestDaysBetween_AcrossDST(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, DaysBetween(date(t, "2024-03-30"), date(t, "2024-03-31")))
	assert.Equal(t, 7, DaysBetween(date(t, "2024-10-24"), date(t, "2024-10-31")))
	assert.Equal(t, -2, DaysBetween(date(t, "2024-01-03"), date(t, "2024-01-01")))
}

func TestDaysIn(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 29, DaysIn(date(t, "2024-02-10")))
	assert.Equal(t, 28, DaysIn(date(t, "2023-02-10")))
	assert.Equal(t, 31, DaysIn(date(t, "2024-12-01")))
	assert.Equal(t, 30, DaysIn(date(t, "2024-04-30")))
}

func TestAddMonths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from string
		n    int
		want string
	}{
		{from: "2024-01-31", n: 1, want: "2024-02-29"},
		{from: "2023-01-31", n: 1, want: "2023-02-28"},
		{from: "2024-03-31", n: -1, want: "2024-02-29"},
		{from: "2024-05-31", n: 1, want: "2024-06-30"},
		{from: "2024-12-15", n: 1, want: "2025-01-15"},
		{from: "2024-01-15", n: -1, want: "2023-12-15"},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			t.Parallel()

			got := AddMonths(date(t, tt.from), tt.n)
			assert.Equal(t, tt.want, Format(got))
			assert.Equal(t, Midnight(got), got)
		})
	}
}
