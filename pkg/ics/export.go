package ics

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"vuosikello/pkg/calendar"
)

const productID = "-//vuosikello//agenda//FI"

// Entry is one all-day item of an exported agenda. Start and End are inclusive
// YYYY-MM-DD dates.
type Entry struct {
	UID         string
	Summary     string
	Description string
	Category    string
	Start       string
	End         string
	Updated     time.Time
}

// Export writes entries as a PUBLISH calendar of all-day events. DTEND is the
// day after End, as iCalendar end dates are exclusive.
func Export(w io.Writer, name string, entries []Entry, loc *time.Location) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	if name != "" {
		cal.SetXWRCalName(name)
	}

	stamp := time.Now().UTC()

	for _, entry := range entries {
		span, err := calendar.NewSpan(entry.Start, entry.End, loc)
		if err != nil {
			return fmt.Errorf("failed to export %s: %w", entry.UID, err)
		}

		ev := cal.AddEvent(entry.UID)
		ev.SetDtStampTime(stamp)
		ev.SetSummary(entry.Summary)
		ev.SetAllDayStartAt(span.Start)
		ev.SetAllDayEndAt(calendar.AddDays(calendar.Midnight(span.End), 1))

		if entry.Description != "" {
			ev.SetDescription(entry.Description)
		}

		if entry.Category != "" {
			ev.AddProperty(ical.ComponentPropertyCategories, entry.Category)
		}

		if !entry.Updated.IsZero() {
			ev.SetModifiedAt(entry.Updated.UTC())
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	if err != nil {
		return fmt.Errorf("failed to write calendar: %w", err)
	}

	return nil
}
