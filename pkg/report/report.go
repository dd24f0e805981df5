package report

import (
	"fmt"
	"io"
	"strings"
)

// Row is one agenda line.
type Row struct {
	Name  string
	Start string
	End   string
	Info  string
}

// Section holds the rows of one event type, already in date order.
type Section struct {
	Title string
	Rows  []Row
}

// Agenda is a printable extract of a date range.
type Agenda struct {
	Title    string
	From     string
	To       string
	Sections []Section
}

var headers = []string{"Event", "Start", "End", "Info"}

func (a Agenda) subtitle() string {
	return fmt.Sprintf("%s - %s", a.From, a.To)
}

func (a Agenda) Len() int {
	n := 0
	for _, s := range a.Sections {
		n += len(s.Rows)
	}

	return n
}

// Format is a rendered export.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Filename is the attachment name for an agenda of the given range.
func (f Format) Filename(a Agenda) string {
	return fmt.Sprintf("agenda_%s_%s.%s", a.From, a.To, strings.ToLower(string(f)))
}

// Render writes a in the requested format.
func Render(w io.Writer, f Format, a Agenda) error {
	switch f {
	case FormatPDF:
		return PDF(w, a)
	case FormatXLSX:
		return XLSX(w, a)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}
