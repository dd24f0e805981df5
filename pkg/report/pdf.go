package report

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
)

var pdfWidths = []float64{70, 28, 28, 64}

// PDF renders a as an A4 document with one table per section.
func PDF(w io.Writer, a Agenda) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle(a.Title, true)
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(40, 10, tr(a.Title))
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(40, 8, a.subtitle())
	pdf.Ln(10)

	if len(a.Sections) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.Cell(40, 8, "No events in range")
	}

	for _, section := range a.Sections {
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(40, 8, tr(section.Title))
		pdf.Ln(8)

		pdf.SetFont("Arial", "B", 10)
		for i, h := range headers {
			pdf.CellFormat(pdfWidths[i], 7, h, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 9)
		for _, r := range section.Rows {
			pdf.CellFormat(pdfWidths[0], 6, tr(r.Name), "1", 0, "L", false, 0, "")
			pdf.CellFormat(pdfWidths[1], 6, r.Start, "1", 0, "C", false, 0, "")
			pdf.CellFormat(pdfWidths[2], 6, r.End, "1", 0, "C", false, 0, "")
			pdf.CellFormat(pdfWidths[3], 6, tr(r.Info), "1", 0, "L", false, 0, "")
			pdf.Ln(-1)
		}

		pdf.Ln(4)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}

	return nil
}
