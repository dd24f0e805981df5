package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	defaultSheet  = "Sheet1"
	maxSheetName  = 31
	fallbackSheet = "Agenda"
)

// XLSX renders a as a workbook with one sheet per section.
func XLSX(w io.Writer, a Agenda) error {
	f := excelize.NewFile()
	defer f.Close()

	sections := a.Sections
	if len(sections) == 0 {
		sections = []Section{{Title: fallbackSheet}}
	}

	used := make(map[string]bool)

	for i, section := range sections {
		name := sheetName(section.Title, used)

		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return fmt.Errorf("failed to name sheet %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to add sheet %q: %w", name, err)
		}

		for col, h := range headers {
			cell, err := excelize.CoordinatesToCellName(col+1, 1)
			if err != nil {
				return err
			}

			if err := f.SetCellValue(name, cell, h); err != nil {
				return err
			}
		}

		for i, r := range section.Rows {
			row := i + 2
			values := []string{r.Name, r.Start, r.End, r.Info}

			for col, v := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, row)
				if err != nil {
					return err
				}

				if err := f.SetCellValue(name, cell, v); err != nil {
					return err
				}
			}
		}
	}

	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to render xlsx: %w", err)
	}

	return nil
}

// sheetName makes title a legal, unused worksheet name.
func sheetName(title string, used map[string]bool) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}

		return r
	}, strings.TrimSpace(title))

	if name == "" {
		name = fallbackSheet
	}

	name = truncate(name, maxSheetName)

	base := name
	for n := 2; used[strings.ToLower(name)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		name = truncate(base, maxSheetName-len(suffix)) + suffix
	}

	used[strings.ToLower(name)] = true

	return name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n])
}
