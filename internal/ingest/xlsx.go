package ingest

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/outreach-engine/internal/model"
)

// XLSXOptions configures the XLSX parser.
type XLSXOptions struct {
	Options
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadXLSX parses a lead list from an XLSX workbook. The first row of the
// selected sheet is the header.
func ReadXLSX(path string, opts XLSXOptions) ([]model.Observation, error) {
	o := opts.Options.withDefaults()

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.New("ingest: empty sheet")
	}

	fields := mapHeader(rowToStrings(sheet.Rows[0]))
	if err := validateHeader(fields); err != nil {
		return nil, err
	}

	var out []model.Observation
	for _, row := range sheet.Rows[1:] {
		if obs := rowToObservation(fields, rowToStrings(row), o); obs != nil {
			out = append(out, *obs)
		}
	}
	return out, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("ingest: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		cells[i] = c.String()
	}
	return cells
}
