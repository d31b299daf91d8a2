package ingest

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// CSVOptions configures the CSV parser.
type CSVOptions struct {
	Options
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// ReadCSV parses a lead list from CSV. The first row is the header.
func ReadCSV(r io.Reader, opts CSVOptions) ([]model.Observation, error) {
	o := opts.Options.withDefaults()

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("ingest: empty csv")
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv header")
	}
	// Strip a UTF-8 BOM exported by Excel.
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	fields := mapHeader(header)
	if err := validateHeader(fields); err != nil {
		return nil, err
	}

	var out []model.Observation
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read csv row")
		}
		if obs := rowToObservation(fields, row, o); obs != nil {
			out = append(out, *obs)
		}
	}
}
