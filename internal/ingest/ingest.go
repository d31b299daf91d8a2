// Package ingest parses lead lists from CSV and XLSX files into
// observations for admission through the dedupe index. Column headers are
// mapped to canonical lead fields; unmapped columns are carried through
// under their normalized header name.
package ingest

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// headerAliases maps common spreadsheet headers to canonical field names.
var headerAliases = map[string]string{
	"email":         "email",
	"email_address": "email",
	"e-mail":        "email",
	"company":       "name",
	"company_name":  "name",
	"business":      "name",
	"business_name": "name",
	"name":          "name",
	"website":       "website",
	"url":           "website",
	"domain":        "website",
	"phone":         "phone",
	"phone_number":  "phone",
	"city":          "city",
	"state":         "state",
	"first_name":    "contact_name",
	"contact":       "contact_name",
	"contact_name":  "contact_name",
}

// Options configures an import run.
type Options struct {
	// Source labels every produced observation. Defaults to "import".
	Source string
	// Confidence assigned to imported values. Defaults to 0.6; operator
	// supplied lists are trusted but not verified.
	Confidence float64
	// Now stamps ObservedAt. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Source == "" {
		o.Source = "import"
	}
	if o.Confidence <= 0 {
		o.Confidence = 0.6
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// mapHeader resolves raw column headers to field names. Unknown headers
// are normalized (lowercased, spaces to underscores) and kept as-is.
func mapHeader(raw []string) []string {
	fields := make([]string, len(raw))
	for i, h := range raw {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, " ", "_")
		if canonical, ok := headerAliases[key]; ok {
			fields[i] = canonical
		} else {
			fields[i] = key
		}
	}
	return fields
}

// rowToObservation builds one observation from a header-mapped row.
// Rows with no non-empty mapped value produce nil.
func rowToObservation(fields []string, row []string, opts Options) *model.Observation {
	values := make(map[string]any)
	for i, cell := range row {
		if i >= len(fields) || fields[i] == "" {
			continue
		}
		v := strings.TrimSpace(cell)
		if v == "" {
			continue
		}
		values[fields[i]] = v
	}
	if len(values) == 0 {
		return nil
	}
	return &model.Observation{
		Source:     opts.Source,
		ObservedAt: opts.Now(),
		Confidence: opts.Confidence,
		Fields:     values,
	}
}

// validateHeader requires at least one identity column so every row can
// produce a fingerprint.
func validateHeader(fields []string) error {
	for _, f := range fields {
		switch f {
		case "email", "name", "website":
			return nil
		}
	}
	return eris.New("ingest: no identity column (email, company, or website) in header")
}
