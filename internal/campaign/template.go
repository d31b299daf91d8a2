package campaign

import (
	"regexp"
	"strings"

	"github.com/sells-group/outreach-engine/internal/model"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Fallbacks supplies values for placeholders absent from the lead, so a
// missing first name renders as "there" instead of a hole in the message.
type Fallbacks map[string]string

// DefaultFallbacks covers the common personalization variables.
func DefaultFallbacks() Fallbacks {
	return Fallbacks{
		"first_name": "there",
		"company":    "your business",
		"city":       "your area",
	}
}

// Render fills {{placeholder}} variables in a template from lead
// attributes. Derived variables: first_name (first token of the contact
// or business name) and company (the name attribute). Any other
// placeholder resolves to the lead attribute of the same key, then the
// fallback, then "".
func Render(tmpl string, lead *model.Lead, fallbacks Fallbacks) string {
	if fallbacks == nil {
		fallbacks = DefaultFallbacks()
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if v := resolveVar(key, lead); v != "" {
			return v
		}
		return fallbacks[key]
	})
}

func resolveVar(key string, lead *model.Lead) string {
	switch key {
	case "first_name":
		name := lead.StringValue("contact_name")
		if name == "" {
			name = lead.StringValue("name")
		}
		if fields := strings.Fields(name); len(fields) > 0 {
			return fields[0]
		}
		return ""
	case "company":
		return lead.StringValue("name")
	default:
		return lead.StringValue(key)
	}
}
