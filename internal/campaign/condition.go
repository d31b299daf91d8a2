package campaign

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Evaluate runs a step condition against a lead. A nil condition is true.
// An evaluation error (unknown kind, malformed predicate) is NOT "false":
// the caller must treat it as a permanent failure so misconfigured
// campaigns don't silently skip steps.
func Evaluate(c *model.Condition, lead *model.Lead) (bool, error) {
	if c == nil {
		return true, nil
	}

	switch c.Kind {
	case model.CondExists:
		if c.Field == "" {
			return false, eris.New("condition: exists requires a field")
		}
		return lead.Has(c.Field), nil

	case model.CondNotExists:
		if c.Field == "" {
			return false, eris.New("condition: not_exists requires a field")
		}
		return !lead.Has(c.Field), nil

	case model.CondEquals:
		if c.Field == "" {
			return false, eris.New("condition: equals requires a field")
		}
		return fmt.Sprintf("%v", lead.Value(c.Field)) == c.Value, nil

	case model.CondMinConfidence:
		if c.Field == "" {
			return false, eris.New("condition: min_confidence requires a field")
		}
		return lead.Confidence(c.Field) >= c.Threshold, nil

	case model.CondScoreAtLeast:
		return lead.Score >= c.Threshold, nil

	default:
		return false, eris.Errorf("condition: unknown kind %q", c.Kind)
	}
}

func validateCondition(c *model.Condition) error {
	switch c.Kind {
	case model.CondExists, model.CondNotExists, model.CondEquals, model.CondMinConfidence:
		if c.Field == "" {
			return eris.Errorf("condition %s requires a field", c.Kind)
		}
	case model.CondScoreAtLeast:
	default:
		return eris.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

// DefaultStopFields are lead attributes that halt an enrollment outright
// when truthy, checked at every poll before claiming.
var DefaultStopFields = []string{"replied", "unsubscribed"}

// StopReason returns the first stop field that is set on the lead, or "".
func StopReason(lead *model.Lead, stopFields []string) string {
	if stopFields == nil {
		stopFields = DefaultStopFields
	}
	for _, f := range stopFields {
		if lead.BoolValue(f) {
			return f
		}
		// Sources that report as strings ("true", "yes") count too.
		switch lead.StringValue(f) {
		case "true", "yes", "1":
			return f
		}
	}
	return ""
}
