// Package campaign loads outreach campaign definitions, evaluates step
// conditions, and renders message templates. Campaigns are immutable once
// stored: registering an edited definition produces a new version rather
// than mutating the one in-flight leads are enrolled against.
package campaign

import (
	"context"
	"os"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Definition is the operator-authored campaign file.
type Definition struct {
	Name  string       `yaml:"name"`
	Steps []model.Step `yaml:"steps"`
}

// LoadFile parses and validates a campaign YAML file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "campaign: read %s", path)
	}
	return Parse(data)
}

// Parse parses and validates a campaign definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, eris.Wrap(err, "campaign: parse yaml")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks structural requirements of a definition.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return eris.New("campaign: name is required")
	}
	if len(d.Steps) == 0 {
		return eris.New("campaign: at least one step is required")
	}
	for i, step := range d.Steps {
		switch step.Action {
		case model.ActionSend:
			if step.Channel == "" {
				return eris.Errorf("campaign: step %d (%s): send requires a channel", i, step.Name)
			}
			if step.Body == "" {
				return eris.Errorf("campaign: step %d (%s): send requires a body template", i, step.Name)
			}
		case model.ActionScrape:
			// Target and provider are both optional: an empty target
			// falls back to the lead's website at dispatch time.
		case model.ActionEnrich:
			// No extra requirements; the enricher works from lead identity.
		default:
			return eris.Errorf("campaign: step %d (%s): unknown action %q", i, step.Name, step.Action)
		}
		if step.DelayAfterPrevious < 0 {
			return eris.Errorf("campaign: step %d (%s): negative delay", i, step.Name)
		}
		if step.Condition != nil {
			if err := validateCondition(step.Condition); err != nil {
				return eris.Wrapf(err, "campaign: step %d (%s)", i, step.Name)
			}
		}
	}
	return nil
}

// Register stores the definition, reusing an existing version when the
// steps are unchanged and minting a new version otherwise.
func Register(ctx context.Context, s store.Store, def *Definition) (*model.Campaign, error) {
	existing, err := s.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}

	maxVersion := 0
	for i := range existing {
		c := &existing[i]
		if c.Name != def.Name {
			continue
		}
		if c.Version > maxVersion {
			maxVersion = c.Version
		}
		if reflect.DeepEqual(c.Steps, def.Steps) {
			return c, nil
		}
	}

	c := &model.Campaign{
		ID:        uuid.New().String(),
		Name:      def.Name,
		Version:   maxVersion + 1,
		Steps:     def.Steps,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.PutCampaign(ctx, c); err != nil {
		return nil, err
	}
	zap.L().Info("campaign: registered version",
		zap.String("campaign_id", c.ID),
		zap.String("name", c.Name),
		zap.Int("version", c.Version),
		zap.Int("steps", len(c.Steps)),
	)
	return c, nil
}
