package model

import "time"

// ActionType identifies the kind of outreach action a step performs.
type ActionType string

const (
	// ActionSend delivers a templated message on the step's channel.
	ActionSend ActionType = "send"
	// ActionScrape refreshes lead data from a rendered page before later steps.
	ActionScrape ActionType = "scrape"
	// ActionEnrich re-runs enrichment to pick up replies/bounces recorded upstream.
	ActionEnrich ActionType = "enrich"
)

// ConditionKind is the predicate vocabulary for step conditions.
type ConditionKind string

const (
	CondExists        ConditionKind = "exists"
	CondNotExists     ConditionKind = "not_exists"
	CondEquals        ConditionKind = "equals"
	CondMinConfidence ConditionKind = "min_confidence"
	CondScoreAtLeast  ConditionKind = "score_at_least"
)

// Condition is a predicate over lead attributes. A step whose condition
// evaluates false is skipped without invoking the executor.
type Condition struct {
	Kind      ConditionKind `json:"kind" yaml:"kind"`
	Field     string        `json:"field,omitempty" yaml:"field,omitempty"`
	Value     string        `json:"value,omitempty" yaml:"value,omitempty"`
	Threshold float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// Step is one unit of outreach action within a campaign.
type Step struct {
	Name               string        `json:"name" yaml:"name"`
	Action             ActionType    `json:"action" yaml:"action"`
	Channel            string        `json:"channel" yaml:"channel"`
	DelayAfterPrevious time.Duration `json:"delay_after_previous" yaml:"delay_after_previous"`
	Condition          *Condition    `json:"condition,omitempty" yaml:"condition,omitempty"`
	Subject            string        `json:"subject,omitempty" yaml:"subject,omitempty"`
	Body               string        `json:"body,omitempty" yaml:"body,omitempty"`
	// Provider names the scraper or enricher to use; empty means any.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	// Target is the page template a scrape step fetches. Empty falls back
	// to the lead's website.
	Target      string `json:"target,omitempty" yaml:"target,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// Campaign is an immutable, versioned, ordered sequence of steps. Editing
// a campaign that has enrollments produces a new version with a new ID so
// in-flight leads keep their original sequence.
type Campaign struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Steps     []Step    `json:"steps"`
	Paused    bool      `json:"paused"`
	CreatedAt time.Time `json:"created_at"`
}

// StepAt returns the step at index, or nil when index is out of range.
func (c *Campaign) StepAt(i int) *Step {
	if i < 0 || i >= len(c.Steps) {
		return nil
	}
	return &c.Steps[i]
}
