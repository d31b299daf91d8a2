package model

import "time"

// AttributeValue is one observed value for a lead field, tagged with where
// it came from and how much we trust it.
type AttributeValue struct {
	Value      any       `json:"value"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	ObservedAt time.Time `json:"observed_at"`
}

// Attribute holds the active value for a field plus the append-only history
// of every observation ever merged for it. Losing observations are kept in
// History but never become Active.
type Attribute struct {
	Active  AttributeValue   `json:"active"`
	History []AttributeValue `json:"history"`
}

// Lead is the canonical prospect record produced by reconciliation.
type Lead struct {
	ID          string               `json:"id"`
	Fingerprint string               `json:"fingerprint"`
	Attributes  map[string]Attribute `json:"attributes"`
	Score       float64              `json:"score"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// NewLead returns an empty lead with an initialized attribute map.
func NewLead(id string, now time.Time) *Lead {
	return &Lead{
		ID:         id,
		Attributes: make(map[string]Attribute),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Value returns the active value for a field, or nil if absent.
func (l *Lead) Value(key string) any {
	attr, ok := l.Attributes[key]
	if !ok {
		return nil
	}
	return attr.Active.Value
}

// StringValue returns the active value for a field as a string, or "" if
// the field is absent or not a string.
func (l *Lead) StringValue(key string) string {
	s, _ := l.Value(key).(string)
	return s
}

// BoolValue returns the active value for a field as a bool. Absent or
// non-bool values return false.
func (l *Lead) BoolValue(key string) bool {
	b, _ := l.Value(key).(bool)
	return b
}

// Confidence returns the confidence of the active value for a field, or 0
// if the field is absent.
func (l *Lead) Confidence(key string) float64 {
	attr, ok := l.Attributes[key]
	if !ok {
		return 0
	}
	return attr.Active.Confidence
}

// Has reports whether the field has an active value.
func (l *Lead) Has(key string) bool {
	attr, ok := l.Attributes[key]
	return ok && attr.Active.Value != nil
}

// Observation is one partial record emitted by a single source for one
// lead attempt. It is consumed by the reconciler and discarded; durable
// history lives inside Lead.Attributes.
type Observation struct {
	Source     string         `json:"source"`
	ObservedAt time.Time      `json:"observed_at"`
	Fields     map[string]any `json:"fields"`
	Confidence float64        `json:"confidence"`

	// FieldConfidence overrides Confidence per field when the source
	// reports per-field trust (e.g. an enrichment API's own scores).
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`
}

// ConfidenceFor returns the confidence for a specific field, falling back
// to the observation-level confidence.
func (o Observation) ConfidenceFor(key string) float64 {
	if c, ok := o.FieldConfidence[key]; ok {
		return c
	}
	return o.Confidence
}
