// Package reconcile folds partial observations from unreliable sources
// into the canonical lead record. The merge is a pure deterministic fold:
// confidence wins, recency breaks confidence ties, source priority breaks
// recency ties, and exact ties with differing values are surfaced as
// conflicts rather than guessed at.
package reconcile

import (
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
)

// ConflictError signals two observations with identical confidence,
// timestamp, and source but different values for the same field. That
// combination means upstream data corruption; the merge refuses to pick.
type ConflictError struct {
	Field    string
	Source   string
	Existing any
	Incoming any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconcile: conflicting values for %q from %s: %v vs %v",
		e.Field, e.Source, e.Existing, e.Incoming)
}

// Scorer recomputes a lead's score after its attributes change.
type Scorer interface {
	Score(lead *model.Lead) float64
}

// Reconciler merges observations into leads.
type Reconciler struct {
	sourcePriority map[string]int // lower index = preferred
	scorer         Scorer
	now            func() time.Time
}

// New creates a reconciler. sourcePriority lists sources from most to
// least preferred; unlisted sources rank after listed ones. scorer may be
// nil, in which case scores are left untouched.
func New(sourcePriority []string, scorer Scorer) *Reconciler {
	prio := make(map[string]int, len(sourcePriority))
	for i, s := range sourcePriority {
		prio[s] = i
	}
	return &Reconciler{sourcePriority: prio, scorer: scorer, now: time.Now}
}

// WithNow fixes the clock for testing.
func (r *Reconciler) WithNow(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Reconcile merges observations into lead. A nil lead starts a fresh
// record (the caller assigns the ID after dedup acceptance). On success
// the lead's fingerprint, updated_at, and score are refreshed. On
// conflict the lead is returned unchanged alongside the error.
func (r *Reconciler) Reconcile(lead *model.Lead, observations []model.Observation) (*model.Lead, error) {
	if lead == nil {
		lead = model.NewLead("", r.now())
	}

	// Dry-run conflict check first so a conflict leaves the lead intact.
	staged := cloneAttributes(lead.Attributes)
	changed := false
	identityChanged := false

	for _, obs := range observations {
		for field, value := range obs.Fields {
			if value == nil {
				continue
			}
			cand := model.AttributeValue{
				Value:      value,
				Source:     obs.Source,
				Confidence: obs.ConfidenceFor(field),
				ObservedAt: obs.ObservedAt,
			}

			attr := staged[field]
			if duplicateOf(attr.History, cand) {
				continue // identical observation already merged
			}

			// Ties against the active value and against every retained
			// history entry both refuse the merge: a losing entry with
			// the same provenance and a different value is just as
			// corrupt as a winning one.
			if conflicts(attr.Active, cand) {
				return lead, &ConflictError{
					Field:    field,
					Source:   cand.Source,
					Existing: attr.Active.Value,
					Incoming: cand.Value,
				}
			}
			for _, prev := range attr.History {
				if conflicts(prev, cand) {
					return lead, &ConflictError{
						Field:    field,
						Source:   cand.Source,
						Existing: prev.Value,
						Incoming: cand.Value,
					}
				}
			}

			attr.History = append(attr.History, cand)
			if r.wins(cand, attr.Active) {
				if !reflect.DeepEqual(attr.Active.Value, cand.Value) && model.IsIdentityField(field) {
					identityChanged = true
				}
				attr.Active = cand
			}
			staged[field] = attr
			changed = true
		}
	}

	if !changed {
		return lead, nil
	}

	lead.Attributes = staged
	lead.UpdatedAt = r.now()
	if identityChanged || lead.Fingerprint == "" {
		lead.Fingerprint = model.Fingerprint(lead)
	}
	if r.scorer != nil {
		lead.Score = r.scorer.Score(lead)
	}

	zap.L().Debug("reconcile: merged observations",
		zap.String("lead_id", lead.ID),
		zap.Int("observations", len(observations)),
		zap.String("fingerprint", lead.Fingerprint),
	)
	return lead, nil
}

// wins reports whether the candidate value should replace the active one.
// A lower-confidence, older value never wins; it stays in history only.
func (r *Reconciler) wins(cand, active model.AttributeValue) bool {
	if active.Value == nil {
		return true
	}
	if cand.Confidence != active.Confidence {
		return cand.Confidence > active.Confidence
	}
	if !cand.ObservedAt.Equal(active.ObservedAt) {
		return cand.ObservedAt.After(active.ObservedAt)
	}
	return r.priority(cand.Source) < r.priority(active.Source)
}

func (r *Reconciler) priority(source string) int {
	if p, ok := r.sourcePriority[source]; ok {
		return p
	}
	return len(r.sourcePriority)
}

// conflicts reports whether two values share provenance (source,
// confidence, timestamp) but disagree on the value itself.
func conflicts(existing, cand model.AttributeValue) bool {
	return existing.Value != nil &&
		existing.Confidence == cand.Confidence &&
		existing.ObservedAt.Equal(cand.ObservedAt) &&
		existing.Source == cand.Source &&
		!reflect.DeepEqual(existing.Value, cand.Value)
}

func duplicateOf(history []model.AttributeValue, cand model.AttributeValue) bool {
	for _, h := range history {
		if h.Source == cand.Source &&
			h.Confidence == cand.Confidence &&
			h.ObservedAt.Equal(cand.ObservedAt) &&
			reflect.DeepEqual(h.Value, cand.Value) {
			return true
		}
	}
	return false
}

func cloneAttributes(attrs map[string]model.Attribute) map[string]model.Attribute {
	out := make(map[string]model.Attribute, len(attrs))
	for k, v := range attrs {
		hist := make([]model.AttributeValue, len(v.History))
		copy(hist, v.History)
		v.History = hist
		out[k] = v
	}
	return out
}
