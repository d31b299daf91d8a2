// Package score computes a lead's priority score from its reconciled
// attributes. Scoring is a pure function of attribute values, confidences,
// and ages: identical inputs always produce identical scores, so
// re-scoring after any merge is safe.
package score

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Weights combines the scoring dimensions. Zero total weight falls back
// to confidence-only.
type Weights struct {
	Confidence   float64 `yaml:"confidence" mapstructure:"confidence"`
	Completeness float64 `yaml:"completeness" mapstructure:"completeness"`
	Freshness    float64 `yaml:"freshness" mapstructure:"freshness"`
}

// Config parameterizes the scorer. Field weights and dimension weights
// are configuration inputs; no canonical values are hard-coded.
type Config struct {
	// Fields maps scoreable field names to their weight. Absent fields
	// contribute zero.
	Fields map[string]float64 `yaml:"fields" mapstructure:"fields"`

	Weights Weights     `yaml:"weights" mapstructure:"weights"`
	Decay   DecayConfig `yaml:"decay" mapstructure:"decay"`
}

// DefaultConfig returns scoring defaults for common outreach fields.
func DefaultConfig() Config {
	return Config{
		Fields: map[string]float64{
			"email":   2.0,
			"name":    1.5,
			"website": 1.0,
			"phone":   1.0,
			"city":    0.5,
			"state":   0.5,
		},
		Weights: Weights{Confidence: 0.5, Completeness: 0.3, Freshness: 0.2},
		Decay:   DecayConfig{HalfLifeDays: 180, Floor: 0.1},
	}
}

// Scorer scores leads against a fixed configuration and clock.
type Scorer struct {
	cfg Config
	now func() time.Time
}

// New creates a scorer.
func New(cfg Config) *Scorer {
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultConfig().Fields
	}
	return &Scorer{cfg: cfg, now: time.Now}
}

// WithNow fixes the clock for testing.
func (s *Scorer) WithNow(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Score returns the lead's priority score in [0, 1].
func (s *Scorer) Score(lead *model.Lead) float64 {
	now := s.now()

	conf := s.scoreConfidence(lead, now)
	comp := s.scoreCompleteness(lead)
	fresh := s.scoreFreshness(lead, now)

	w := s.cfg.Weights
	total := w.Confidence + w.Completeness + w.Freshness
	if total == 0 {
		zap.L().Warn("score: all weights are zero, falling back to confidence-only")
		return conf
	}

	final := (w.Confidence*conf + w.Completeness*comp + w.Freshness*fresh) / total
	return clamp01(final)
}

// scoreConfidence is the field-weighted average of decayed confidence.
func (s *Scorer) scoreConfidence(lead *model.Lead, now time.Time) float64 {
	totalWeight := 0.0
	sum := 0.0
	for _, field := range s.sortedFields() {
		weight := s.cfg.Fields[field]
		totalWeight += weight
		attr, ok := lead.Attributes[field]
		if !ok || attr.Active.Value == nil {
			continue
		}
		eff := EffectiveConfidence(attr.Active.Confidence, attr.Active.ObservedAt, now, s.cfg.Decay)
		sum += weight * eff
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

// scoreCompleteness is the weighted fraction of scoreable fields present.
func (s *Scorer) scoreCompleteness(lead *model.Lead) float64 {
	totalWeight := 0.0
	present := 0.0
	for _, field := range s.sortedFields() {
		weight := s.cfg.Fields[field]
		totalWeight += weight
		if lead.Has(field) {
			present += weight
		}
	}
	if totalWeight == 0 {
		return 0
	}
	return present / totalWeight
}

// scoreFreshness is the average decay factor across present fields,
// independent of raw confidence.
func (s *Scorer) scoreFreshness(lead *model.Lead, now time.Time) float64 {
	n := 0
	sum := 0.0
	for _, field := range s.sortedFields() {
		attr, ok := lead.Attributes[field]
		if !ok || attr.Active.Value == nil {
			continue
		}
		n++
		sum += EffectiveConfidence(1.0, attr.Active.ObservedAt, now, s.cfg.Decay)
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// sortedFields gives a stable iteration order so float summation is
// deterministic across runs.
func (s *Scorer) sortedFields() []string {
	fields := make([]string, 0, len(s.cfg.Fields))
	for f := range s.cfg.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
