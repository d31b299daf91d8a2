package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveConfidence_Current(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLifeDays: 180, Floor: 0.1}

	// Data from today — no decay.
	got := EffectiveConfidence(0.9, now, now, decay)
	assert.Equal(t, 0.9, got)
}

func TestEffectiveConfidence_HalfLife(t *testing.T) {
	now := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	observed := now.Add(-180 * 24 * time.Hour)
	decay := DecayConfig{HalfLifeDays: 180, Floor: 0.1}

	// Exactly one half-life old — confidence halved.
	got := EffectiveConfidence(0.8, observed, now, decay)
	assert.InDelta(t, 0.4, got, 0.02)
}

func TestEffectiveConfidence_Floor(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	observed := now.Add(-10 * 365 * 24 * time.Hour)
	decay := DecayConfig{HalfLifeDays: 180, Floor: 0.15}

	got := EffectiveConfidence(0.9, observed, now, decay)
	assert.Equal(t, 0.15, got)
}

func TestEffectiveConfidence_ZeroTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLifeDays: 180, Floor: 0.1}

	got := EffectiveConfidence(0.7, time.Time{}, now, decay)
	assert.Equal(t, 0.7, got)
}

func TestEffectiveConfidence_ZeroConfidence(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := EffectiveConfidence(0, now, now, DecayConfig{HalfLifeDays: 180, Floor: 0.1})
	assert.Equal(t, 0.0, got)
}

func TestEffectiveConfidence_FutureObservation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLifeDays: 180, Floor: 0.1}

	// Clock skew: observation from the future decays nothing.
	got := EffectiveConfidence(0.6, now.Add(time.Hour), now, decay)
	assert.Equal(t, 0.6, got)
}
