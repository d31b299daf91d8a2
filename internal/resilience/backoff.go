package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig controls re-attempt pacing for transient step failures.
type BackoffConfig struct {
	// MaxAttempts is the per-step attempt budget (including the first
	// try). Exceeding it fails the enrollment. Default: 5.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry. Default: 1m.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed delay. Default: 6h.
	MaxBackoff time.Duration

	// Multiplier scales the delay per attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction spreads retries as a fraction of the computed delay
	// (0.25 = ±25%) so a provider outage doesn't produce a retry storm.
	JitterFraction float64
}

// DefaultBackoffConfig returns pacing suited to day-scale outreach steps.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Minute,
		MaxBackoff:     6 * time.Hour,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

func (cfg BackoffConfig) withDefaults() BackoffConfig {
	def := DefaultBackoffConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// Decision is the backoff controller's verdict on a transient failure.
type Decision struct {
	Retry bool
	At    time.Time
}

// Backoff decides whether a transiently failed step gets another attempt
// and when. It holds no per-enrollment state; attempt counts live on the
// enrollment record.
type Backoff struct {
	cfg BackoffConfig
	now func() time.Time
}

// NewBackoff creates a backoff controller.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg.withDefaults(), now: time.Now}
}

// WithNow fixes the clock for testing.
func (b *Backoff) WithNow(now func() time.Time) *Backoff {
	b.now = now
	return b
}

// MaxAttempts exposes the configured attempt budget. A step may override
// it; zero means use this default.
func (b *Backoff) MaxAttempts() int {
	return b.cfg.MaxAttempts
}

// OnTransientFailure returns the decision for an enrollment whose current
// step just failed transiently. attemptCount is the count after the
// failed attempt (i.e. already incremented). maxAttempts of 0 falls back
// to the configured default.
func (b *Backoff) OnTransientFailure(attemptCount, maxAttempts int) Decision {
	if maxAttempts <= 0 {
		maxAttempts = b.cfg.MaxAttempts
	}
	if attemptCount >= maxAttempts {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, At: b.now().Add(b.Delay(attemptCount))}
}

// Delay computes the backoff delay for the given attempt count:
// initial * multiplier^(attempt-1), capped, ± jitter.
func (b *Backoff) Delay(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	delay := float64(b.cfg.InitialBackoff) * math.Pow(b.cfg.Multiplier, float64(attemptCount-1))
	if delay > float64(b.cfg.MaxBackoff) {
		delay = float64(b.cfg.MaxBackoff)
	}

	if b.cfg.JitterFraction > 0 {
		jitterRange := delay * b.cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
