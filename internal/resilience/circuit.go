package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a channel's circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state — dispatches flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the channel is failing — dispatches are rejected
	// immediately without touching the provider.
	CircuitOpen
	// CircuitHalfOpen allows a single probe dispatch to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a dispatch is rejected because the
// channel's circuit is open. It is transient: the executor reschedules
// the step the same way it would a rate-limit rejection.
var ErrCircuitOpen = eris.New("channel circuit is open")

// CircuitConfig controls per-channel circuit breaker behavior.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive transient failures
	// before the channel opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing a
	// probe. Default: 2m.
	ResetTimeout time.Duration

	// HalfOpenProbes is the number of successful probes required to close
	// the circuit again. Default: 1.
	HalfOpenProbes int

	// ShouldTrip decides which errors count toward the threshold. If nil,
	// only transient errors trip the breaker: a hard bounce says nothing
	// about channel health.
	ShouldTrip func(err error) bool

	// OnStateChange is called on every transition.
	OnStateChange func(channel string, from, to CircuitState)
}

func (cfg CircuitConfig) withDefaults() CircuitConfig {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 2 * time.Minute
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransient
	}
	return cfg
}

// CircuitBreaker isolates failures for a single channel.
type CircuitBreaker struct {
	channel string
	cfg     CircuitConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenSuccesses   int

	now func() time.Time
}

// NewCircuitBreaker creates a breaker for one channel.
func NewCircuitBreaker(channel string, cfg CircuitConfig) *CircuitBreaker {
	return &CircuitBreaker{
		channel: channel,
		cfg:     cfg.withDefaults(),
		state:   CircuitClosed,
		now:     time.Now,
	}
}

// WithNow fixes the clock for testing.
func (cb *CircuitBreaker) WithNow(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen without
// calling fn when the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailureTime) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit closed. Used by operators after a provider
// incident resolves.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	old := cb.state
	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.halfOpenSuccesses = 0
	if old != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.channel, old, CircuitClosed)
	}
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.cfg.ResetTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !cb.cfg.ShouldTrip(err) {
		switch cb.state {
		case CircuitHalfOpen:
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.cfg.HalfOpenProbes {
				cb.transition(CircuitClosed)
				cb.consecutiveFailures = 0
				cb.halfOpenSuccesses = 0
			}
		case CircuitClosed:
			cb.consecutiveFailures = 0
		}
		return
	}

	cb.consecutiveFailures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
		cb.halfOpenSuccesses = 0
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.channel, from, to)
	}
}

// ChannelBreakers manages one breaker per outreach channel.
type ChannelBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitConfig
}

// NewChannelBreakers creates the per-channel breaker registry.
func NewChannelBreakers(cfg CircuitConfig) *ChannelBreakers {
	return &ChannelBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the named channel, creating one if needed.
func (cb *ChannelBreakers) Get(channel string) *CircuitBreaker {
	cb.mu.RLock()
	b, ok := cb.breakers[channel]
	cb.mu.RUnlock()
	if ok {
		return b
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if b, ok = cb.breakers[channel]; ok {
		return b
	}
	b = NewCircuitBreaker(channel, cb.cfg)
	cb.breakers[channel] = b
	return b
}

// States returns a snapshot of all channel circuit states.
func (cb *ChannelBreakers) States() map[string]CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	states := make(map[string]CircuitState, len(cb.breakers))
	for name, b := range cb.breakers {
		states[name] = b.State()
	}
	return states
}
