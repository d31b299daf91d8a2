package executor

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateConfig sets the dispatch rate for one channel.
type RateConfig struct {
	PerMinute float64 `yaml:"per_minute" mapstructure:"per_minute"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// ChannelLimiters holds one token bucket per outreach channel. External
// providers rate-limit per channel, so the budget is shared across all
// workers in the process.
type ChannelLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	configs  map[string]RateConfig
	fallback RateConfig
}

// NewChannelLimiters creates the per-channel limiter registry. Channels
// without explicit config use the fallback rate.
func NewChannelLimiters(configs map[string]RateConfig, fallback RateConfig) *ChannelLimiters {
	if fallback.PerMinute <= 0 {
		fallback.PerMinute = 30
	}
	if fallback.Burst <= 0 {
		fallback.Burst = 5
	}
	return &ChannelLimiters{
		limiters: make(map[string]*rate.Limiter),
		configs:  configs,
		fallback: fallback,
	}
}

// Allow reports whether a dispatch on the channel may proceed now. A
// false return is handled like any other transient failure: the step is
// rescheduled through backoff rather than blocking a worker.
func (c *ChannelLimiters) Allow(channel string) bool {
	return c.get(channel).Allow()
}

func (c *ChannelLimiters) get(channel string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[channel]; ok {
		return l
	}
	cfg, ok := c.configs[channel]
	if !ok || cfg.PerMinute <= 0 {
		cfg = c.fallback
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	l := rate.NewLimiter(rate.Limit(cfg.PerMinute/60.0), cfg.Burst)
	c.limiters[channel] = l
	return l
}
