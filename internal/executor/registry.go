package executor

import (
	"fmt"
	"sync"

	"github.com/sells-group/outreach-engine/internal/adapter"
)

// Registry maps step actions to the adapters that carry them out.
// Senders are keyed by channel; scrapers and enrichers by provider name.
type Registry struct {
	mu        sync.RWMutex
	senders   map[string]adapter.Sender
	scrapers  map[string]adapter.Scraper
	enrichers []adapter.Enricher
}

func NewRegistry() *Registry {
	return &Registry{
		senders:  make(map[string]adapter.Sender),
		scrapers: make(map[string]adapter.Scraper),
	}
}

// RegisterSender binds a sender to a channel, replacing any previous one.
func (r *Registry) RegisterSender(channel string, s adapter.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = s
}

func (r *Registry) RegisterScraper(s adapter.Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrapers[s.Name()] = s
}

func (r *Registry) RegisterEnricher(e adapter.Enricher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrichers = append(r.enrichers, e)
}

// Sender returns the sender for a channel. A missing sender is a
// configuration defect, not a provider outage.
func (r *Registry) Sender(channel string) (adapter.Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("executor: no sender registered for channel %q", channel)
	}
	return s, nil
}

// Scraper returns the scraper named by a step's provider, or the sole
// registered scraper when the step names none.
func (r *Registry) Scraper(name string) (adapter.Scraper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name != "" {
		if s, ok := r.scrapers[name]; ok {
			return s, nil
		}
		return nil, fmt.Errorf("executor: no scraper registered with name %q", name)
	}
	if len(r.scrapers) == 1 {
		for _, s := range r.scrapers {
			return s, nil
		}
	}
	return nil, fmt.Errorf("executor: scrape step must name a provider when %d scrapers are registered", len(r.scrapers))
}

// Enrichers returns the registered enrichers in registration order.
func (r *Registry) Enrichers() []adapter.Enricher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]adapter.Enricher, len(r.enrichers))
	copy(out, r.enrichers)
	return out
}
