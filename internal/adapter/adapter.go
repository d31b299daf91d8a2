// Package adapter defines the capability interfaces the engine depends on:
// enrichment providers, page scrapers, and outbound message transports.
// Implementations live under pkg/ or are supplied by the embedding service.
package adapter

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// IdentityHints carries whatever identity fragments are known about a lead
// when asking a provider for more.
type IdentityHints struct {
	Email   string `json:"email,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Name    string `json:"name,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	LeadID  string `json:"lead_id,omitempty"`
	Website string `json:"website,omitempty"`
}

// Enricher looks up a lead against an external data source and returns a
// partial observation.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, hints IdentityHints) (*model.Observation, error)
}

// Scraper fetches a rendered page and extracts lead fields from it.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context, target string) (*model.Observation, error)
}

// OutboundMessage is a fully rendered message ready for transport.
type OutboundMessage struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

// Sender delivers a message on a channel. A nil error means the transport
// accepted the message; it does not guarantee delivery.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg OutboundMessage) error
}

// Failure taxonomy. Transient failures route through the backoff
// controller; permanent ones fail the enrollment with the reason retained.

// ErrProviderUnavailable signals a provider outage. Transient.
var ErrProviderUnavailable = eris.New("provider unavailable")

// ErrRateLimited signals a provider 429 or local limiter rejection. Transient.
var ErrRateLimited = eris.New("rate limited")

// ErrFetchFailed signals a scrape that could not load the target. Transient.
var ErrFetchFailed = eris.New("fetch failed")

// ErrBlocked signals a scrape target that is actively refusing us. Permanent.
var ErrBlocked = eris.New("blocked by target")

// ErrNotFound signals a provider that has no record for the lead. Permanent
// in the context of a step that requires the data.
var ErrNotFound = eris.New("not found")

// RejectedError is a transport-level permanent rejection (hard bounce,
// invalid recipient).
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("message rejected: %s", e.Reason)
}

// Reject builds a RejectedError.
func Reject(reason string) error {
	return &RejectedError{Reason: reason}
}
