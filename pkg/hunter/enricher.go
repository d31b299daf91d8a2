package hunter

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/adapter"
	"github.com/sells-group/outreach-engine/internal/model"
)

// Enricher adapts the Hunter client to the engine's enrichment interface.
type Enricher struct {
	client Client
	now    func() time.Time
}

// NewEnricher wraps a Hunter client.
func NewEnricher(c Client) *Enricher {
	return &Enricher{client: c, now: time.Now}
}

// WithNow overrides the clock. Test hook.
func (e *Enricher) WithNow(now func() time.Time) *Enricher {
	e.now = now
	return e
}

func (e *Enricher) Name() string { return "hunter" }

// Enrich looks the lead's domain up in Hunter and returns an observation
// with the organization profile, best email, and a verification verdict.
func (e *Enricher) Enrich(ctx context.Context, hints adapter.IdentityHints) (*model.Observation, error) {
	domain := hints.Domain
	if domain == "" {
		domain = domainFrom(hints)
	}
	if domain == "" {
		return nil, eris.Wrap(adapter.ErrNotFound, "hunter: no domain to search")
	}

	resp, err := e.client.DomainSearch(ctx, domain)
	if err != nil {
		return nil, classify(err)
	}

	fields := make(map[string]any)
	conf := make(map[string]float64)
	if resp.Data.Organization != "" {
		fields["name"] = resp.Data.Organization
	}
	if resp.Data.Industry != "" {
		fields["industry"] = resp.Data.Industry
	}
	if resp.Data.City != "" {
		fields["city"] = resp.Data.City
	}
	if resp.Data.State != "" {
		fields["state"] = resp.Data.State
	}
	if resp.Data.PhoneNumber != "" {
		fields["phone"] = resp.Data.PhoneNumber
	}

	if best := bestEmail(resp.Data.Emails); best != nil {
		fields["email"] = best.Value
		conf["email"] = float64(best.Confidence) / 100.0
		if best.FirstName != "" {
			fields["contact_name"] = strings.TrimSpace(best.FirstName + " " + best.LastName)
		}
		if v, err := e.client.VerifyEmail(ctx, best.Value); err == nil {
			fields["email_verified"] = v.Data.Deliverable()
		}
	}

	if len(fields) == 0 {
		return nil, eris.Wrap(adapter.ErrNotFound, "hunter: domain "+domain)
	}

	return &model.Observation{
		Source:          "hunter",
		ObservedAt:      e.now(),
		Confidence:      0.8,
		Fields:          fields,
		FieldConfidence: conf,
	}, nil
}

// bestEmail prefers generic addresses last and higher confidence first.
func bestEmail(emails []Email) *Email {
	var best *Email
	for i := range emails {
		e := &emails[i]
		if best == nil {
			best = e
			continue
		}
		if e.Type == "personal" && best.Type != "personal" {
			best = e
			continue
		}
		if e.Type == best.Type && e.Confidence > best.Confidence {
			best = e
		}
	}
	return best
}

// classify maps transport failures onto the engine's error taxonomy.
func classify(err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			return eris.Wrap(adapter.ErrRateLimited, "hunter")
		case se.StatusCode >= 500:
			return eris.Wrap(adapter.ErrProviderUnavailable, "hunter")
		case se.StatusCode == 404:
			return eris.Wrap(adapter.ErrNotFound, "hunter")
		}
	}
	return err
}

func domainFrom(hints adapter.IdentityHints) string {
	if hints.Website != "" {
		d := hints.Website
		d = strings.TrimPrefix(d, "https://")
		d = strings.TrimPrefix(d, "http://")
		d = strings.TrimPrefix(d, "www.")
		if i := strings.IndexAny(d, "/?#"); i >= 0 {
			d = d[:i]
		}
		return d
	}
	if at := strings.Index(hints.Email, "@"); at >= 0 {
		return hints.Email[at+1:]
	}
	return ""
}
