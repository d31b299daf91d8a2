// Package hunter provides a client for the Hunter.io enrichment API.
package hunter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Hunter.io operations the engine uses.
type Client interface {
	// DomainSearch returns the organization profile and email addresses
	// Hunter holds for a domain.
	DomainSearch(ctx context.Context, domain string) (*DomainSearchResponse, error)
	// VerifyEmail checks deliverability of a single address.
	VerifyEmail(ctx context.Context, email string) (*VerifyResponse, error)
}

// DomainSearchResponse is the parsed domain-search payload.
type DomainSearchResponse struct {
	Data DomainData `json:"data"`
	Meta Meta       `json:"meta"`
}

// DomainData holds the organization profile for a domain.
type DomainData struct {
	Domain       string  `json:"domain"`
	Organization string  `json:"organization"`
	Industry     string  `json:"industry"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	PhoneNumber  string  `json:"phone_number"`
	Emails       []Email `json:"emails"`
}

// Email is one address Hunter found on the domain.
type Email struct {
	Value      string `json:"value"`
	Type       string `json:"type"`
	Confidence int    `json:"confidence"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Position   string `json:"position"`
}

// VerifyResponse is the parsed email-verifier payload.
type VerifyResponse struct {
	Data VerifyData `json:"data"`
}

// VerifyData holds the deliverability verdict for one address.
type VerifyData struct {
	Status string `json:"status"` // valid, invalid, accept_all, unknown
	Result string `json:"result"` // deliverable, undeliverable, risky
	Score  int    `json:"score"`
	Email  string `json:"email"`
}

// Deliverable reports whether Hunter considers the address safe to send to.
func (d VerifyData) Deliverable() bool {
	return d.Result == "deliverable" || d.Status == "valid"
}

// Meta carries request accounting from Hunter.
type Meta struct {
	Results int `json:"results"`
}

// StatusError is returned for non-2xx responses so callers can classify
// the failure by status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hunter: status %d: %s", e.StatusCode, e.Body)
}

// Option configures the Hunter client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Hunter.io client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.hunter.io/v2",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) DomainSearch(ctx context.Context, domain string) (*DomainSearchResponse, error) {
	reqURL := fmt.Sprintf("%s/domain-search?domain=%s&api_key=%s",
		c.baseURL, url.QueryEscape(domain), url.QueryEscape(c.apiKey))

	var result DomainSearchResponse
	if err := c.getJSON(ctx, reqURL, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) VerifyEmail(ctx context.Context, email string) (*VerifyResponse, error) {
	reqURL := fmt.Sprintf("%s/email-verifier?email=%s&api_key=%s",
		c.baseURL, url.QueryEscape(email), url.QueryEscape(c.apiKey))

	var result VerifyResponse
	if err := c.getJSON(ctx, reqURL, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "hunter: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "hunter: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "hunter: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "hunter: unmarshal response")
	}
	return nil
}
