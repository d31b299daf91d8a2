package hunter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domain-search", r.URL.Path)
		assert.Equal(t, "acme.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": {
				"domain": "acme.com",
				"organization": "Acme Corporation",
				"industry": "Manufacturing",
				"city": "Austin",
				"state": "TX",
				"phone_number": "555-0100",
				"emails": [
					{"value": "info@acme.com", "type": "generic", "confidence": 90},
					{"value": "jo@acme.com", "type": "personal", "confidence": 85,
					 "first_name": "Jo", "last_name": "Smith", "position": "Owner"}
				]
			},
			"meta": {"results": 2}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.DomainSearch(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corporation", resp.Data.Organization)
	assert.Equal(t, "Austin", resp.Data.City)
	require.Len(t, resp.Data.Emails, 2)
	assert.Equal(t, "jo@acme.com", resp.Data.Emails[1].Value)
	assert.Equal(t, 85, resp.Data.Emails[1].Confidence)
	assert.Equal(t, 2, resp.Meta.Results)
}

func TestVerifyEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email-verifier", r.URL.Path)
		assert.Equal(t, "jo@acme.com", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"data": {"status": "valid", "result": "deliverable", "score": 92, "email": "jo@acme.com"}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.VerifyEmail(context.Background(), "jo@acme.com")
	require.NoError(t, err)
	assert.True(t, resp.Data.Deliverable())
	assert.Equal(t, 92, resp.Data.Score)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errors": [{"id": "too_many_requests"}]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.DomainSearch(context.Background(), "acme.com")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 429, se.StatusCode)
	assert.Contains(t, se.Body, "too_many_requests")
	assert.Contains(t, se.Error(), "429")
}

func TestDeliverable(t *testing.T) {
	assert.True(t, VerifyData{Result: "deliverable"}.Deliverable())
	assert.True(t, VerifyData{Status: "valid", Result: "risky"}.Deliverable())
	assert.False(t, VerifyData{Status: "unknown", Result: "risky"}.Deliverable())
}
