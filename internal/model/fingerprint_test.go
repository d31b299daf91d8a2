package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func leadWith(fields map[string]any) *Lead {
	l := NewLead("l1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	for k, v := range fields {
		l.Attributes[k] = Attribute{Active: AttributeValue{Value: v}}
	}
	return l
}

func TestFingerprint_EmailWins(t *testing.T) {
	l := leadWith(map[string]any{
		"email":   "Sales@Acme.COM",
		"website": "https://acme.com",
		"name":    "Acme LLC",
	})
	assert.Equal(t, "email:sales@acme.com", Fingerprint(l))
}

func TestFingerprint_DomainNameComposite(t *testing.T) {
	l := leadWith(map[string]any{
		"website": "https://www.acme.com/about",
		"name":    "Acme, LLC",
	})
	assert.Equal(t, "dn:acme.com|acme", Fingerprint(l))
}

func TestFingerprint_DomainOnly(t *testing.T) {
	l := leadWith(map[string]any{"website": "acme.com:8080"})
	assert.Equal(t, "domain:acme.com", Fingerprint(l))
}

func TestFingerprint_NameOnly(t *testing.T) {
	l := leadWith(map[string]any{"name": "ACME Incorporated"})
	assert.Equal(t, "name:acme", Fingerprint(l))
}

func TestFingerprint_Empty(t *testing.T) {
	l := leadWith(map[string]any{"phone": "555-0100"})
	assert.Equal(t, "", Fingerprint(l))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "bob@acme.com", NormalizeEmail("  BOB@Acme.com "))
	assert.Equal(t, "", NormalizeEmail("not-an-email"))
	assert.Equal(t, "", NormalizeEmail(""))
}

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "acme.com", NormalizeDomain("https://www.acme.com/path?q=1"))
	assert.Equal(t, "acme.com", NormalizeDomain("ACME.com"))
	assert.Equal(t, "acme.co.uk", NormalizeDomain("http://acme.co.uk:443"))
	assert.Equal(t, "", NormalizeDomain("localhost"))
	assert.Equal(t, "", NormalizeDomain(""))
}

func TestNormalizeName(t *testing.T) {
	// Same business, different legal dress.
	assert.Equal(t, NormalizeName("Acme, LLC"), NormalizeName("ACME llc"))
	assert.Equal(t, "acme plumbing", NormalizeName("Acme Plumbing Co."))
	assert.Equal(t, "acme", NormalizeName("Acme Corp"))
	// A name that is only a legal suffix keeps its last word.
	assert.Equal(t, "llc", NormalizeName("LLC"))
}

func TestIsIdentityField(t *testing.T) {
	assert.True(t, IsIdentityField("email"))
	assert.True(t, IsIdentityField("website"))
	assert.True(t, IsIdentityField("name"))
	assert.False(t, IsIdentityField("phone"))
}

func TestLeadHelpers(t *testing.T) {
	l := leadWith(map[string]any{
		"email":   "bob@acme.com",
		"replied": true,
	})
	l.Attributes["email"] = Attribute{Active: AttributeValue{Value: "bob@acme.com", Confidence: 0.9}}

	assert.Equal(t, "bob@acme.com", l.StringValue("email"))
	assert.True(t, l.BoolValue("replied"))
	assert.False(t, l.BoolValue("email"))
	assert.InDelta(t, 0.9, l.Confidence("email"), 0.001)
	assert.True(t, l.Has("email"))
	assert.False(t, l.Has("missing"))
	assert.Nil(t, l.Value("missing"))
}

func TestObservationConfidenceFor(t *testing.T) {
	obs := Observation{
		Confidence:      0.5,
		FieldConfidence: map[string]float64{"email": 0.93},
	}
	assert.InDelta(t, 0.93, obs.ConfidenceFor("email"), 0.001)
	assert.InDelta(t, 0.5, obs.ConfidenceFor("name"), 0.001)
}
