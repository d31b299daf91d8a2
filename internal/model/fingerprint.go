package model

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Identity-bearing fields. Changing any of these requires recomputing
// the fingerprint.
var identityFields = map[string]bool{
	"email":   true,
	"website": true,
	"name":    true,
}

// IsIdentityField reports whether a field participates in the fingerprint.
func IsIdentityField(key string) bool {
	return identityFields[key]
}

// Fingerprint derives the dedup identity key from a lead's active
// attributes: normalized email wins outright when present, otherwise a
// domain|name composite. Returns "" when no identity-bearing field is set.
func Fingerprint(l *Lead) string {
	if email := NormalizeEmail(l.StringValue("email")); email != "" {
		return "email:" + email
	}

	domain := NormalizeDomain(l.StringValue("website"))
	name := NormalizeName(l.StringValue("name"))
	switch {
	case domain != "" && name != "":
		return "dn:" + domain + "|" + name
	case domain != "":
		return "domain:" + domain
	case name != "":
		return "name:" + name
	}
	return ""
}

var folder = cases.Fold()

// NormalizeEmail lowercases and trims an email address. Invalid-looking
// addresses (no @) normalize to "".
func NormalizeEmail(s string) string {
	s = strings.TrimSpace(folder.String(norm.NFKC.String(s)))
	if !strings.Contains(s, "@") {
		return ""
	}
	return s
}

// NormalizeDomain strips scheme, www prefix, path, and port from a URL or
// bare domain.
func NormalizeDomain(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

// NormalizeName case-folds a business name and collapses punctuation and
// common legal suffixes so "Acme, LLC" and "ACME llc" fingerprint alike.
func NormalizeName(s string) string {
	s = folder.String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteByte(' ')
		}
	}
	fields := strings.Fields(b.String())
	for len(fields) > 1 && legalSuffixes[fields[len(fields)-1]] {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

var legalSuffixes = map[string]bool{
	"llc": true, "inc": true, "incorporated": true, "corp": true,
	"corporation": true, "ltd": true, "co": true, "llp": true, "lp": true,
}
