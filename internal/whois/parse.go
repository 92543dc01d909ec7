package whois

import (
	"regexp"
	"strings"
	"time"
)

// Record is the subset of a WHOIS response the extractor uses.
type Record struct {
	// Domain is the registrable domain that was queried.
	Domain     string
	Server     string
	DomainName string
	Registrar  string
	Registrant string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	// Referral is the registrar WHOIS server named by a thin registry.
	Referral string
}

// Empty reports whether the registry returned nothing usable.
func (r Record) Empty() bool {
	return r.DomainName == "" && r.Registrar == "" && r.Registrant == "" &&
		r.CreatedAt.IsZero() && r.ExpiresAt.IsZero()
}

// Merge fills fields missing from r with values from other.
func (r Record) Merge(other Record) Record {
	if r.DomainName == "" {
		r.DomainName = other.DomainName
	}
	if r.Registrar == "" {
		r.Registrar = other.Registrar
	}
	if r.Registrant == "" {
		r.Registrant = other.Registrant
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = other.CreatedAt
	}
	if r.ExpiresAt.IsZero() {
		r.ExpiresAt = other.ExpiresAt
	}
	return r
}

var (
	ianaReferRe  = regexp.MustCompile(`(?im)^\s*(?:refer|whois)[ \t]*:[ \t]*(\S+)`)
	referralRe   = regexp.MustCompile(`(?im)^\s*registrar whois server[ \t]*:[ \t]*(\S+)`)
	domainNameRe = regexp.MustCompile(`(?im)^\s*domain(?: name)?[ \t]*:[ \t]*(\S+)`)
	registrarRe  = regexp.MustCompile(`(?im)^\s*(?:registrar|sponsoring registrar|registrar[- ]name)[ \t]*:[ \t]*(.+)$`)
	registrantRe = regexp.MustCompile(`(?im)^\s*(?:registrant(?: name| organization)?|owner|holder)[ \t]*:[ \t]*(.+)$`)
	createdRe    = regexp.MustCompile(`(?im)^\s*(?:creation date|created on|created|registered on|registration time|domain registration date|registered)[ \t]*:[ \t]*(.+)$`)
	expiresRe    = regexp.MustCompile(`(?im)^\s*(?:registry expiry date|registrar registration expiration date|expiration date|expiry date|expires on|expires|paid-till|expire date|renewal date)[ \t]*:[ \t]*(.+)$`)
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"02-Jan-2006 15:04:05 MST",
	"2006.01.02",
	"2006/01/02",
	"02.01.2006",
	"02/01/2006",
	"January 2 2006",
	"Mon Jan 2 15:04:05 MST 2006",
}

// Parse extracts a Record from a raw WHOIS response. Unknown fields are left
// zero.
func Parse(raw string) Record {
	return Record{
		DomainName: strings.ToLower(firstMatch(domainNameRe, raw)),
		Registrar:  firstMatch(registrarRe, raw),
		Registrant: firstMatch(registrantRe, raw),
		CreatedAt:  parseDate(firstMatch(createdRe, raw)),
		ExpiresAt:  parseDate(firstMatch(expiresRe, raw)),
		Referral:   firstMatch(referralRe, raw),
	}
}

func firstMatch(re *regexp.Regexp, raw string) string {
	for _, m := range re.FindAllStringSubmatch(raw, -1) {
		if v := strings.TrimSpace(m[1]); v != "" && !redacted(v) {
			return v
		}
	}
	return ""
}

func redacted(v string) bool {
	lower := strings.ToLower(v)
	return strings.Contains(lower, "redacted") || strings.Contains(lower, "not disclosed")
}

// parseDate tries the full value, then its first field, against the known
// registry layouts.
func parseDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	candidates := []string{v}
	if f := strings.Fields(v); len(f) > 1 {
		candidates = append(candidates, f[0])
	}
	for _, c := range candidates {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
