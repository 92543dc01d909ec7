package api

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Allowlist holds registrable domains whose URLs skip extraction. A host
// matches when it or its registrable domain is listed.
type Allowlist struct {
	domains map[string]struct{}
}

func NewAllowlist(entries []string) *Allowlist {
	al := &Allowlist{domains: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = normalizeHost(e)
		if e != "" {
			al.domains[e] = struct{}{}
		}
	}
	return al
}

// Contains reports whether host is allowlisted.
func (al *Allowlist) Contains(host string) bool {
	if al == nil || len(al.domains) == 0 {
		return false
	}
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	if _, ok := al.domains[host]; ok {
		return true
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	_, ok := al.domains[etld1]
	return ok
}

func (al *Allowlist) Len() int {
	if al == nil {
		return 0
	}
	return len(al.domains)
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
