package cache

import (
	"strings"
	"time"
)

// Kind identifies which logical table an entry belongs to, for TTL
// resolution.
type Kind int

const (
	KindSearch Kind = iota
	KindPage
	KindExtraction
)

// TTLPolicy resolves how long an entry stays fresh. Resolution order: a
// per-domain override first, then the short TTL for any non-valid status,
// then the kind's default. Callers may still pass an explicit override to
// Put, which wins over everything here.
type TTLPolicy struct {
	Search     time.Duration
	Page       time.Duration
	Extraction time.Duration
	// Degraded applies to blocked/timeout/error/empty/gone entries so a
	// failing source can be retried soon.
	Degraded time.Duration
	// DomainOverrides shortens TTLs for domains known to flap, keyed by
	// registrable domain.
	DomainOverrides map[string]time.Duration
}

// DefaultTTLPolicy mirrors the production defaults: search results a week,
// pages a day, extractions a month, failures two hours.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Search:     7 * 24 * time.Hour,
		Page:       24 * time.Hour,
		Extraction: 30 * 24 * time.Hour,
		Degraded:   2 * time.Hour,
	}
}

// For resolves the TTL for one entry.
func (p TTLPolicy) For(kind Kind, status Status, domain string) time.Duration {
	if d, ok := p.domainOverride(domain); ok {
		return d
	}
	if status != StatusValid {
		if p.Degraded > 0 {
			return p.Degraded
		}
		return 2 * time.Hour
	}
	switch kind {
	case KindSearch:
		return p.Search
	case KindExtraction:
		return p.Extraction
	default:
		return p.Page
	}
}

func (p TTLPolicy) domainOverride(domain string) (time.Duration, bool) {
	if domain == "" || len(p.DomainOverrides) == 0 {
		return 0, false
	}
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
	if d, ok := p.DomainOverrides[domain]; ok {
		return d, true
	}
	// Subdomain entries inherit their parent's override.
	for parent, d := range p.DomainOverrides {
		if strings.HasSuffix(domain, "."+parent) {
			return d, true
		}
	}
	return 0, false
}
