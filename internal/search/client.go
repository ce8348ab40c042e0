package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"github.com/cellarist/winesleuth/internal/budget"
	"github.com/cellarist/winesleuth/internal/cache"
	"github.com/cellarist/winesleuth/internal/dedup"
)

// MaxSiteDomains caps how many site: operators one query may carry; engine
// query length limits make longer disjunctions useless.
const MaxSiteDomains = 10

// Client is the cache-first search entry point used by every pipeline
// stage. Identical concurrent queries collapse into one provider call.
type Client struct {
	Provider Provider
	Cache    *cache.Store
	Dedup    *dedup.Group
	// Limit is the per-query result count requested from the provider.
	Limit int
}

// Search runs one engine query restricted to the given domains. A cache
// hit costs nothing; a miss reserves one search call from the budget and
// is skipped (empty result, nil error) when none remain. A zero-result
// response to an operator-bearing query is retried once with operators
// stripped.
func (c *Client) Search(ctx context.Context, query string, domains []string, qtype QueryType, b *budget.Budget, locale string) ([]Result, *Payload, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil, fmt.Errorf("empty query")
	}
	locale = normalizeLocale(locale)
	if len(domains) > MaxSiteDomains {
		domains = domains[:MaxSiteDomains]
	}
	key := cache.SearchKey(string(qtype), query, domains, locale)

	if c.Cache != nil {
		if e, err := c.Cache.GetSearch(ctx, key, false); err != nil {
			log.Warn().Err(err).Msg("search cache read failed")
		} else if e != nil {
			log.Debug().Str("query", query).Msg("search cache hit")
			return hitsToResults(e.Record.Hits, c.Provider.Name()), &Payload{
				Organic: hitsToResults(e.Record.Hits, c.Provider.Name()),
				Raw:     e.Record.Raw,
			}, nil
		}
	}

	v, shared, err := c.Dedup.Do(dedup.Key("search", string(qtype), query, strings.Join(domains, ","), locale), func() (any, error) {
		return c.searchMiss(ctx, key, query, domains, qtype, b, locale)
	})
	if err != nil {
		return nil, nil, err
	}
	if shared {
		log.Debug().Str("query", query).Msg("search call coalesced")
	}
	p := v.(*Payload)
	return p.Organic, p, nil
}

func (c *Client) searchMiss(ctx context.Context, key, query string, domains []string, qtype QueryType, b *budget.Budget, locale string) (*Payload, error) {
	if b != nil && !b.ReserveSearchCall() {
		log.Info().Str("query", query).Msg("search budget exhausted, skipping")
		return &Payload{}, nil
	}

	full := query
	if len(domains) > 0 {
		sites := make([]string, 0, len(domains))
		for _, d := range domains {
			sites = append(sites, "site:"+d)
		}
		full = query + " (" + strings.Join(sites, " OR ") + ")"
	}

	p, err := c.Provider.Search(ctx, full, domains, locale, c.limit())
	if err != nil {
		return nil, err
	}

	// Operator-heavy queries over-constrain niche engines; one bare retry
	// recovers most of those misses.
	if len(p.Organic) == 0 && hasOperators(query) {
		stripped := stripOperators(query)
		if stripped != query && (b == nil || b.ReserveSearchCall()) {
			log.Debug().Str("query", stripped).Msg("retrying without operators")
			if full = stripped; len(domains) > 0 {
				sites := make([]string, 0, len(domains))
				for _, d := range domains {
					sites = append(sites, "site:"+d)
				}
				full = stripped + " (" + strings.Join(sites, " OR ") + ")"
			}
			if p2, err2 := c.Provider.Search(ctx, full, domains, locale, c.limit()); err2 == nil {
				p = p2
			}
		}
	}

	if c.Cache != nil {
		status := cache.StatusValid
		if len(p.Organic) == 0 {
			status = cache.StatusEmpty
		}
		rec := cache.SearchRecord{
			QueryType: string(qtype),
			Query:     query,
			Domains:   domains,
			Locale:    locale,
			Hits:      resultsToHits(p.Organic),
			Raw:       p.Raw,
		}
		if err := c.Cache.PutSearch(ctx, key, rec, status, 0); err != nil {
			log.Warn().Err(err).Msg("search cache write failed")
		}
	}
	return p, nil
}

func (c *Client) limit() int {
	if c.Limit > 0 {
		return c.Limit
	}
	return 10
}

func normalizeLocale(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return "en"
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return strings.ToLower(locale)
	}
	return strings.ToLower(tag.String())
}

// hasOperators reports whether the query carries quoted phrases or
// filetype filters.
func hasOperators(q string) bool {
	if strings.Contains(q, `"`) {
		return true
	}
	for _, f := range strings.Fields(q) {
		if strings.HasPrefix(f, "filetype:") || strings.HasPrefix(f, "ext:") {
			return true
		}
	}
	return false
}

func stripOperators(q string) string {
	q = strings.ReplaceAll(q, `"`, "")
	fields := strings.Fields(q)
	out := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "filetype:") || strings.HasPrefix(f, "ext:") {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func hitsToResults(hits []cache.SearchHit, source string) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{Title: h.Title, URL: h.URL, Snippet: h.Snippet, Position: h.Position, Source: source})
	}
	return out
}

func resultsToHits(results []Result) []cache.SearchHit {
	out := make([]cache.SearchHit, 0, len(results))
	for _, r := range results {
		out = append(out, cache.SearchHit{Title: r.Title, URL: r.URL, Snippet: r.Snippet, Position: r.Position})
	}
	return out
}
