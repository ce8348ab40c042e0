// Package score ranks candidate URLs in two tiers: an identity-validity
// gate that drops pages which are plausibly not about the target wine at
// all, and a fetch-priority ordering among the survivors. Market-aware
// per-lens caps then bound how much of any one source category reaches
// extraction.
package score

import (
	"net/url"
	"sort"
	"strings"

	"github.com/cellarist/winesleuth/internal/search"
	"github.com/cellarist/winesleuth/internal/wine"
)

// IdentityThreshold is the precision-token overlap below which a
// candidate is considered to be about some other wine and dropped.
const IdentityThreshold = 0.3

// Candidate is a URL surviving dedup, carrying its scores. Candidates are
// immutable after Rank and discarded at request end.
type Candidate struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Snippet  string    `json:"snippet,omitempty"`
	Domain   string    `json:"domain"`
	SourceID string    `json:"source_id,omitempty"`
	Lens     wine.Lens `json:"lens"`
	// Credibility is the source's static trust weight.
	Credibility float64 `json:"credibility"`
	Position    int     `json:"position,omitempty"`

	IdentityScore  float64 `json:"identity_score"`
	IdentityValid  bool    `json:"identity_valid"`
	FetchPriority  float64 `json:"fetch_priority"`
	DiscoveryScore float64 `json:"discovery_score"`
}

// Build converts deduplicated search results into candidates, resolving
// each URL's domain against the source catalog and recognizing
// producer-owned domains by the producer name tokens.
func Build(results []search.Result, toks wine.Tokens) []Candidate {
	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		u, err := url.Parse(strings.TrimSpace(r.URL))
		if err != nil || u.Host == "" {
			continue
		}
		c := Candidate{
			URL:      r.URL,
			Title:    r.Title,
			Snippet:  r.Snippet,
			Domain:   strings.ToLower(strings.TrimPrefix(u.Hostname(), "www.")),
			Position: r.Position,
		}
		if src, ok := wine.ByDomain(c.Domain); ok {
			c.SourceID = src.ID
			c.Lens = src.Lens
			c.Credibility = src.Credibility
		} else if isProducerDomain(c.Domain, toks.Producer) {
			c.SourceID = "producer:" + c.Domain
			c.Lens = wine.LensProducer
			c.Credibility = 0.75
		} else {
			c.Lens = wine.LensAggregator
			c.Credibility = 0.3
		}
		out = append(out, c)
	}
	return out
}

// Rank scores, gates, sorts and caps the pool. When the identity gate
// rejects every candidate the legacy single-score heuristic ranks the raw
// pool instead, so a thin discovery run still returns its best guesses.
func Rank(cands []Candidate, w wine.Wine, toks wine.Tokens, market string) []Candidate {
	scored := make([]Candidate, len(cands))
	copy(scored, cands)
	for i := range scored {
		scoreCandidate(&scored[i], toks)
	}

	valid := scored[:0:0]
	for _, c := range scored {
		if c.IdentityValid {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return LegacyRank(scored, w, toks)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].IdentityScore != valid[j].IdentityScore {
			return valid[i].IdentityScore > valid[j].IdentityScore
		}
		if valid[i].FetchPriority != valid[j].FetchPriority {
			return valid[i].FetchPriority > valid[j].FetchPriority
		}
		return valid[i].DiscoveryScore > valid[j].DiscoveryScore
	})
	return applyCaps(valid, market)
}

func scoreCandidate(c *Candidate, toks wine.Tokens) {
	text := candidateText(*c)
	c.IdentityScore = overlap(text, toks.Precision)
	c.IdentityValid = c.IdentityScore >= IdentityThreshold
	c.DiscoveryScore = overlap(text, toks.Discovery)
	c.FetchPriority = fetchPriority(*c, toks)
}

// fetchPriority orders already-valid candidates by how cheap and
// authoritative a fetch would be.
func fetchPriority(c Candidate, toks wine.Tokens) float64 {
	p := 0.0
	src, known := wine.ByDomain(c.Domain)
	if known && src.Credibility >= 0.8 {
		p += 2
	}
	if c.Lens == wine.LensProducer || isProducerDomain(c.Domain, toks.Producer) {
		p += 1.5
	}
	if known && src.Lens == wine.LensCompetition {
		p += 1.5
	}
	if known && src.Unlocker {
		p -= 1
	}
	if c.Position > 0 && c.Position <= 10 {
		p += float64(10-c.Position) * 0.05
	}
	return p
}

// applyCaps enforces the market's per-lens diversity table and the global
// cap, preserving rank order within each lens.
func applyCaps(sorted []Candidate, market string) []Candidate {
	caps := wine.LensCaps(market)
	perLens := map[wine.Lens]int{}
	out := make([]Candidate, 0, wine.GlobalCap)
	for _, c := range sorted {
		if len(out) >= wine.GlobalCap {
			break
		}
		if max, ok := caps[c.Lens]; ok && perLens[c.Lens] >= max {
			continue
		}
		perLens[c.Lens]++
		out = append(out, c)
	}
	return out
}

// Relevance reports the precision-token overlap of a raw search result.
// The orchestrator aggregates this into a run confidence value while
// searches are still in flight, before candidates exist.
func Relevance(r search.Result, toks wine.Tokens) float64 {
	c := Candidate{URL: r.URL, Title: r.Title, Snippet: r.Snippet}
	return overlap(candidateText(c), toks.Precision)
}

// overlap is the fraction of wanted tokens present in text.
func overlap(textTokens map[string]struct{}, wanted []string) float64 {
	if len(wanted) == 0 {
		return 0
	}
	hits := 0
	for _, w := range wanted {
		if _, ok := textTokens[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(wanted))
}

func candidateText(c Candidate) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range wine.Tokenize(c.Title + " " + c.Snippet + " " + pathTokens(c.URL)) {
		set[t] = struct{}{}
	}
	return set
}

func pathTokens(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.NewReplacer("/", " ", "-", " ", "_", " ", ".", " ").Replace(u.Path)
}

func isProducerDomain(domain string, producerTokens []string) bool {
	bare := strings.NewReplacer("-", "", ".", "").Replace(domain)
	for _, t := range producerTokens {
		if len(t) >= 4 && strings.Contains(bare, t) {
			return true
		}
	}
	return false
}
