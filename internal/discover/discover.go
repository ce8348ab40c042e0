// Package discover runs the evidence discovery pipeline for one wine:
// targeted per-source searches fanned out in parallel, a producer
// micro-search racing a confidence check, conditional broad and
// variant-retry stages, then URL dedup, ranking and market capping.
package discover

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cellarist/winesleuth/internal/breaker"
	"github.com/cellarist/winesleuth/internal/budget"
	"github.com/cellarist/winesleuth/internal/producer"
	"github.com/cellarist/winesleuth/internal/score"
	"github.com/cellarist/winesleuth/internal/search"
	"github.com/cellarist/winesleuth/internal/wine"
)

const (
	// DefaultConfidence is the targeted-search confidence above which the
	// producer micro-search is cancelled early. Tuned, not load-bearing.
	DefaultConfidence = 0.7
	// DefaultMinHits is the pool size below which the broad and
	// variant-retry stages run.
	DefaultMinHits = 5
	// DefaultTopN bounds the final candidate list.
	DefaultTopN = 10
)

// Discoverer orchestrates one discovery run per call. It is safe for
// concurrent use; the breaker registry and cache behind the search client
// are the only state shared across runs.
type Discoverer struct {
	Search   *search.Client
	Producer *producer.Searcher
	Breakers *breaker.Registry
	Caps     budget.Caps

	// ConfidenceThreshold overrides DefaultConfidence when > 0.
	ConfidenceThreshold float64
	// MinHits overrides DefaultMinHits when > 0.
	MinHits int
	// TopN overrides DefaultTopN when > 0.
	TopN int
}

// Coverage counts hits per discovery stage, for observability.
type Coverage struct {
	Targeted int `json:"targeted"`
	Broad    int `json:"broad"`
	Variant  int `json:"variant"`
	Producer int `json:"producer"`
}

// Report is the outcome of a discovery run. A fully failed run carries an
// empty candidate list and its counters, never an error.
type Report struct {
	Wine       wine.Wine         `json:"wine"`
	Market     string            `json:"market,omitempty"`
	Candidates []score.Candidate `json:"candidates"`
	Coverage   Coverage          `json:"coverage"`
	Confidence float64           `json:"confidence"`
	// Raw is the first targeted provider payload, preserved for later
	// extraction tiers (AI overview, knowledge graph).
	Raw *search.Payload `json:"-"`
	// Usage is the budget consumed by the run.
	Usage budget.Usage `json:"usage"`
}

// Discover runs the full pipeline for one wine. The only error it returns
// is ctx cancellation; upstream failures degrade to a thinner report.
func (d *Discoverer) Discover(ctx context.Context, w wine.Wine, locale string) (Report, error) {
	return d.DiscoverWithBudget(ctx, w, locale, budget.New(d.Caps))
}

// DiscoverWithBudget runs discovery against a caller-owned budget, so the
// enclosing request can spend the remainder on page fetches.
func (d *Discoverer) DiscoverWithBudget(ctx context.Context, w wine.Wine, locale string, b *budget.Budget) (Report, error) {
	toks := wine.DeriveTokens(w)
	market := wine.OriginMarket(w)
	query := w.DisplayName()

	rep := Report{Wine: w, Market: market}
	if strings.TrimSpace(query) == "" {
		log.Warn().Msg("empty wine description, nothing to discover")
		return rep, nil
	}

	// Producer micro-search runs alongside the targeted fan-out and is
	// cancelled once targeted confidence clears the threshold.
	prodCtx, cancelProd := context.WithCancel(ctx)
	defer cancelProd()
	prodCh := make(chan []search.Result, 1)
	go func() {
		if d.Producer == nil {
			prodCh <- nil
			return
		}
		prodCh <- d.Producer.Run(prodCtx, w, b, locale)
	}()

	targeted, covered, raw := d.runTargeted(ctx, query, market, b, locale)
	rep.Coverage.Targeted = len(targeted)
	rep.Raw = raw

	rep.Confidence = Confidence(targeted, toks)
	if rep.Confidence >= d.confidenceThreshold() {
		log.Debug().Float64("confidence", rep.Confidence).Msg("cancelling producer search")
		cancelProd()
	}
	prodResults := <-prodCh
	rep.Coverage.Producer = len(prodResults)

	pool := [][]search.Result{targeted, prodResults}

	if len(targeted)+len(prodResults) < d.minHits() {
		broad := d.runBroad(ctx, query, market, covered, b, locale)
		rep.Coverage.Broad = len(broad)
		pool = append(pool, broad)
	}

	if totalHits(pool) < d.minHits() && b.HasWallClock() {
		variant := d.runVariants(ctx, w, b, locale)
		rep.Coverage.Variant = len(variant)
		pool = append(pool, variant)
	}

	merged := mergeResults(pool)
	ranked := score.Rank(score.Build(merged, toks), w, toks, market)
	if n := d.topN(); len(ranked) > n {
		ranked = ranked[:n]
	}
	rep.Candidates = ranked
	rep.Usage = b.Snapshot()

	log.Info().
		Int("candidates", len(rep.Candidates)).
		Int("targeted", rep.Coverage.Targeted).
		Int("broad", rep.Coverage.Broad).
		Int("variant", rep.Coverage.Variant).
		Int("producer", rep.Coverage.Producer).
		Float64("confidence", rep.Confidence).
		Msg("discovery done")
	return rep, ctx.Err()
}

// runTargeted fans one query out per market source, guarded by the
// per-source circuit breaker. Returns the pooled results, the set of
// domains actually queried, and the first provider payload.
func (d *Discoverer) runTargeted(ctx context.Context, query, market string, b *budget.Budget, locale string) ([]search.Result, map[string]struct{}, *search.Payload) {
	var (
		mu      sync.Mutex
		pooled  []search.Result
		raw     *search.Payload
		covered = map[string]struct{}{}
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range wine.ForMarket(market) {
		src := src
		g.Go(func() error {
			if d.Breakers != nil && !d.Breakers.Allow(src.ID) {
				log.Info().Str("source", src.ID).Msg("circuit open, skipping source")
				return nil
			}
			results, payload, err := d.Search.Search(gctx, query, src.Domains, search.QueryTargeted, b, locale)
			if err != nil {
				// Cancellation is the caller's doing; only failures the
				// source can be blamed for count against its circuit.
				if d.Breakers != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
					d.Breakers.RecordFailure(src.ID)
				}
				log.Warn().Err(err).Str("source", src.ID).Msg("targeted search failed")
				return nil
			}
			if d.Breakers != nil {
				d.Breakers.RecordSuccess(src.ID)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range results {
				r.Source = src.ID
				pooled = append(pooled, r)
			}
			for _, dom := range src.Domains {
				covered[dom] = struct{}{}
			}
			if raw == nil && payload != nil && len(payload.Raw) > 0 {
				raw = payload
			}
			return nil
		})
	}
	_ = g.Wait()
	return pooled, covered, raw
}

// runBroad issues one multi-domain query against catalog domains the
// targeted stage did not cover.
func (d *Discoverer) runBroad(ctx context.Context, query, market string, covered map[string]struct{}, b *budget.Budget, locale string) []search.Result {
	var domains []string
	for _, src := range wine.ForMarket(market) {
		for _, dom := range src.Domains {
			if _, ok := covered[dom]; !ok {
				domains = append(domains, dom)
			}
		}
	}
	if len(domains) == 0 {
		return nil
	}
	results, _, err := d.Search.Search(ctx, query, domains, search.QueryBroad, b, locale)
	if err != nil {
		log.Warn().Err(err).Msg("broad search failed")
		return nil
	}
	return results
}

// runVariants retries with looser name phrasings until the pool is deep
// enough or the wall clock runs out.
func (d *Discoverer) runVariants(ctx context.Context, w wine.Wine, b *budget.Budget, locale string) []search.Result {
	var out []search.Result
	for _, q := range wine.Variants(w) {
		if ctx.Err() != nil || !b.HasWallClock() {
			break
		}
		results, _, err := d.Search.Search(ctx, q, nil, search.QueryVariant, b, locale)
		if err != nil {
			log.Warn().Err(err).Str("query", q).Msg("variant search failed")
			continue
		}
		out = append(out, results...)
		if len(out) >= d.minHits() {
			break
		}
	}
	return out
}

// Confidence aggregates per-result relevance, weighted by the lens trust
// of each result's domain, over the top results of the targeted pool.
func Confidence(results []search.Result, toks wine.Tokens) float64 {
	const top = 5
	if len(results) == 0 {
		return 0
	}
	n := len(results)
	if n > top {
		n = top
	}
	var weighted, weights float64
	for _, r := range results[:n] {
		trust := wine.LensAggregator.Trust()
		if src, ok := wine.ByDomain(hostOf(r.URL)); ok {
			trust = src.Lens.Trust()
		}
		weighted += score.Relevance(r, toks) * trust
		weights += trust
	}
	if weights == 0 {
		return 0
	}
	return weighted / weights
}

// mergeResults canonicalizes URLs, strips common tracking parameters, and
// de-duplicates exact URLs across stage pools, preserving stage order.
func mergeResults(groups [][]search.Result) []search.Result {
	seen := map[string]struct{}{}
	out := make([]search.Result, 0, 64)
	for _, g := range groups {
		for _, r := range g {
			if r.URL == "" {
				continue
			}
			u, err := url.Parse(r.URL)
			if err != nil {
				continue
			}
			canonicalizeURL(u)
			key := u.String()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			r.URL = key
			out = append(out, r)
		}
	}
	return out
}

func canonicalizeURL(u *url.URL) {
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	q := u.Query()
	for _, p := range []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "utm_id", "gclid", "fbclid"} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
}

func totalHits(groups [][]search.Result) int {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	return n
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (d *Discoverer) confidenceThreshold() float64 {
	if d.ConfidenceThreshold > 0 {
		return d.ConfidenceThreshold
	}
	return DefaultConfidence
}

func (d *Discoverer) minHits() int {
	if d.MinHits > 0 {
		return d.MinHits
	}
	return DefaultMinHits
}

func (d *Discoverer) topN() int {
	if d.TopN > 0 {
		return d.TopN
	}
	return DefaultTopN
}
