// Package app wires the discovery pipeline together from configuration:
// cache store, circuit breakers, proxy clients, fetcher, orchestrator and
// the extraction collaborator.
package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/cellarist/winesleuth/internal/breaker"
	"github.com/cellarist/winesleuth/internal/budget"
	"github.com/cellarist/winesleuth/internal/cache"
	"github.com/cellarist/winesleuth/internal/dedup"
	"github.com/cellarist/winesleuth/internal/discover"
	"github.com/cellarist/winesleuth/internal/extract"
	"github.com/cellarist/winesleuth/internal/fetch"
	"github.com/cellarist/winesleuth/internal/producer"
	"github.com/cellarist/winesleuth/internal/score"
	"github.com/cellarist/winesleuth/internal/search"
	"github.com/cellarist/winesleuth/internal/wine"
)

// App owns the process-wide services shared across discovery runs.
type App struct {
	cfg        Config
	store      *cache.Store
	breakers   *breaker.Registry
	discoverer *discover.Discoverer
	fetcher    *fetch.Fetcher
	extractor  *extract.Extractor
}

// Evidence is one candidate after the fetch and extraction passes.
type Evidence struct {
	Candidate score.Candidate `json:"candidate"`
	Fetched   bool            `json:"fetched"`
	Blocked   bool            `json:"blocked,omitempty"`
	Status    cache.Status    `json:"status,omitempty"`
	// Extraction is present when the page yielded structured ratings.
	Extraction *extract.Result `json:"extraction,omitempty"`
}

// Output is the result of one end-to-end run.
type Output struct {
	Report   discover.Report `json:"report"`
	Evidence []Evidence      `json:"evidence,omitempty"`
}

// New builds the service graph. The cache store is the only resource that
// needs closing; Close releases it.
func New(ctx context.Context, cfg Config) (*App, error) {
	policy := cache.DefaultTTLPolicy()
	if cfg.SearchTTL > 0 {
		policy.Search = cfg.SearchTTL
	}
	if cfg.PageTTL > 0 {
		policy.Page = cfg.PageTTL
	}
	if cfg.ExtractionTTL > 0 {
		policy.Extraction = cfg.ExtractionTTL
	}
	if cfg.DegradedTTL > 0 {
		policy.Degraded = cfg.DegradedTTL
	}
	if len(cfg.DomainTTLs) > 0 {
		policy.DomainOverrides = cfg.DomainTTLs
	}

	path := cfg.CachePath
	if path == "" {
		path = ".winesleuth/cache.db"
	}
	store, err := cache.Open(path, policy)
	if err != nil {
		return nil, err
	}

	httpClient := newHighThroughputHTTPClient()
	group := &dedup.Group{}

	client := &search.Client{
		Provider: &search.SERPProxy{
			BaseURL:    cfg.ProxyBaseURL,
			APIKey:     cfg.ProxyAPIKey,
			Zone:       cfg.SERPZone,
			HTTPClient: httpClient,
			Timeout:    cfg.SERPTimeout,
		},
		Cache: store,
		Dedup: group,
	}

	var unlocker *fetch.Unlocker
	if cfg.UnlockerZone != "" {
		unlocker = &fetch.Unlocker{
			BaseURL:    cfg.ProxyBaseURL,
			APIKey:     cfg.ProxyAPIKey,
			Zone:       cfg.UnlockerZone,
			HTTPClient: httpClient,
		}
	}
	fetcher := &fetch.Fetcher{
		HTTPClient:      httpClient,
		Cache:           store,
		Dedup:           group,
		Unlocker:        unlocker,
		BlockedDomains:  cfg.BlockedDomains,
		DirectTimeout:   cfg.DirectTimeout,
		UnlockerTimeout: cfg.UnlockerTimeout,
		DocumentTimeout: cfg.DocumentTimeout,
	}

	breakers := breaker.NewRegistry()
	a := &App{
		cfg:      cfg,
		store:    store,
		breakers: breakers,
		fetcher:  fetcher,
		discoverer: &discover.Discoverer{
			Search:              client,
			Producer:            &producer.Searcher{Client: client},
			Breakers:            breakers,
			Caps:                cfg.caps(),
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			TopN:                cfg.TopN,
		},
	}

	if !cfg.SkipExtraction && cfg.LLMModel != "" {
		transportCfg := openai.DefaultConfig(cfg.LLMAPIKey)
		if cfg.LLMBaseURL != "" {
			transportCfg.BaseURL = cfg.LLMBaseURL
		}
		transportCfg.HTTPClient = httpClient
		ai := openai.NewClientWithConfig(transportCfg)
		a.extractor = &extract.Extractor{
			Client:          ai,
			Cache:           store,
			Model:           cfg.LLMModel,
			MaxContentChars: cfg.MaxPageChars,
		}

		// Best-effort preflight; extraction errors surface per page later.
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if models, err := ai.ListModels(pctx); err != nil {
			log.Warn().Err(err).Msg("model list failed; continuing")
		} else {
			log.Info().Int("count", len(models.Models)).Msg("extraction models available")
		}
	}

	return a, nil
}

func (a *App) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

func (cfg Config) caps() budget.Caps {
	return budget.Caps{
		MaxSearchCalls:     cfg.MaxSearchCalls,
		MaxDocumentFetches: cfg.MaxDocumentFetches,
		MaxBytes:           cfg.MaxBytes,
		MaxWallClock:       cfg.MaxWallClock,
	}
}

// Run executes one full request: discovery, then the fetch and extraction
// passes over the ranked candidates, all against a single budget.
func (a *App) Run(ctx context.Context, w wine.Wine) (Output, error) {
	b := budget.New(a.cfg.caps())
	report, err := a.discoverer.DiscoverWithBudget(ctx, w, a.cfg.Locale, b)
	if err != nil {
		return Output{Report: report}, err
	}

	out := Output{Report: report, Evidence: make([]Evidence, len(report.Candidates))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for i, c := range report.Candidates {
		i, c := i, c
		g.Go(func() error {
			ev := Evidence{Candidate: c}
			res := a.fetcher.Fetch(gctx, c.URL, a.cfg.MaxPageChars, b)
			ev.Fetched = res.Success
			ev.Blocked = res.Blocked
			ev.Status = res.Status
			if res.Success && a.extractor != nil {
				extracted, cached, err := a.extractor.Extract(gctx, w, c.URL, res.Content)
				if err != nil {
					log.Warn().Err(err).Str("url", c.URL).Msg("extraction failed")
				} else {
					log.Debug().Bool("cached", cached).Str("url", c.URL).Msg("extraction done")
					ev.Extraction = &extracted
				}
			}
			out.Evidence[i] = ev
			return nil
		})
	}
	_ = g.Wait()
	return out, ctx.Err()
}

// newHighThroughputHTTPClient returns an HTTP client tuned for parallel
// proxy traffic without client-side throttling.
func newHighThroughputHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   1024,
		MaxConnsPerHost:       0,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}
