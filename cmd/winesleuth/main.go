package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cellarist/winesleuth/internal/app"
	"github.com/cellarist/winesleuth/internal/producer"
	"github.com/cellarist/winesleuth/internal/wine"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		w          wine.Wine
		configPath string
		envPath    string
		outputPath string

		proxyBase    string
		proxyKey     string
		serpZone     string
		unlockerZone string
		llmBase      string
		llmModel     string
		llmKey       string

		maxSearchCalls int
		maxDocFetches  int
		maxBytes       int64
		maxWallClock   time.Duration
		cachePath      string
		blockedDomains string
		locale         string
		confidence     float64
		topN           int

		explain        bool
		skipExtraction bool
		verbose        bool
	)

	flag.StringVar(&w.Producer, "producer", "", "Producer name (required)")
	flag.StringVar(&w.Range, "range", "", "Product-line name, e.g. 'Gran Reserva 904'")
	flag.StringVar(&w.Variety, "variety", "", "Grape variety")
	flag.StringVar(&w.Country, "country", "", "Origin country")
	flag.StringVar(&w.Region, "region", "", "Origin region")
	flag.StringVar(&w.Type, "type", "", "Wine type: red, white, rose, sparkling, fortified")
	flag.IntVar(&w.Vintage, "vintage", 0, "Vintage year")

	flag.StringVar(&configPath, "config", "", "Path to YAML or JSON config file")
	flag.StringVar(&envPath, "env", ".env", "Path to dotenv file (missing file is ignored)")
	flag.StringVar(&outputPath, "output", "", "Write the JSON report to this path instead of stdout")

	flag.StringVar(&proxyBase, "proxy.base", "", "Scraping proxy base URL")
	flag.StringVar(&proxyKey, "proxy.key", "", "Scraping proxy API key")
	flag.StringVar(&serpZone, "proxy.serpZone", "", "SERP zone name")
	flag.StringVar(&unlockerZone, "proxy.unlockerZone", "", "Content-unlocker zone name (optional)")
	flag.StringVar(&llmBase, "llm.base", "", "OpenAI-compatible base URL for extraction")
	flag.StringVar(&llmModel, "llm.model", "", "Extraction model name")
	flag.StringVar(&llmKey, "llm.key", "", "API key for the extraction model")

	flag.IntVar(&maxSearchCalls, "budget.searchCalls", 0, "Max search calls per request (0 = default)")
	flag.IntVar(&maxDocFetches, "budget.documentFetches", 0, "Max document fetches per request (0 = default)")
	flag.Int64Var(&maxBytes, "budget.bytes", 0, "Max fetched bytes per request (0 = default)")
	flag.DurationVar(&maxWallClock, "budget.wallClock", 0, "Wall-clock budget per request (0 = default)")
	flag.StringVar(&cachePath, "cache.path", "", "SQLite cache path")
	flag.StringVar(&blockedDomains, "blocked", "", "Comma-separated domains to force through the unlocker")
	flag.StringVar(&locale, "locale", "", "Search locale, e.g. 'en' or 'es'")
	flag.Float64Var(&confidence, "confidence", 0, "Producer-search cancel threshold (0 = default)")
	flag.IntVar(&topN, "topN", 0, "Candidates to return (0 = default)")

	flag.BoolVar(&explain, "explain", false, "Print the discovery plan without any network calls")
	flag.BoolVar(&skipExtraction, "skip-extraction", false, "Stop after fetching; do not run the extraction model")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := app.LoadEnvFiles(envPath); err != nil {
		log.Error().Err(err).Msg("load env file")
		os.Exit(1)
	}

	cfg := app.Config{
		ProxyBaseURL:        proxyBase,
		ProxyAPIKey:         proxyKey,
		SERPZone:            serpZone,
		UnlockerZone:        unlockerZone,
		LLMBaseURL:          llmBase,
		LLMModel:            llmModel,
		LLMAPIKey:           llmKey,
		MaxSearchCalls:      maxSearchCalls,
		MaxDocumentFetches:  maxDocFetches,
		MaxBytes:            maxBytes,
		MaxWallClock:        maxWallClock,
		CachePath:           cachePath,
		Locale:              locale,
		ConfidenceThreshold: confidence,
		TopN:                topN,
		Explain:             explain,
		SkipExtraction:      skipExtraction,
		Verbose:             verbose,
	}
	if s := strings.TrimSpace(blockedDomains); s != "" {
		for _, d := range strings.Split(s, ",") {
			if d = strings.TrimSpace(d); d != "" {
				cfg.BlockedDomains = append(cfg.BlockedDomains, d)
			}
		}
	}
	// Overlays fill only unset fields, so apply env before the config
	// file: flags beat env, env beats file.
	app.ApplyEnvToConfig(&cfg)
	if configPath != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			log.Error().Err(err).Str("path", configPath).Msg("load config file")
			os.Exit(1)
		}
		app.ApplyFileConfig(&cfg, fc)
	}

	if strings.TrimSpace(w.Producer) == "" {
		fmt.Fprintln(os.Stderr, "usage: winesleuth -producer NAME [-range ...] [-vintage ...]")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if err := app.ValidateConfig(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	if explain {
		if err := writeJSON(outputPath, explainPlan(w, cfg)); err != nil {
			log.Error().Err(err).Msg("write plan")
			os.Exit(1)
		}
		return
	}

	out, err := run(cfg, w)
	if err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
	if err := writeJSON(outputPath, out); err != nil {
		log.Error().Err(err).Msg("write report")
		os.Exit(1)
	}
	// Exit code policy: 2 signals a clean run that found no evidence, so
	// batch callers can tell "nothing out there" from hard failures.
	if len(out.Report.Candidates) == 0 {
		os.Exit(2)
	}
}

func run(cfg app.Config, w wine.Wine) (app.Output, error) {
	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return app.Output{}, fmt.Errorf("init app: %w", err)
	}
	defer a.Close()
	return a.Run(ctx, w)
}

// plan is the -explain output: everything the run would do, computed
// without touching the network.
type plan struct {
	Wine            wine.Wine      `json:"wine"`
	DisplayName     string         `json:"display_name"`
	Market          string         `json:"market,omitempty"`
	Tokens          wine.Tokens    `json:"tokens"`
	TargetedSources []plannedQuery `json:"targeted_sources"`
	ProducerQueries []string       `json:"producer_queries,omitempty"`
	Variants        []string       `json:"variants,omitempty"`
	LensCaps        map[string]int `json:"lens_caps"`
	GlobalCap       int            `json:"global_cap"`
}

type plannedQuery struct {
	Source  string   `json:"source"`
	Lens    string   `json:"lens"`
	Domains []string `json:"domains"`
}

func explainPlan(w wine.Wine, cfg app.Config) plan {
	market := wine.OriginMarket(w)
	p := plan{
		Wine:            w,
		DisplayName:     w.DisplayName(),
		Market:          market,
		Tokens:          wine.DeriveTokens(w),
		ProducerQueries: producer.Queries(w),
		Variants:        wine.Variants(w),
		LensCaps:        map[string]int{},
		GlobalCap:       wine.GlobalCap,
	}
	for _, src := range wine.ForMarket(market) {
		p.TargetedSources = append(p.TargetedSources, plannedQuery{
			Source:  src.ID,
			Lens:    string(src.Lens),
			Domains: src.Domains,
		})
	}
	for lens, n := range wine.LensCaps(market) {
		p.LensCaps[string(lens)] = n
	}
	return p
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "" {
		_, err = os.Stdout.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
