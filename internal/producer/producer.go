// Package producer runs the narrow first-party micro-search: a handful of
// queries aimed at the wine's own producer site and technical documents.
// It is the one pipeline stage subject to mid-flight cancellation — the
// orchestrator cancels it as soon as third-party coverage is good enough.
package producer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/cellarist/winesleuth/internal/budget"
	"github.com/cellarist/winesleuth/internal/search"
	"github.com/cellarist/winesleuth/internal/wine"
)

// Searcher issues the producer queries through the shared search client.
type Searcher struct {
	Client *search.Client
	// MaxQueries bounds the micro-search; defaults to 3.
	MaxQueries int
}

// Run executes the producer queries in order, polling ctx between queries
// and between result batches. Cancellation is cooperative: whatever has
// been collected so far is returned, never an error.
func (s *Searcher) Run(ctx context.Context, w wine.Wine, b *budget.Budget, locale string) []search.Result {
	queries := Queries(w)
	if max := s.maxQueries(); len(queries) > max {
		queries = queries[:max]
	}

	var out []search.Result
	for _, q := range queries {
		if ctx.Err() != nil {
			log.Debug().Int("collected", len(out)).Msg("producer search cancelled")
			return out
		}
		results, _, err := s.Client.Search(ctx, q, nil, search.QueryProducer, b, locale)
		if err != nil {
			log.Warn().Err(err).Str("query", q).Msg("producer query failed")
			continue
		}
		for _, r := range results {
			if ctx.Err() != nil {
				return out
			}
			out = append(out, r)
		}
	}
	return out
}

func (s *Searcher) maxQueries() int {
	if s.MaxQueries > 0 {
		return s.MaxQueries
	}
	return 3
}

// Queries derives the micro-search queries: the quoted producer name with
// the wine name, then explicit document-type queries for tech sheets.
func Queries(w wine.Wine) []string {
	producer := strings.TrimSpace(w.Producer)
	if producer == "" {
		return nil
	}
	name := strings.TrimSpace(w.Range)
	if name == "" {
		name = strings.TrimSpace(w.Variety)
	}
	first := fmt.Sprintf("%q winery", producer)
	if name != "" {
		first = fmt.Sprintf("%q %s winery", producer, name)
	}
	out := []string{first}
	if name != "" {
		out = append(out,
			fmt.Sprintf("%q %q filetype:pdf", producer, name),
			fmt.Sprintf("%q technical sheet filetype:doc", producer),
		)
	}
	return out
}
