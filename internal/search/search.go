// Package search issues SERP queries through the proxy provider with
// cache-first lookup, budget gating, in-flight deduplication, and an
// automatic operator-stripping retry.
package search

import (
	"context"
	"encoding/json"
)

// Result represents a single organic hit from any provider.
type Result struct {
	Title    string
	URL      string
	Snippet  string
	Position int
	Source   string // provider name for observability
}

// Payload carries the provider's full response alongside the organic
// results so later extraction tiers can mine the AI overview, knowledge
// graph and related-question fields without a second paid call.
type Payload struct {
	Organic        []Result
	AIOverview     string
	KnowledgeGraph json.RawMessage
	Snippet        string // featured snippet, when present
	PeopleAlsoAsk  []string
	Raw            json.RawMessage
}

// QueryType labels the pipeline stage a query belongs to; it is part of
// the cache key so a broad query never shadows a targeted one.
type QueryType string

const (
	QueryTargeted QueryType = "targeted"
	QueryBroad    QueryType = "broad"
	QueryVariant  QueryType = "variant"
	QueryProducer QueryType = "producer"
)

// Provider is the minimal interface a SERP backend implements.
type Provider interface {
	Search(ctx context.Context, query string, domains []string, locale string, limit int) (*Payload, error)
	Name() string
}
