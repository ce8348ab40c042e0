package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cellarist/winesleuth/internal/budget"
	"github.com/cellarist/winesleuth/internal/cache"
	"github.com/cellarist/winesleuth/internal/dedup"
)

func newSERPServer(t *testing.T, handler func(q string) any, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req serpRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(handler(req.Query))
	}))
}

func organicResponse(hits ...map[string]any) map[string]any {
	return map[string]any{"organic": hits}
}

func TestSERPProxy_ParsesPayload(t *testing.T) {
	srv := newSERPServer(t, func(q string) any {
		return map[string]any{
			"organic": []map[string]any{
				{"title": "Gran Reserva 904", "link": "https://decanter.com/x", "description": "97 points", "rank": 1},
				{"title": "", "link": "https://nope.com"}, // dropped: no title
			},
			"ai_overview":      map[string]any{"text": "aggregated overview"},
			"featured_snippet": map[string]any{"text": "97/100"},
			"people_also_ask":  []map[string]any{{"question": "Is 904 a good wine?"}},
		}
	}, nil)
	defer srv.Close()

	p := &SERPProxy{BaseURL: srv.URL, Zone: "serp", APIKey: "k"}
	got, err := p.Search(context.Background(), "q", nil, "en", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got.Organic) != 1 || got.Organic[0].URL != "https://decanter.com/x" {
		t.Fatalf("organic = %+v", got.Organic)
	}
	if got.AIOverview != "aggregated overview" || got.Snippet != "97/100" {
		t.Fatalf("extras = %q %q", got.AIOverview, got.Snippet)
	}
	if len(got.PeopleAlsoAsk) != 1 {
		t.Fatalf("paa = %v", got.PeopleAlsoAsk)
	}
	if len(got.Raw) == 0 {
		t.Fatal("raw payload must be preserved")
	}
}

func TestSERPProxy_OversizedBodyRejected(t *testing.T) {
	srv := newSERPServer(t, func(q string) any {
		return map[string]any{
			"filler":  strings.Repeat("a", 3<<20),
			"organic": []map[string]any{{"title": "t", "link": "https://a.com"}},
		}
	}, nil)
	defer srv.Close()

	p := &SERPProxy{BaseURL: srv.URL, Zone: "serp"}
	if _, err := p.Search(context.Background(), "q", nil, "en", 10); err == nil {
		t.Fatal("body past the read cap must fail decoding, not be swallowed")
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), cache.DefaultTTLPolicy())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &Client{
		Provider: &SERPProxy{BaseURL: srv.URL, Zone: "serp"},
		Cache:    store,
		Dedup:    &dedup.Group{},
	}
}

func TestClient_CacheFirst(t *testing.T) {
	var calls atomic.Int32
	srv := newSERPServer(t, func(q string) any {
		return organicResponse(map[string]any{"title": "t", "link": "https://vivino.com/w", "description": "s"})
	}, &calls)
	defer srv.Close()

	c := newTestClient(t, srv)
	b := budget.New(budget.Caps{MaxSearchCalls: 10})
	ctx := context.Background()

	if _, _, err := c.Search(ctx, "muga reserva 2019", []string{"vivino.com"}, QueryTargeted, b, "en"); err != nil {
		t.Fatalf("first search: %v", err)
	}
	results, _, err := c.Search(ctx, "muga reserva 2019", []string{"vivino.com"}, QueryTargeted, b, "en")
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("provider called %d times, want 1 (cache-first)", calls.Load())
	}
	if len(results) != 1 || results[0].URL != "https://vivino.com/w" {
		t.Fatalf("cached results = %+v", results)
	}
	if got := b.Snapshot().SearchCalls; got != 1 {
		t.Fatalf("budget consumed %d calls, want 1", got)
	}
}

func TestClient_SiteOperators(t *testing.T) {
	var seenQuery string
	srv := newSERPServer(t, func(q string) any {
		seenQuery = q
		return organicResponse(map[string]any{"title": "t", "link": "https://a.com/1", "description": "s"})
	}, nil)
	defer srv.Close()

	c := newTestClient(t, srv)
	_, _, err := c.Search(context.Background(), "wine", []string{"a.com", "b.com"}, QueryBroad, nil, "en")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(seenQuery, "site:a.com OR site:b.com") {
		t.Fatalf("query lacks site operators: %q", seenQuery)
	}
}

func TestClient_BudgetExhaustedSkips(t *testing.T) {
	var calls atomic.Int32
	srv := newSERPServer(t, func(q string) any { return organicResponse() }, &calls)
	defer srv.Close()

	c := newTestClient(t, srv)
	b := budget.New(budget.Caps{MaxSearchCalls: 1})
	b.ReserveSearchCall() // exhaust

	results, _, err := c.Search(context.Background(), "anything", nil, QueryBroad, b, "en")
	if err != nil {
		t.Fatalf("exhausted budget must not error: %v", err)
	}
	if len(results) != 0 || calls.Load() != 0 {
		t.Fatalf("results=%d calls=%d, want 0/0", len(results), calls.Load())
	}
}

func TestClient_OperatorStripRetry(t *testing.T) {
	var queries []string
	srv := newSERPServer(t, func(q string) any {
		queries = append(queries, q)
		if strings.Contains(q, `"`) || strings.Contains(q, "filetype:") {
			return organicResponse()
		}
		return organicResponse(map[string]any{"title": "t", "link": "https://a.com/1", "description": "s"})
	}, nil)
	defer srv.Close()

	c := newTestClient(t, srv)
	b := budget.New(budget.Caps{MaxSearchCalls: 5})
	results, _, err := c.Search(context.Background(), `"muga reserva" filetype:pdf`, nil, QueryProducer, b, "en")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected exactly one retry, got queries %v", queries)
	}
	if strings.Contains(queries[1], `"`) || strings.Contains(queries[1], "filetype:") {
		t.Fatalf("retry still carries operators: %q", queries[1])
	}
	if len(results) != 1 {
		t.Fatalf("retry results = %+v", results)
	}
	if got := b.Snapshot().SearchCalls; got != 2 {
		t.Fatalf("retry must consume a second budget unit, used %d", got)
	}
}

func TestStripOperators(t *testing.T) {
	got := stripOperators(`"la rioja alta" 904 filetype:pdf ext:doc`)
	if got != "la rioja alta 904" {
		t.Fatalf("stripOperators = %q", got)
	}
}

func TestNormalizeLocale(t *testing.T) {
	if got := normalizeLocale("en-GB"); got != "en-gb" {
		t.Fatalf("en-GB → %q", got)
	}
	if got := normalizeLocale(""); got != "en" {
		t.Fatalf("empty → %q", got)
	}
}
