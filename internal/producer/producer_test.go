package producer

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
	"github.com/cellarist/winesleuth/internal/search"
	"github.com/cellarist/winesleuth/internal/wine"
)

func testWine() wine.Wine {
	return wine.Wine{Producer: "La Rioja Alta", Range: "Gran Reserva 904", Country: "Spain", Vintage: 2015}
}

func newSearcher(t *testing.T, srv *httptest.Server) *Searcher {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), cache.DefaultTTLPolicy())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &Searcher{Client: &search.Client{
		Provider: &search.SERPProxy{BaseURL: srv.URL, Zone: "serp"},
		Cache:    store,
		Dedup:    &dedup.Group{},
	}}
}

func serpServer(t *testing.T, calls *atomic.Int32, perQuery func(q string) []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"organic": perQuery(req.Query)})
	}))
}

func TestQueries(t *testing.T) {
	got := Queries(testWine())
	if len(got) != 3 {
		t.Fatalf("queries = %v", got)
	}
	if !strings.Contains(got[0], `"La Rioja Alta"`) || !strings.Contains(got[0], "winery") {
		t.Fatalf("first query = %q", got[0])
	}
	if !strings.Contains(got[1], "filetype:pdf") {
		t.Fatalf("second query lacks pdf filter: %q", got[1])
	}
	if !strings.Contains(got[2], "filetype:doc") {
		t.Fatalf("third query lacks doc filter: %q", got[2])
	}

	if q := Queries(wine.Wine{}); q != nil {
		t.Fatalf("no producer must yield no queries, got %v", q)
	}
}

func TestRun_CollectsAllQueries(t *testing.T) {
	srv := serpServer(t, nil, func(q string) []map[string]any {
		return []map[string]any{{"title": "tech sheet", "link": "https://lariojaalta.com/904.pdf", "description": q}}
	})
	defer srv.Close()

	s := newSearcher(t, srv)
	b := budget.New(budget.Caps{MaxSearchCalls: 10})
	got := s.Run(context.Background(), testWine(), b, "en")
	if len(got) != 3 {
		t.Fatalf("results = %d, want one per query", len(got))
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	var calls atomic.Int32
	srv := serpServer(t, &calls, func(string) []map[string]any { return nil })
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newSearcher(t, srv)
	got := s.Run(ctx, testWine(), budget.New(budget.Caps{MaxSearchCalls: 10}), "en")
	if len(got) != 0 || calls.Load() != 0 {
		t.Fatalf("cancelled run got %d results, %d calls", len(got), calls.Load())
	}
}

func TestRun_CancelMidwayReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := serpServer(t, nil, func(q string) []map[string]any {
		if strings.Contains(q, "filetype:pdf") {
			cancel()
		}
		return []map[string]any{{"title": "t", "link": "https://lariojaalta.com/a", "description": "d"}}
	})
	defer srv.Close()

	s := newSearcher(t, srv)
	got := s.Run(ctx, testWine(), budget.New(budget.Caps{MaxSearchCalls: 10}), "en")
	if len(got) != 1 {
		t.Fatalf("partial results = %d, want 1 (first query only)", len(got))
	}
}

func TestRun_QueryFailureContinues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if strings.Contains(req.Query, "winery") {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]any{{"title": "t", "link": "https://lariojaalta.com/b", "description": "d"}},
		})
	}))
	defer srv.Close()

	s := newSearcher(t, srv)
	got := s.Run(context.Background(), testWine(), budget.New(budget.Caps{MaxSearchCalls: 10}), "en")
	if len(got) == 0 {
		t.Fatal("later queries must still run after a failed one")
	}
}

func TestMaxQueriesBound(t *testing.T) {
	var calls atomic.Int32
	srv := serpServer(t, &calls, func(string) []map[string]any {
		return []map[string]any{{"title": "t", "link": "https://lariojaalta.com/a", "description": "d"}}
	})
	defer srv.Close()

	s := newSearcher(t, srv)
	s.MaxQueries = 1
	s.Run(context.Background(), testWine(), budget.New(budget.Caps{MaxSearchCalls: 10}), "en")
	if calls.Load() != 1 {
		t.Fatalf("provider called %d times, want 1", calls.Load())
	}
}
