package score

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cellarist/winesleuth/internal/search"
	"github.com/cellarist/winesleuth/internal/wine"
)

func testWine() wine.Wine {
	return wine.Wine{
		Producer: "La Rioja Alta",
		Range:    "Gran Reserva 904",
		Variety:  "Tempranillo",
		Country:  "Spain",
		Region:   "Rioja",
		Vintage:  2015,
	}
}

func TestBuild_ResolvesSources(t *testing.T) {
	toks := wine.DeriveTokens(testWine())
	cands := Build([]search.Result{
		{Title: "a", URL: "https://www.decanter.com/review", Position: 1},
		{Title: "b", URL: "https://lariojaalta.com/wines/904", Position: 2},
		{Title: "c", URL: "https://random-merchant.example/shop", Position: 3},
		{Title: "bad", URL: "::not a url"},
	}, toks)
	if len(cands) != 3 {
		t.Fatalf("got %d candidates, want 3", len(cands))
	}
	if cands[0].SourceID != "decanter" || cands[0].Lens != wine.LensCritic {
		t.Fatalf("catalog resolution failed: %+v", cands[0])
	}
	if cands[1].Lens != wine.LensProducer {
		t.Fatalf("producer domain not recognized: %+v", cands[1])
	}
	if cands[2].Lens != wine.LensAggregator || cands[2].SourceID != "" {
		t.Fatalf("unknown domain default: %+v", cands[2])
	}
}

func TestRank_IdentityGate(t *testing.T) {
	w := testWine()
	toks := wine.DeriveTokens(w)
	cands := Build([]search.Result{
		{Title: "La Rioja Alta Gran Reserva 904 2015 review", Snippet: "97 points for the 904", URL: "https://decanter.com/a", Position: 1},
		{Title: "Ten best value supermarket wines", Snippet: "bargains under a tenner", URL: "https://decanter.com/b", Position: 2},
	}, toks)
	ranked := Rank(cands, w, toks, "es")
	if len(ranked) != 1 {
		t.Fatalf("irrelevant candidate survived the gate: %+v", ranked)
	}
	if ranked[0].URL != "https://decanter.com/a" || !ranked[0].IdentityValid {
		t.Fatalf("wrong survivor: %+v", ranked[0])
	}
}

func TestRank_SortOrder(t *testing.T) {
	w := testWine()
	toks := wine.DeriveTokens(w)
	// Same identity text; the competition source must outrank the unknown
	// merchant on fetch priority.
	title := "La Rioja Alta Gran Reserva 904 2015"
	cands := Build([]search.Result{
		{Title: title, URL: "https://shop.example/904", Position: 1},
		{Title: title, URL: "https://iwsc.net/results/904", Position: 5},
	}, toks)
	ranked := Rank(cands, w, toks, "")
	if len(ranked) != 2 {
		t.Fatalf("len = %d", len(ranked))
	}
	if ranked[0].Domain != "iwsc.net" {
		t.Fatalf("fetch priority ignored: %+v", ranked)
	}
}

func TestRank_MarketCaps(t *testing.T) {
	w := testWine()
	toks := wine.DeriveTokens(w)
	var results []search.Result
	// Twelve community pages and one critic page, all clearly about the
	// wine. Community must be capped, the critic must survive.
	for i := 0; i < 12; i++ {
		results = append(results, search.Result{
			Title:    "La Rioja Alta Gran Reserva 904 2015",
			Snippet:  "community rating",
			URL:      fmt.Sprintf("https://www.vivino.com/w/%d", i),
			Position: i + 1,
		})
	}
	results = append(results, search.Result{
		Title:    "La Rioja Alta Gran Reserva 904 2015",
		Snippet:  "full review",
		URL:      "https://decanter.com/review",
		Position: 13,
	})
	ranked := Rank(Build(results, toks), w, toks, "es")

	perLens := map[wine.Lens]int{}
	for _, c := range ranked {
		perLens[c.Lens]++
	}
	caps := wine.LensCaps("es")
	for lens, n := range perLens {
		if max, ok := caps[lens]; ok && n > max {
			t.Fatalf("lens %s exceeded cap: %d > %d", lens, n, max)
		}
	}
	if len(ranked) > wine.GlobalCap {
		t.Fatalf("global cap exceeded: %d", len(ranked))
	}
	if perLens[wine.LensCritic] == 0 {
		t.Fatal("capping crowded out the critic lens")
	}
}

func TestRank_FallsBackToLegacy(t *testing.T) {
	w := testWine()
	toks := wine.DeriveTokens(w)
	// Nothing passes the gate; the legacy heuristic must still order and
	// return the pool instead of nothing.
	cands := Build([]search.Result{
		{Title: "Tempranillo tasting", Snippet: "rioja wines overview", URL: "https://a.example/1"},
		{Title: "Completely unrelated", Snippet: "gardening tips", URL: "https://b.example/2"},
	}, toks)
	ranked := Rank(cands, w, toks, "")
	if len(ranked) != 2 {
		t.Fatalf("legacy fallback lost candidates: %+v", ranked)
	}
	if ranked[0].URL != "https://a.example/1" {
		t.Fatalf("legacy order wrong: %+v", ranked)
	}
}

func TestLegacyScore_QualifierDelta(t *testing.T) {
	w := wine.Wine{Producer: "Bodega Example", Range: "Reserva", Vintage: 2021}
	toks := wine.DeriveTokens(w)
	with := Candidate{Title: "Example Reserva 2021", Snippet: "solid reserva bottling"}
	without := Candidate{Title: "Example 2021", Snippet: "solid bottling"}
	if LegacyScore(with, w, toks) <= LegacyScore(without, w, toks) {
		t.Fatal("qualifier presence must score strictly higher")
	}
	// A foreign qualifier ("gran") on an otherwise identical candidate
	// is penalized.
	foreign := Candidate{Title: "Example Gran Reserva 2021", Snippet: "solid reserva bottling"}
	if LegacyScore(foreign, w, toks) >= LegacyScore(with, w, toks) {
		t.Fatal("foreign qualifier must be penalized")
	}
}

func TestLegacyScore_VintageBonus(t *testing.T) {
	w := testWine()
	toks := wine.DeriveTokens(w)
	withV := Candidate{Title: "La Rioja Alta Gran Reserva 904 2015"}
	withoutV := Candidate{Title: "La Rioja Alta Gran Reserva 904"}
	if LegacyScore(withV, w, toks) <= LegacyScore(withoutV, w, toks) {
		t.Fatal("vintage match must add a bonus")
	}
}

func TestOverlapAndValidity(t *testing.T) {
	toks := wine.DeriveTokens(testWine())
	c := Candidate{Title: "announcing our spring tasting lineup", Snippet: "join us in the cellar"}
	scoreCandidate(&c, toks)
	if c.IdentityValid {
		t.Fatalf("no precision token present, identityValid must be false: %+v", c)
	}
	// Fetch-priority heuristics must not rescue an invalid candidate.
	c2 := Candidate{Title: "spring tasting", Domain: "iwsc.net", Lens: wine.LensCompetition, Position: 1}
	scoreCandidate(&c2, toks)
	if c2.IdentityValid {
		t.Fatal("priority must not affect validity")
	}
	if c2.FetchPriority <= 0 {
		t.Fatal("competition source should still carry fetch priority")
	}
}

func TestPathTokensContribute(t *testing.T) {
	toks := wine.DeriveTokens(testWine())
	c := Candidate{URL: "https://example.com/wines/la-rioja-alta-gran-reserva-904-2015"}
	scoreCandidate(&c, toks)
	if !c.IdentityValid {
		t.Fatalf("URL path tokens should satisfy the gate: %+v", c)
	}
	if !strings.Contains(c.URL, "904") {
		t.Fatal("sanity")
	}
}
