package score

import (
	"sort"
	"strings"

	"github.com/cellarist/winesleuth/internal/wine"
)

// LegacyRank is the pre-gate relevance heuristic, kept as the fallback
// when the identity gate rejects the whole pool. It never gates; it only
// orders, and returns at most the global cap.
func LegacyRank(cands []Candidate, w wine.Wine, toks wine.Tokens) []Candidate {
	type scored struct {
		c Candidate
		s float64
	}
	pool := make([]scored, 0, len(cands))
	for _, c := range cands {
		pool = append(pool, scored{c: c, s: LegacyScore(c, w, toks)})
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].s > pool[j].s })
	out := make([]Candidate, 0, wine.GlobalCap)
	for _, p := range pool {
		if len(out) >= wine.GlobalCap {
			break
		}
		out = append(out, p.c)
	}
	return out
}

// LegacyScore sums keyword counts, fuzzy prefix matches, an exact-phrase
// bonus, a vintage-match bonus, and the range-qualifier delta.
func LegacyScore(c Candidate, w wine.Wine, toks wine.Tokens) float64 {
	text := wine.Fold(c.Title + " " + c.Snippet)
	textTokens := map[string]struct{}{}
	for _, t := range wine.Tokenize(text) {
		textTokens[t] = struct{}{}
	}

	s := 0.0
	for _, t := range toks.Discovery {
		if _, ok := textTokens[t]; ok {
			s += 1
		} else if fuzzyPrefixMatch(textTokens, t) {
			s += 0.5
		}
	}
	if name := wine.Fold(w.DisplayName()); name != "" && strings.Contains(text, name) {
		s += 3
	}
	if toks.Vintage != "" {
		if _, ok := textTokens[toks.Vintage]; ok {
			s += 2
		}
	}
	s += qualifierDelta(textTokens, toks.Qualifiers)
	return s
}

// qualifierDelta rewards range-qualifier terms the wine actually carries
// and penalizes both their absence and the presence of foreign qualifiers,
// so "Reserve" and "Grand Reserve" bottlings of one producer separate.
func qualifierDelta(textTokens map[string]struct{}, qualifiers []string) float64 {
	want := map[string]struct{}{}
	for _, q := range qualifiers {
		want[q] = struct{}{}
	}
	d := 0.0
	for q := range want {
		if _, ok := textTokens[q]; ok {
			d += 0.75
		} else {
			d -= 0.25
		}
	}
	for t := range textTokens {
		if _, wanted := want[t]; !wanted && isQualifierWord(t) {
			d -= 0.5
		}
	}
	return d
}

func isQualifierWord(t string) bool {
	switch t {
	case "reserve", "reserva", "riserva", "grand", "gran", "grande", "premium", "crianza":
		return true
	}
	return false
}

// fuzzyPrefixMatch accepts tokens sharing a 4+ character prefix, which
// absorbs plural and adjectival inflections across wine languages.
func fuzzyPrefixMatch(textTokens map[string]struct{}, want string) bool {
	if len(want) < 4 {
		return false
	}
	prefix := want[:4]
	for t := range textTokens {
		if len(t) >= 4 && strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}
