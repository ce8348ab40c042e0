package wine

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Tokens are the two keyword sets derived once per request from the wine
// description. Discovery tokens are loose and drive query construction;
// precision tokens are strict and gate candidate validity. Both are
// immutable for the lifetime of a request.
type Tokens struct {
	Discovery []string
	Precision []string
	// Producer holds only the distinctive producer-name tokens, used to
	// recognize producer-owned domains.
	Producer []string
	// Qualifiers are product-line qualifier terms present in the range
	// name ("reserva", "grand"), used by the legacy relevance fallback.
	Qualifiers []string
	Vintage    string
}

// estateWords are generic producer-name fillers that carry no identity
// signal and would match almost any wine page.
var estateWords = map[string]struct{}{
	"wine": {}, "wines": {}, "winery": {}, "estate": {}, "estates": {},
	"cellar": {}, "cellars": {}, "vineyard": {}, "vineyards": {},
	"domaine": {}, "chateau": {}, "bodega": {}, "bodegas": {},
	"weingut": {}, "cantina": {}, "tenuta": {}, "maison": {}, "cave": {},
	"the": {}, "and": {}, "of": {}, "de": {}, "la": {}, "le": {}, "du": {},
	"di": {}, "del": {}, "dos": {}, "das": {},
}

// qualifierWords are product-line qualifiers whose presence or absence
// distinguishes ranges within one producer ("Reserve" vs "Grand Reserve").
var qualifierWords = map[string]struct{}{
	"reserve": {}, "reserva": {}, "riserva": {}, "grand": {}, "gran": {},
	"grande": {}, "premium": {}, "selection": {}, "seleccion": {},
	"special": {}, "vieilles": {}, "vignes": {}, "crianza": {},
	"brut": {}, "sec": {}, "late": {}, "harvest": {},
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lower-cases s and strips diacritics so "Rhône" and "rhone"
// tokenize identically.
func Fold(s string) string {
	out, _, err := transform.String(foldTransformer, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// Tokenize splits s into folded word tokens of two or more characters.
// Single digits and vintage years survive as-is.
func Tokenize(s string) []string {
	folded := Fold(s)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 && !isDigits(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DeriveTokens builds the discovery and precision sets for w.
func DeriveTokens(w Wine) Tokens {
	t := Tokens{}

	for _, tok := range Tokenize(w.Producer) {
		if _, generic := estateWords[tok]; generic {
			continue
		}
		t.Producer = appendUnique(t.Producer, tok)
	}

	var rangeTokens []string
	for _, tok := range Tokenize(w.Range) {
		rangeTokens = appendUnique(rangeTokens, tok)
		if _, q := qualifierWords[tok]; q {
			t.Qualifiers = appendUnique(t.Qualifiers, tok)
		}
	}

	if w.Vintage > 0 {
		t.Vintage = strconv.Itoa(w.Vintage)
	}

	// Precision: the tokens that must plausibly appear on any page that is
	// actually about this wine.
	t.Precision = append(t.Precision, t.Producer...)
	for _, tok := range rangeTokens {
		t.Precision = appendUnique(t.Precision, tok)
	}
	if t.Vintage != "" {
		t.Precision = appendUnique(t.Precision, t.Vintage)
	}

	// Discovery: everything above plus the looser descriptive fields.
	t.Discovery = append(t.Discovery, t.Precision...)
	for _, s := range []string{w.Variety, w.Region, w.Country, w.Type} {
		for _, tok := range Tokenize(s) {
			t.Discovery = appendUnique(t.Discovery, tok)
		}
	}
	return t
}

// Variants returns alternative query phrasings for the variant-retry
// stage, ordered from closest to loosest. The original display name is
// not included.
func Variants(w Wine) []string {
	var out []string
	add := func(s string) {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			return
		}
		for _, seen := range out {
			if strings.EqualFold(seen, s) {
				return
			}
		}
		if !strings.EqualFold(s, w.DisplayName()) {
			out = append(out, s)
		}
	}

	vintage := ""
	if w.Vintage > 0 {
		vintage = strconv.Itoa(w.Vintage)
	}
	// Without the range name: catches pages that list only producer+vintage.
	add(strings.TrimSpace(w.Producer + " " + w.Variety + " " + vintage))
	// Without vintage: non-vintage listings and producer overview pages.
	add(strings.TrimSpace(w.Producer + " " + w.Range))
	// Accent-folded full name: engines and sites disagree on diacritics.
	add(Fold(w.DisplayName()))
	add(strings.TrimSpace(w.Producer + " " + w.Region + " " + vintage))
	return out
}

func appendUnique(list []string, tok string) []string {
	for _, t := range list {
		if t == tok {
			return list
		}
	}
	return append(list, tok)
}
