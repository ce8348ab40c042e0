package wine

import (
	"strings"
)

// Source is one known evidence site: where to search for it, how much to
// trust it, and what it takes to fetch from it.
type Source struct {
	ID   string
	Lens Lens
	// Domains covered by this source; the first entry is used for
	// targeted site: queries.
	Domains []string
	// Credibility is the static trust weight of the source, independent of
	// any particular result.
	Credibility float64
	// Markets this source is relevant to (ISO-ish market codes). Empty
	// means worldwide.
	Markets []string
	// Unlocker marks domains that block direct fetches and must be routed
	// through the content-unlocking proxy.
	Unlocker bool
	// SPA marks single-page-app sites whose content lives in an embedded
	// hydration JSON payload rather than rendered HTML.
	SPA bool
}

// catalog is the static table of known rating sources. Credibility and
// market assignments are editorial judgments, not measurements.
var catalog = []Source{
	{ID: "decanter", Lens: LensCritic, Domains: []string{"decanter.com"}, Credibility: 0.9},
	{ID: "dwwa", Lens: LensCompetition, Domains: []string{"awards.decanter.com"}, Credibility: 0.9},
	{ID: "iwsc", Lens: LensCompetition, Domains: []string{"iwsc.net"}, Credibility: 0.85},
	{ID: "iwc", Lens: LensCompetition, Domains: []string{"internationalwinechallenge.com"}, Credibility: 0.85},
	{ID: "concours-mondial", Lens: LensCompetition, Domains: []string{"concoursmondial.com"}, Credibility: 0.8},
	{ID: "mundus-vini", Lens: LensCompetition, Domains: []string{"mundusvini.com"}, Credibility: 0.75, Markets: []string{"de", "es", "it", "pt"}},
	{ID: "wine-spectator", Lens: LensCritic, Domains: []string{"winespectator.com"}, Credibility: 0.9, Unlocker: true},
	{ID: "wine-enthusiast", Lens: LensCritic, Domains: []string{"wineenthusiast.com", "winemag.com"}, Credibility: 0.8},
	{ID: "james-suckling", Lens: LensCritic, Domains: []string{"jamessuckling.com"}, Credibility: 0.85},
	{ID: "robert-parker", Lens: LensCritic, Domains: []string{"robertparker.com"}, Credibility: 0.9, Unlocker: true},
	{ID: "vinous", Lens: LensCritic, Domains: []string{"vinous.com"}, Credibility: 0.85},
	{ID: "jancis-robinson", Lens: LensCritic, Domains: []string{"jancisrobinson.com"}, Credibility: 0.9, Unlocker: true},
	{ID: "guia-penin", Lens: LensPanel, Domains: []string{"guiapenin.wine"}, Credibility: 0.85, Markets: []string{"es"}},
	{ID: "gambero-rosso", Lens: LensPanel, Domains: []string{"gamberorosso.it"}, Credibility: 0.85, Markets: []string{"it"}},
	{ID: "halliday", Lens: LensPanel, Domains: []string{"winecompanion.com.au"}, Credibility: 0.85, Markets: []string{"au"}},
	{ID: "platter", Lens: LensPanel, Domains: []string{"wineonaplatter.com"}, Credibility: 0.8, Markets: []string{"za"}},
	{ID: "guide-hachette", Lens: LensPanel, Domains: []string{"hachette-vins.com"}, Credibility: 0.8, Markets: []string{"fr"}},
	{ID: "vivino", Lens: LensCommunity, Domains: []string{"vivino.com"}, Credibility: 0.6, SPA: true},
	{ID: "cellartracker", Lens: LensCommunity, Domains: []string{"cellartracker.com"}, Credibility: 0.65},
	{ID: "wine-searcher", Lens: LensAggregator, Domains: []string{"wine-searcher.com"}, Credibility: 0.7, Unlocker: true},
}

// Catalog returns the full source table.
func Catalog() []Source { return catalog }

// ForMarket returns the sources worth targeting for a wine from the given
// market: all worldwide sources plus the market's own panels and
// competitions.
func ForMarket(market string) []Source {
	out := make([]Source, 0, len(catalog))
	for _, s := range catalog {
		if len(s.Markets) == 0 {
			out = append(out, s)
			continue
		}
		for _, m := range s.Markets {
			if m == market {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// ByDomain resolves a host to its catalog source, matching subdomains.
func ByDomain(host string) (Source, bool) {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, s := range catalog {
		for _, d := range s.Domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return s, true
			}
		}
	}
	return Source{}, false
}

// countryMarkets maps folded country names to market codes. Anything not
// listed falls back to the worldwide table.
var countryMarkets = map[string]string{
	"spain": "es", "espana": "es",
	"france": "fr",
	"italy":  "it", "italia": "it",
	"germany": "de", "deutschland": "de",
	"portugal":  "pt",
	"australia": "au",
	"south africa": "za",
	"united states": "us", "usa": "us",
	"argentina": "ar",
	"chile":     "cl",
	"new zealand": "nz",
}

// OriginMarket resolves the wine's origin country to a market code, or ""
// when unknown.
func OriginMarket(w Wine) string {
	return countryMarkets[Fold(w.Country)]
}
