package wine

// GlobalCap bounds the total number of candidates surviving ranking,
// across all lenses.
const GlobalCap = 8

// defaultLensCaps is the worldwide diversity table: how many candidates of
// each lens may survive into the final pool. Tuned empirically; treat as
// configuration, not invariants.
var defaultLensCaps = map[Lens]int{
	LensCompetition: 2,
	LensCritic:      3,
	LensPanel:       1,
	LensCommunity:   2,
	LensAggregator:  1,
	LensProducer:    2,
}

// marketLensCaps overrides the default table per origin market. Markets
// with a strong national panel guide trade a critic slot for a panel slot.
var marketLensCaps = map[string]map[Lens]int{
	"es": {LensCompetition: 2, LensCritic: 2, LensPanel: 2, LensCommunity: 2, LensAggregator: 1, LensProducer: 2},
	"it": {LensCompetition: 2, LensCritic: 2, LensPanel: 2, LensCommunity: 2, LensAggregator: 1, LensProducer: 2},
	"fr": {LensCompetition: 2, LensCritic: 3, LensPanel: 2, LensCommunity: 1, LensAggregator: 1, LensProducer: 2},
	"au": {LensCompetition: 2, LensCritic: 2, LensPanel: 2, LensCommunity: 2, LensAggregator: 1, LensProducer: 2},
	"us": {LensCompetition: 1, LensCritic: 4, LensPanel: 0, LensCommunity: 2, LensAggregator: 1, LensProducer: 2},
}

// LensCaps returns the diversity cap table for a market, falling back to
// the worldwide defaults. The returned map must not be mutated.
func LensCaps(market string) map[Lens]int {
	if caps, ok := marketLensCaps[market]; ok {
		return caps
	}
	return defaultLensCaps
}
