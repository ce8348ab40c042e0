// Package wine holds the product-side domain model of the evidence
// pipeline: the wine description, the identity token sets derived from it,
// the catalog of known rating sources, and the per-market diversity caps.
package wine

import (
	"fmt"
	"strings"
)

// Wine describes the product evidence is being gathered for. Fields other
// than Producer are optional; the richer the description, the stricter the
// derived precision tokens.
type Wine struct {
	Producer string `json:"producer"`
	// Range is the distinguishing product-line name, e.g. "Gran Reserva 904".
	Range   string `json:"range,omitempty"`
	Variety string `json:"variety,omitempty"`
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	// Type is the broad style: red, white, rose, sparkling, fortified.
	Type    string `json:"type,omitempty"`
	Vintage int    `json:"vintage,omitempty"`
}

// DisplayName renders the wine the way a search query would phrase it.
func (w Wine) DisplayName() string {
	parts := make([]string, 0, 4)
	if w.Producer != "" {
		parts = append(parts, w.Producer)
	}
	if w.Range != "" {
		parts = append(parts, w.Range)
	}
	if w.Variety != "" && !strings.Contains(strings.ToLower(w.Range), strings.ToLower(w.Variety)) {
		parts = append(parts, w.Variety)
	}
	if w.Vintage > 0 {
		parts = append(parts, fmt.Sprintf("%d", w.Vintage))
	}
	return strings.Join(parts, " ")
}

// Lens is the category of an evidence source, used for diversity capping
// and credibility weighting.
type Lens string

const (
	LensCompetition Lens = "competition"
	LensCritic      Lens = "critic"
	LensPanel       Lens = "panel"
	LensCommunity   Lens = "community"
	LensAggregator  Lens = "aggregator"
	LensProducer    Lens = "producer"
)

// Trust returns the lens weight used when aggregating per-result relevance
// into a run confidence value.
func (l Lens) Trust() float64 {
	switch l {
	case LensProducer:
		return 1.5
	case LensCompetition, LensCritic, LensPanel:
		return 1.2
	case LensCommunity:
		return 0.8
	default:
		return 1.0
	}
}
