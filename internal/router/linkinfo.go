package router

import "github.com/pathvec/pathrtr/internal/wire"

// helloAlpha is the EWMA coefficient used to smooth link cost samples.
const helloAlpha = 0.1

// LinkInfo is the per-link liveness and cost-estimation record of
// spec.md §3. Created at startup from config and never destroyed.
type LinkInfo struct {
	PeerIP     wire.Address
	Cost       float64
	GotReply   bool
	HelloState int

	Count     int
	TotalCost float64
	MinCost   float64
	MaxCost   float64
}

// applySample folds one HELLO round-trip sample into the link's EWMA
// cost estimate and refreshes its statistics (spec.md §4.2).
func (li *LinkInfo) applySample(sample float64) {
	li.Cost = helloAlpha*sample + (1-helloAlpha)*li.Cost
	li.Count++
	li.TotalCost += li.Cost
	if li.Count == 1 {
		li.MinCost = li.Cost
		li.MaxCost = li.Cost
	} else {
		if li.Cost < li.MinCost {
			li.MinCost = li.Cost
		}
		if li.Cost > li.MaxCost {
			li.MaxCost = li.Cost
		}
	}
	li.GotReply = true
	li.HelloState = 3
}
