package router

import "github.com/pathvec/pathrtr/internal/wire"

// Route is one entry of the routing table (spec.md §3). The routing
// table itself is a map owned solely by the router goroutine; nothing
// outside this package ever reads or writes it.
type Route struct {
	Prefix    wire.Prefix
	Timestamp float64
	Cost      float64
	Path      []wire.Address
	OutLink   int
	Valid     bool
}

func pathsEqual(a, b []wire.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsAddr(path []wire.Address, a wire.Address) bool {
	for _, p := range path {
		if p == a {
			return true
		}
	}
	return false
}

// applyUpdateRule replaces rte's non-prefix fields with nu's, per the
// ordered rule of spec.md §4.2, and reports whether it did. The
// "same path & same outLink" branch intentionally refreshes even when
// nu.Cost is worse than rte.Cost (spec.md §9 open question): this is
// what lets a route age forward under steady-state reconvergence.
func applyUpdateRule(rte *Route, nu Route) bool {
	if !nu.Valid {
		return false
	}
	if !rte.Valid {
		replaceRoute(rte, nu)
		return true
	}
	if pathsEqual(rte.Path, nu.Path) && rte.OutLink == nu.OutLink {
		replaceRoute(rte, nu)
		return true
	}
	if nu.Cost <= 0.9*rte.Cost {
		replaceRoute(rte, nu)
		return true
	}
	if nu.Timestamp >= rte.Timestamp+20 {
		replaceRoute(rte, nu)
		return true
	}
	return false
}

func replaceRoute(rte *Route, nu Route) {
	rte.Timestamp = nu.Timestamp
	rte.Cost = nu.Cost
	rte.Path = nu.Path
	rte.OutLink = nu.OutLink
	rte.Valid = nu.Valid
}
