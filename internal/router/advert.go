package router

import (
	"context"

	"github.com/pathvec/pathrtr/internal/metrics"
	"github.com/pathvec/pathrtr/internal/wire"
)

// handleAdvert applies one received "pathvec" advertisement (spec.md §4.2):
// drop on a dead link, drop on a self-loop, otherwise build the
// candidate route, apply the update rule, install into the forwarding
// table on an outLink change, and split-horizon re-advertise on change.
func (r *Router) handleAdvert(ctx context.Context, link int, m wire.AdvertMsg) {
	li := r.links[link]
	if li.HelloState == 0 {
		r.log.Debug("dropping advert on dead link", "link", link)
		return
	}
	if containsAddr(m.Path, r.myIP) {
		r.log.Debug("dropping advert containing self", "prefix", m.Prefix)
		return
	}

	newPath := make([]wire.Address, 0, len(m.Path)+1)
	newPath = append(newPath, r.myIP)
	newPath = append(newPath, m.Path...)

	nu := Route{
		Prefix:    m.Prefix,
		Timestamp: r.clock.Now(),
		Cost:      m.Cost + li.Cost,
		Path:      newPath,
		OutLink:   link,
		Valid:     true,
	}

	existing, exists := r.routes[m.Prefix]
	changed := false
	linkChanged := false

	if !exists {
		rte := nu
		r.routes[m.Prefix] = &rte
		changed = true
		linkChanged = true
	} else {
		prevOutLink := existing.OutLink
		if applyUpdateRule(existing, nu) {
			changed = true
			if existing.OutLink != prevOutLink {
				linkChanged = true
			}
		}
	}

	if changed {
		r.printTable()
	}
	if linkChanged {
		r.fwd.AddRoute(m.Prefix, r.routes[m.Prefix].OutLink)
	}
	if changed {
		r.readvertise(ctx, m.Prefix, link)
	}
}

// readvertise re-emits the current route for prefix on every link
// except exceptLink (split horizon).
func (r *Router) readvertise(ctx context.Context, prefix wire.Prefix, exceptLink int) {
	rte, ok := r.routes[prefix]
	if !ok {
		return
	}
	now := r.clock.Now()
	payload := wire.FormatAdvert(prefix, now, rte.Cost, rte.Path)
	for i := range r.links {
		if i == exceptLink {
			continue
		}
		pkt := wire.Packet{
			Protocol: wire.ProtoControl,
			TTL:      99,
			SrcAdr:   r.myIP,
			DestAdr:  r.links[i].PeerIP,
			Payload:  payload,
		}
		if err := r.fwd.SendPkt(ctx, pkt, i); err == nil {
			r.traceAdvert("send", "advert", i)
			metrics.ControlPacketsSent.Add(1)
		}
	}
}

// handleFadvert applies a received link-failure advertisement
// (spec.md §4.2): invalidate every route whose path crosses the failed
// adjacency, and if any previously-valid route was invalidated,
// propagate on every link except the one it arrived on.
func (r *Router) handleFadvert(ctx context.Context, link int, m wire.FadvertMsg) {
	if containsAddr(m.Path, r.myIP) {
		return
	}

	changed := false
	for _, rte := range r.routes {
		for j := 0; j+1 < len(rte.Path); j++ {
			if rte.Path[j] == m.A && rte.Path[j+1] == m.B {
				if rte.Valid {
					changed = true
				}
				rte.Valid = false
				break
			}
		}
	}

	if !changed {
		return
	}
	r.printTable()

	newPath := make([]wire.Address, 0, len(m.Path)+1)
	newPath = append(newPath, r.myIP)
	newPath = append(newPath, m.Path...)

	payload := wire.FormatFadvert(m.A, m.B, m.Timestamp, newPath)
	for i := range r.links {
		if i == link {
			continue
		}
		pkt := wire.Packet{
			Protocol: wire.ProtoControl,
			TTL:      99,
			SrcAdr:   r.myIP,
			DestAdr:  r.links[i].PeerIP,
			Payload:  payload,
		}
		if err := r.fwd.SendPkt(ctx, pkt, i); err == nil {
			r.traceAdvert("send", "fadvert", i)
			metrics.ControlPacketsSent.Add(1)
		}
	}
}

// sendFailureAdvert emits a fresh "linkfail" advertisement for a link
// this router just declared down, to every other link still healthy.
func (r *Router) sendFailureAdvert(ctx context.Context, failedLink int) {
	now := r.clock.Now()
	failedPeer := r.links[failedLink].PeerIP
	payload := wire.FormatFadvert(r.myIP, failedPeer, now, []wire.Address{r.myIP})
	for i := range r.links {
		if r.links[i].HelloState == 0 {
			continue
		}
		pkt := wire.Packet{
			Protocol: wire.ProtoControl,
			TTL:      99,
			SrcAdr:   r.myIP,
			DestAdr:  r.links[i].PeerIP,
			Payload:  payload,
		}
		if err := r.fwd.SendPkt(ctx, pkt, i); err == nil {
			r.traceAdvert("send", "fadvert", i)
			metrics.ControlPacketsSent.Add(1)
		}
	}
}
