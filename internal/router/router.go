// Package router implements the path-vector routing protocol of
// spec.md §4.2: neighbor liveness via HELLO/HELLO-REPLY, link-cost
// EWMA estimation, route advertisement with loop detection and split
// horizon, and optional link-failure advertisements.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pathvec/pathrtr/internal/clock"
	"github.com/pathvec/pathrtr/internal/config"
	"github.com/pathvec/pathrtr/internal/logging"
	"github.com/pathvec/pathrtr/internal/metrics"
	"github.com/pathvec/pathrtr/internal/wire"
)

const (
	helloInterval   = time.Second
	advertInterval  = 10 * time.Second
	initialHelloTop = 3
)

// Forwarder is the subset of the forwarder's API the router depends on.
type Forwarder interface {
	SendPkt(ctx context.Context, p wire.Packet, link int) error
	ReceivePkt(ctx context.Context) (wire.Packet, error)
	Ready4Pkt() bool
	IncomingPkt() bool
	AddRoute(prefix wire.Prefix, link int)
}

// Router owns the routing table, the link-info table, and the protocol
// timers. All of its state is touched only from Run's goroutine; the
// dump channel is the sole cross-goroutine entry point, serviced from
// inside the main loop rather than guarded by a lock.
type Router struct {
	myIP          wire.Address
	localPrefixes []wire.Prefix
	enFA          bool

	fwd   Forwarder
	clock *clock.Clock
	log   *slog.Logger
	tier  logging.DebugTier

	links  []LinkInfo
	routes map[wire.Prefix]*Route

	dumpRoutes chan chan []Route
}

// New constructs a Router from its neighbor list and local prefixes.
// Every link starts at HelloState 3 (healthy) so a fresh process
// doesn't declare a neighbor dead before the first HELLO round.
func New(cfg *config.Config, fwd Forwarder, clk *clock.Clock, log *slog.Logger, enableFailureAdvert bool, tier logging.DebugTier) *Router {
	links := make([]LinkInfo, len(cfg.Neighbors))
	for i, n := range cfg.Neighbors {
		links[i] = LinkInfo{
			PeerIP:     n.OverlayIP,
			Cost:       n.Delay,
			HelloState: initialHelloTop,
		}
	}
	return &Router{
		myIP:          cfg.MyIP,
		localPrefixes: cfg.Prefixes,
		enFA:          enableFailureAdvert,
		fwd:           fwd,
		clock:         clk,
		log:           log,
		tier:          tier,
		links:         links,
		routes:        make(map[wire.Prefix]*Route),
		dumpRoutes:    make(chan chan []Route),
	}
}

// resolveLink maps a source overlay address to its configured link index.
func (r *Router) resolveLink(addr wire.Address) (int, bool) {
	for i, li := range r.links {
		if li.PeerIP == addr {
			return i, true
		}
	}
	return 0, false
}

// DumpRoutes returns a snapshot of the routing table, safe to call from
// any goroutine; it round-trips through the router's own loop.
func (r *Router) DumpRoutes(ctx context.Context) []Route {
	reply := make(chan []Route, 1)
	select {
	case r.dumpRoutes <- reply:
	case <-ctx.Done():
		return nil
	}
	select {
	case rs := <-reply:
		return rs
	case <-ctx.Done():
		return nil
	}
}

func (r *Router) snapshotRoutes() []Route {
	out := make([]Route, 0, len(r.routes))
	for _, rte := range r.routes {
		cp := *rte
		cp.Path = append([]wire.Address(nil), rte.Path...)
		out = append(out, cp)
	}
	return out
}

// PrintTable logs the routing table. Safe to call after Run has
// returned (e.g. from Stop, mirroring TestRouter.java's final
// rtr.printTable() call once the router thread has joined); printTable
// itself is also called from inside Run's own goroutine on every
// table-changing event, so it never takes a lock of its own.
func (r *Router) PrintTable() { r.printTable() }

// printTable logs the routing table, called from Run's own goroutine
// whenever a hello round, advert, or failure advert changes it (spec.md
// §4.2; original_source/Router.java:640, called from sendHellos,
// handleAdvert and handleFailureAdvert whenever debug>0).
func (r *Router) printTable() {
	attrs := make([]any, 0, len(r.routes)*2)
	i := 0
	for _, rte := range r.snapshotRoutes() {
		disabled := ""
		if r.links[rte.OutLink].HelloState == 0 {
			disabled = " ** disabled link"
		}
		attrs = append(attrs, fmt.Sprintf("route%d", i),
			fmt.Sprintf("%s cost=%.3f valid=%v outLink=%d path=%v%s", rte.Prefix, rte.Cost, rte.Valid, rte.OutLink, rte.Path, disabled))
		i++
	}
	r.log.Debug(fmt.Sprintf("routing table (%.3f)", r.clock.Now()), attrs...)
}

// traceAdvert logs a single advert/fadvert send or receive, mirroring
// original_source/Sender.java's "debug == 2 && payload contains
// advert|fadvert" check.
func (r *Router) traceAdvert(dir string, kind string, link int) {
	if !r.tier.TracesAdverts() {
		return
	}
	r.log.Log(context.Background(), slog.LevelDebug, dir+" "+kind, "link", link, "peer", r.links[link].PeerIP)
}

// Run is the router's main loop (spec.md §4.2): HELLO timer beats
// periodic-ADVERT timer beats an inbound packet from the forwarder,
// each checked once per iteration and run to completion; otherwise
// sleep 1ms. Runs until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	helloTicker := time.NewTicker(helloInterval)
	defer helloTicker.Stop()
	advertTicker := time.NewTicker(advertInterval)
	defer advertTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-helloTicker.C:
			r.doHelloRound(ctx)
			continue
		default:
		}

		select {
		case <-advertTicker.C:
			r.doPeriodicAdvert(ctx)
			continue
		default:
		}

		if r.fwd.IncomingPkt() {
			p, err := r.fwd.ReceivePkt(ctx)
			if err == nil {
				r.handleInbound(ctx, p)
			}
			continue
		}

		select {
		case reply := <-r.dumpRoutes:
			reply <- r.snapshotRoutes()
			continue
		default:
		}

		time.Sleep(time.Millisecond)
	}
}

// doHelloRound processes the previous round's liveness for every link,
// then emits a fresh HELLO (spec.md §4.2).
func (r *Router) doHelloRound(ctx context.Context) {
	now := r.clock.Now()
	for i := range r.links {
		li := &r.links[i]
		if !li.GotReply {
			if li.HelloState == 1 {
				li.HelloState = 0
				if r.invalidateRoutesOnLink(i) {
					r.log.Debug("link declared down, invalidated routes", "link", i, "peer", li.PeerIP)
					r.printTable()
					if r.enFA {
						r.sendFailureAdvert(ctx, i)
					}
				}
			}
			if li.HelloState > 0 {
				li.HelloState--
			}
		}
		li.GotReply = false

		pkt := wire.Packet{
			Protocol: wire.ProtoControl,
			TTL:      99,
			SrcAdr:   r.myIP,
			DestAdr:  li.PeerIP,
			Payload:  wire.FormatHello(now),
		}
		if err := r.fwd.SendPkt(ctx, pkt, i); err != nil {
			return
		}
		metrics.ControlPacketsSent.Add(1)
	}
}

// invalidateRoutesOnLink marks every route whose OutLink is link
// invalid and reports whether any previously-valid route changed.
func (r *Router) invalidateRoutesOnLink(link int) bool {
	changed := false
	for _, rte := range r.routes {
		if rte.OutLink == link && rte.Valid {
			rte.Valid = false
			changed = true
		}
	}
	return changed
}

func (r *Router) sendHelloReply(ctx context.Context, link int, originalTimestamp float64) {
	pkt := wire.Packet{
		Protocol: wire.ProtoControl,
		TTL:      99,
		SrcAdr:   r.myIP,
		DestAdr:  r.links[link].PeerIP,
		Payload:  wire.FormatHello2u(originalTimestamp),
	}
	if err := r.fwd.SendPkt(ctx, pkt, link); err == nil {
		metrics.ControlPacketsSent.Add(1)
	}
}

// doPeriodicAdvert emits the full local prefix list on every link.
// Split horizon is deliberately not applied here (spec.md §9): the
// prefix originates at this router, so there is no "receivedFrom" to
// exclude.
func (r *Router) doPeriodicAdvert(ctx context.Context) {
	now := r.clock.Now()
	for _, pfx := range r.localPrefixes {
		payload := wire.FormatAdvert(pfx, now, 0, []wire.Address{r.myIP})
		for i := range r.links {
			pkt := wire.Packet{
				Protocol: wire.ProtoControl,
				TTL:      99,
				SrcAdr:   r.myIP,
				DestAdr:  r.links[i].PeerIP,
				Payload:  payload,
			}
			if err := r.fwd.SendPkt(ctx, pkt, i); err != nil {
				return
			}
			r.traceAdvert("send", "advert", i)
			metrics.ControlPacketsSent.Add(1)
		}
	}
}

func (r *Router) handleInbound(ctx context.Context, p wire.Packet) {
	msg, ok := wire.ParseControl(p.Payload)
	if !ok {
		r.log.Debug("dropping malformed or unknown control packet", "src", p.SrcAdr)
		return
	}
	link, ok := r.resolveLink(p.SrcAdr)
	if !ok {
		r.log.Debug("dropping control packet from unknown peer", "src", p.SrcAdr)
		return
	}

	switch m := msg.(type) {
	case wire.HelloMsg:
		if m.Kind == wire.KindHello {
			r.sendHelloReply(ctx, link, m.Timestamp)
		} else {
			r.handleHelloReply(link, m)
		}
	case wire.AdvertMsg:
		r.traceAdvert("receive", "advert", link)
		r.handleAdvert(ctx, link, m)
	case wire.FadvertMsg:
		r.traceAdvert("receive", "fadvert", link)
		r.handleFadvert(ctx, link, m)
	}
}

func (r *Router) handleHelloReply(link int, m wire.HelloMsg) {
	now := r.clock.Now()
	rtt := now - m.Timestamp
	sample := rtt / 2
	li := &r.links[link]
	li.applySample(sample)
	metrics.LinkRTT.Add(rtt)
}
