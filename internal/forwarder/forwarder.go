// Package forwarder implements the longest-prefix-match forwarding
// table and the packet-plane multiplexer described in spec.md §4.1: it
// sits between the local application, the router, and the substrate,
// moving packets between whichever of those three sources has work
// ready, in strict priority order.
package forwarder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pathvec/pathrtr/internal/clock"
	"github.com/pathvec/pathrtr/internal/logging"
	"github.com/pathvec/pathrtr/internal/metrics"
	"github.com/pathvec/pathrtr/internal/queue"
	"github.com/pathvec/pathrtr/internal/wire"
)

// NoLink is the sentinel returned by lookup when no forwarding entry
// matches. Spec.md §9 notes this branch is unreachable in practice
// because the permanent default route always matches; it is kept as a
// defensive, documented dead branch.
const NoLink = -1

// DataTTL is the initial TTL stamped on application-originated packets.
const DataTTL = 99

// Substrate is the subset of the substrate egress/ingress surface the
// forwarder depends on. Defined here (rather than imported from the
// substrate package) to keep the dependency direction substrate->none,
// forwarder->none, router->forwarder, matching spec.md's layering.
type Substrate interface {
	// Incoming reports whether Take would not block.
	Incoming() bool
	// Take dequeues the next received packet along with the link index
	// it arrived on.
	Take(ctx context.Context) (wire.Packet, int, error)
	// Ready reports whether Send to the given link would not block.
	Ready(link int) bool
	// Send enqueues p for egress on link, blocking until there is room.
	Send(ctx context.Context, link int, p wire.Packet) error
}

// entry is a forwarding-table row: a prefix and the link its traffic
// should egress on.
type entry struct {
	Prefix wire.Prefix
	Link   int
}

type routerSend struct {
	Packet wire.Packet
	Link   int
}

// Delivered is a data packet handed to the local application by receive().
type Delivered struct {
	Payload []byte
	Src     string
}

// Forwarder owns the forwarding table and the four bounded queues that
// connect the application, router and substrate planes.
type Forwarder struct {
	myIP  wire.Address
	log   *slog.Logger
	clock *clock.Clock
	tier  logging.DebugTier

	mu    sync.Mutex
	table []entry

	sub Substrate

	fromApp    *queue.Queue[wire.Packet]
	toApp      *queue.Queue[Delivered]
	fromRouter *queue.Queue[routerSend]
	toRouter   *queue.Queue[wire.Packet]
}

// New constructs a Forwarder with the permanent default route installed.
func New(myIP wire.Address, sub Substrate, clk *clock.Clock, log *slog.Logger, tier logging.DebugTier) *Forwarder {
	def, _ := wire.NewPrefix(0, 0)
	f := &Forwarder{
		myIP:       myIP,
		log:        log,
		clock:      clk,
		tier:       tier,
		sub:        sub,
		table:      []entry{{Prefix: def, Link: 0}},
		fromApp:    queue.New[wire.Packet](),
		toApp:      queue.New[Delivered](),
		fromRouter: queue.New[routerSend](),
		toRouter:   queue.New[wire.Packet](),
	}
	return f
}

// AddRoute idempotently upserts (prefix, link) into the forwarding
// table, preserving descending prefix-length order (spec.md §4.1).
func (f *Forwarder) AddRoute(prefix wire.Prefix, link int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.table {
		if f.table[i].Prefix == prefix {
			f.table[i].Link = link
			if f.tier >= logging.TierDebug {
				f.printTableLocked()
			}
			return
		}
	}
	insertAt := len(f.table)
	for i, e := range f.table {
		if e.Prefix.Len < prefix.Len {
			insertAt = i
			break
		}
	}
	f.table = append(f.table, entry{})
	copy(f.table[insertAt+1:], f.table[insertAt:])
	f.table[insertAt] = entry{Prefix: prefix, Link: link}

	if f.tier >= logging.TierDebug {
		f.printTableLocked()
	}
}

// PrintTable logs the forwarding table, guarded by the same lock as
// AddRoute and lookup (spec.md §4.1; original_source/Forwarder.java:221).
func (f *Forwarder) PrintTable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printTableLocked()
}

func (f *Forwarder) printTableLocked() {
	attrs := make([]any, 0, len(f.table)*2)
	for i, e := range f.table {
		attrs = append(attrs, fmt.Sprintf("route%d", i), fmt.Sprintf("%s -> link %d", e.Prefix, e.Link))
	}
	f.log.Debug(fmt.Sprintf("forwarding table (%.3f)", f.clock.Now()), attrs...)
}

// lookup returns the link for the longest matching prefix, or NoLink.
func (f *Forwarder) lookup(ip wire.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.table {
		if e.Prefix.Matches(ip) {
			return e.Link
		}
	}
	return NoLink
}

// Table returns a snapshot of the forwarding table, for diagnostics and tests.
func (f *Forwarder) Table() []struct {
	Prefix wire.Prefix
	Link   int
} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]struct {
		Prefix wire.Prefix
		Link   int
	}, len(f.table))
	for i, e := range f.table {
		out[i] = struct {
			Prefix wire.Prefix
			Link   int
		}{e.Prefix, e.Link}
	}
	return out
}

// Send is the application-plane ingress: it builds a data packet and
// enqueues it, failing (non-blocking) if the from-app queue is full.
func (f *Forwarder) Send(payload []byte, destString string) error {
	dest, err := wire.ParseAddress(destString)
	if err != nil {
		return fmt.Errorf("forwarder: %w", err)
	}
	p := wire.Packet{
		Protocol: wire.ProtoData,
		TTL:      DataTTL,
		SrcAdr:   f.myIP,
		DestAdr:  dest,
		Payload:  payload,
	}
	if !f.fromApp.TryPut(p) {
		return fmt.Errorf("forwarder: application queue full")
	}
	return nil
}

// Receive blocks until a data packet destined for this node is available.
func (f *Forwarder) Receive(ctx context.Context) ([]byte, string, error) {
	d, err := f.toApp.Take(ctx)
	if err != nil {
		return nil, "", err
	}
	return d.Payload, d.Src, nil
}

// Ready reports whether the app queue has room, i.e. whether Send would
// not fail with a full queue.
func (f *Forwarder) Ready() bool { return f.fromApp.Ready() }

// Incoming reports whether Receive would not block.
func (f *Forwarder) Incoming() bool { return f.toApp.Incoming() }

// SendPkt is the routing-plane egress: the router hands the forwarder a
// fully-formed control packet and the link to send it on.
func (f *Forwarder) SendPkt(ctx context.Context, p wire.Packet, link int) error {
	if f.tier.TracesRoutingPackets() {
		f.tracePkt("send", p, link)
	}
	return f.fromRouter.Put(ctx, routerSend{Packet: p, Link: link})
}

// tracePkt logs a single packet trace line, mirroring
// original_source/Forwarder.java's printPkt (gated there by debug>2).
func (f *Forwarder) tracePkt(dir string, p wire.Packet, link int) {
	f.log.Log(context.Background(), logging.LevelTrace, dir+" packet",
		"src", p.SrcAdr, "dst", p.DestAdr, "link", link, "protocol", p.Protocol)
}

// ReceivePkt blocks until a control packet destined for this node is available.
func (f *Forwarder) ReceivePkt(ctx context.Context) (wire.Packet, error) {
	return f.toRouter.Take(ctx)
}

// Ready4Pkt reports whether SendPkt would not block on the router queue.
func (f *Forwarder) Ready4Pkt() bool { return f.fromRouter.Ready() }

// IncomingPkt reports whether ReceivePkt would not block.
func (f *Forwarder) IncomingPkt() bool { return f.toRouter.Incoming() }

// Run is the forwarder's main loop (spec.md §4.1): substrate traffic
// beats router-originated traffic beats application traffic, checked
// once per iteration; otherwise sleep 1ms. Runs until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch {
		case f.sub.Incoming():
			f.handleIngress(ctx)
		case f.fromRouter.Incoming():
			f.handleRouterEgress(ctx)
		case f.fromApp.Incoming():
			f.handleAppEgress(ctx)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func (f *Forwarder) handleIngress(ctx context.Context) {
	p, inLink, err := f.sub.Take(ctx)
	if err != nil {
		return
	}
	if f.tier.TracesAllPackets() || (f.tier.TracesRoutingPackets() && p.Protocol == wire.ProtoControl) {
		f.tracePkt("receive", p, inLink)
	}
	if p.DestAdr == f.myIP {
		switch p.Protocol {
		case wire.ProtoData:
			metrics.DataPacketsRecv.Add(1)
			_ = f.toApp.Put(ctx, Delivered{Payload: p.Payload, Src: p.SrcAdr.String()})
		case wire.ProtoControl:
			metrics.ControlPacketsRecv.Add(1)
			_ = f.toRouter.Put(ctx, p)
		default:
			f.log.Debug("dropping packet with unknown protocol", "protocol", p.Protocol)
		}
		return
	}

	// Transit: decrement TTL, drop on expiry, otherwise forward.
	p.TTL--
	if p.TTL == 0 {
		metrics.PacketsDropped.Add(1)
		f.log.Debug("dropping transit packet, ttl expired", "dst", p.DestAdr)
		return
	}
	link := f.lookup(p.DestAdr)
	if link == NoLink {
		// Unreachable under normal configuration: the default route
		// always matches. Kept as a documented, silent drop.
		return
	}
	_ = f.sub.Send(ctx, link, p)
}

func (f *Forwarder) handleRouterEgress(ctx context.Context) {
	rs, err := f.fromRouter.Take(ctx)
	if err != nil {
		return
	}
	_ = f.sub.Send(ctx, rs.Link, rs.Packet)
}

func (f *Forwarder) handleAppEgress(ctx context.Context) {
	p, err := f.fromApp.Take(ctx)
	if err != nil {
		return
	}
	link := f.lookup(p.DestAdr)
	if link == NoLink {
		return
	}
	if f.tier.TracesAllPackets() {
		f.tracePkt("send", p, link)
	}
	metrics.DataPacketsSent.Add(1)
	_ = f.sub.Send(ctx, link, p)
}
