package router

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathvec/pathrtr/internal/clock"
	"github.com/pathvec/pathrtr/internal/config"
	"github.com/pathvec/pathrtr/internal/logging"
	"github.com/pathvec/pathrtr/internal/wire"
)

// fakeForwarder records every packet handed to SendPkt and every
// installed forwarding-table route, so tests can assert on the
// router's outbound behavior without a real forwarder or substrate.
type fakeForwarder struct {
	mu     sync.Mutex
	sent   []sentPkt
	routes []addedRoute
}

type sentPkt struct {
	pkt  wire.Packet
	link int
}

type addedRoute struct {
	prefix wire.Prefix
	link   int
}

func (f *fakeForwarder) SendPkt(ctx context.Context, p wire.Packet, link int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPkt{p, link})
	return nil
}

func (f *fakeForwarder) ReceivePkt(ctx context.Context) (wire.Packet, error) {
	<-ctx.Done()
	return wire.Packet{}, ctx.Err()
}

func (f *fakeForwarder) Ready4Pkt() bool   { return true }
func (f *fakeForwarder) IncomingPkt() bool { return false }

func (f *fakeForwarder) AddRoute(prefix wire.Prefix, link int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, addedRoute{prefix, link})
}

func (f *fakeForwarder) sentSnapshot() []sentPkt {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentPkt, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestRouter(t *testing.T, numLinks int) (*Router, *fakeForwarder) {
	t.Helper()
	neighbors := make([]config.Neighbor, numLinks)
	for i := range neighbors {
		neighbors[i] = config.Neighbor{OverlayIP: addr(t, addrFor(i)), Delay: 0.05}
	}
	cfg := &config.Config{
		MyIP:      addr(t, "10.0.0.1"),
		Neighbors: neighbors,
	}
	fwd := &fakeForwarder{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(cfg, fwd, clock.New(), log, false, logging.TierNone)
	return r, fwd
}

func addrFor(i int) string {
	return []string{"10.0.0.2", "10.0.0.3", "10.0.0.4"}[i]
}

func TestHandleAdvertInstallsNewRoute(t *testing.T) {
	r, fwd := newTestRouter(t, 2)
	pfx, _ := wire.ParsePrefix("192.168.0.0/24")
	peer := addr(t, "10.0.0.2")

	r.handleAdvert(context.Background(), 0, wire.AdvertMsg{
		Prefix: pfx, Timestamp: r.clock.Now(), Cost: 1.0, Path: []wire.Address{peer},
	})

	rte, ok := r.routes[pfx]
	require.True(t, ok)
	assert.True(t, rte.Valid)
	assert.Equal(t, 0, rte.OutLink)
	assert.InDelta(t, 1.05, rte.Cost, 1e-9) // advertised cost + link cost

	require.Len(t, fwd.routes, 1)
	assert.Equal(t, pfx, fwd.routes[0].prefix)
	assert.Equal(t, 0, fwd.routes[0].link)

	// Split horizon: readvertised on the other link, not the one it arrived on.
	sent := fwd.sentSnapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, 1, sent[0].link)
}

func TestPrintTableReflectsDisabledLinks(t *testing.T) {
	r, _ := newTestRouter(t, 1)
	pfx, _ := wire.ParsePrefix("192.168.0.0/24")
	peer := addr(t, "10.0.0.2")
	r.handleAdvert(context.Background(), 0, wire.AdvertMsg{
		Prefix: pfx, Timestamp: r.clock.Now(), Cost: 1.0, Path: []wire.Address{peer},
	})
	r.links[0].HelloState = 0

	assert.NotPanics(t, func() { r.printTable() })
}

func TestHandleAdvertDropsSelfLoop(t *testing.T) {
	r, fwd := newTestRouter(t, 1)
	pfx, _ := wire.ParsePrefix("192.168.0.0/24")

	r.handleAdvert(context.Background(), 0, wire.AdvertMsg{
		Prefix: pfx, Timestamp: r.clock.Now(), Cost: 1.0, Path: []wire.Address{r.myIP},
	})

	_, ok := r.routes[pfx]
	assert.False(t, ok)
	assert.Empty(t, fwd.sentSnapshot())
}

func TestHandleAdvertDropsOnDeadLink(t *testing.T) {
	r, fwd := newTestRouter(t, 1)
	r.links[0].HelloState = 0
	pfx, _ := wire.ParsePrefix("192.168.0.0/24")

	r.handleAdvert(context.Background(), 0, wire.AdvertMsg{
		Prefix: pfx, Timestamp: r.clock.Now(), Cost: 1.0, Path: []wire.Address{addr(t, "10.0.0.2")},
	})

	_, ok := r.routes[pfx]
	assert.False(t, ok)
	assert.Empty(t, fwd.sentSnapshot())
}

func TestHandleFadvertInvalidatesCrossingRoutes(t *testing.T) {
	r, fwd := newTestRouter(t, 2)
	pfx, _ := wire.ParsePrefix("192.168.0.0/24")
	a := addr(t, "10.0.0.5")
	b := addr(t, "10.0.0.6")
	r.routes[pfx] = &Route{
		Prefix: pfx, Valid: true, Cost: 1.0, OutLink: 0,
		Path: []wire.Address{r.myIP, a, b},
	}

	r.handleFadvert(context.Background(), 1, wire.FadvertMsg{
		A: a, B: b, Timestamp: r.clock.Now(), Path: []wire.Address{a},
	})

	assert.False(t, r.routes[pfx].Valid)
	sent := fwd.sentSnapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, 0, sent[0].link) // propagated on every link except the one it arrived on (1)
}

func TestHandleFadvertNoOpWhenNoRouteCrossesFailure(t *testing.T) {
	r, fwd := newTestRouter(t, 2)
	pfx, _ := wire.ParsePrefix("192.168.0.0/24")
	r.routes[pfx] = &Route{Prefix: pfx, Valid: true, Path: []wire.Address{r.myIP, addr(t, "10.0.0.9")}}

	r.handleFadvert(context.Background(), 1, wire.FadvertMsg{
		A: addr(t, "10.0.0.5"), B: addr(t, "10.0.0.6"), Timestamp: r.clock.Now(),
	})

	assert.True(t, r.routes[pfx].Valid)
	assert.Empty(t, fwd.sentSnapshot())
}

func TestHandleHelloReplyUpdatesLinkCost(t *testing.T) {
	r, _ := newTestRouter(t, 1)
	before := r.links[0].Cost
	// Timestamp in the past simulates a round trip that already elapsed.
	r.handleHelloReply(0, wire.HelloMsg{Kind: wire.KindHello2u, Timestamp: -0.2})
	assert.NotEqual(t, before, r.links[0].Cost)
	assert.True(t, r.links[0].GotReply)
	assert.Equal(t, 3, r.links[0].HelloState)
}

func TestResolveLinkFindsConfiguredPeer(t *testing.T) {
	r, _ := newTestRouter(t, 2)
	link, ok := r.resolveLink(addr(t, "10.0.0.3"))
	assert.True(t, ok)
	assert.Equal(t, 1, link)

	_, ok = r.resolveLink(addr(t, "10.0.0.99"))
	assert.False(t, ok)
}

func TestInvalidateRoutesOnLinkReportsChange(t *testing.T) {
	r, _ := newTestRouter(t, 1)
	pfx, _ := wire.ParsePrefix("192.168.0.0/24")
	r.routes[pfx] = &Route{Prefix: pfx, Valid: true, OutLink: 0}

	changed := r.invalidateRoutesOnLink(0)
	assert.True(t, changed)
	assert.False(t, r.routes[pfx].Valid)

	// Second call: nothing left to invalidate.
	changed = r.invalidateRoutesOnLink(0)
	assert.False(t, changed)
}
