package substrate

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathvec/pathrtr/internal/clock"
	"github.com/pathvec/pathrtr/internal/config"
	"github.com/pathvec/pathrtr/internal/wire"
)

func TestLinkQueuePeekIsStableUntilPop(t *testing.T) {
	q := newLinkQueue()
	ctx := context.Background()
	require.NoError(t, q.put(ctx, queuedPacket{packet: wire.Packet{TTL: 1}, enqueueTime: 1.0}))

	first, ok := q.peek()
	require.True(t, ok)
	second, ok := q.peek()
	require.True(t, ok)
	assert.Equal(t, first, second, "peek must not consume the head")

	assert.True(t, q.incoming())
	q.pop()
	assert.False(t, q.incoming())
}

func TestLinkQueueIncomingReflectsQueuedButUnpeeked(t *testing.T) {
	q := newLinkQueue()
	assert.False(t, q.incoming())
	require.NoError(t, q.put(context.Background(), queuedPacket{}))
	assert.True(t, q.incoming())
}

func TestWatermarkNotExpiredBeforeFirstMark(t *testing.T) {
	var w watermark
	assert.False(t, w.expired(time.Millisecond, time.Now()))
}

func TestWatermarkExpiresAfterGrace(t *testing.T) {
	var w watermark
	w.mark(time.Now().Add(-time.Second))
	assert.True(t, w.expired(100*time.Millisecond, time.Now()))
	assert.False(t, w.expired(10*time.Second, time.Now()))
}

func TestPerturbDelaysFlipsSignPastThreshold(t *testing.T) {
	s := &Substrate{delay: []float64{0.499}}
	s.perturbDelays()
	// 0.499 + 0.002*1^3 = 0.501 > 0.5, so it must flip negative.
	assert.Less(t, s.delay[0], 0.0)
}

func TestLinkDelayIsAbsoluteValue(t *testing.T) {
	s := &Substrate{delay: []float64{-0.25}}
	assert.Equal(t, 0.25, s.linkDelay(0))
}

// TestSubstrateSendReceiveRoundTrip exercises two Substrate instances
// talking over real loopback UDP sockets, matching spec.md §4.3's
// requirement that the substrate be a real wire codec, not a mock.
func TestSubstrateSendReceiveRoundTrip(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.New()

	aNeighbors := []config.Neighbor{{HostIP: "127.0.0.2", Delay: 0.001}}
	bNeighbors := []config.Neighbor{{HostIP: "127.0.0.1", Delay: 0.001}}

	a, err := New("127.0.0.1", aNeighbors, true, clk, log)
	require.NoError(t, err)
	b, err := New("127.0.0.2", bNeighbors, true, clk, log)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go a.Run(ctx, cancel)
	go b.Run(ctx, cancel)

	src, _ := wire.ParseAddress("10.0.0.1")
	dst, _ := wire.ParseAddress("10.0.0.2")
	pkt := wire.Packet{Protocol: wire.ProtoData, TTL: 10, SrcAdr: src, DestAdr: dst, Payload: []byte("ping")}

	sendCtx, sendCancel := context.WithTimeout(ctx, time.Second)
	defer sendCancel()
	require.NoError(t, a.Send(sendCtx, 0, pkt))

	recvCtx, recvCancel := context.WithTimeout(ctx, 3*time.Second)
	defer recvCancel()
	gotPkt, link, err := b.Take(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, 0, link)
	assert.Equal(t, pkt.Payload, gotPkt.Payload)
	assert.Equal(t, pkt.SrcAdr, gotPkt.SrcAdr)
	assert.Equal(t, pkt.DestAdr, gotPkt.DestAdr)
}

// TestRunCancelsAndReturnsErrorOnUnknownHostDatagram exercises spec.md
// §6/§7: a datagram from a host outside the configured neighbor list is
// fatal for the receiver, and that fatality must bring the whole
// substrate down rather than leaving the sender goroutine running
// forever with nobody watching s.wg.
func TestRunCancelsAndReturnsErrorOnUnknownHostDatagram(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.New()

	s, err := New("127.0.0.3", nil, true, clk, log)
	require.NoError(t, err)

	sender, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.3"), Port: Port})
	require.NoError(t, err)
	defer sender.Close()

	src, _ := wire.ParseAddress("10.0.0.1")
	dst, _ := wire.ParseAddress("10.0.0.2")
	buf, err := wire.Encode(wire.Packet{Protocol: wire.ProtoData, TTL: 10, SrcAdr: src, DestAdr: dst, Payload: []byte("hi")})
	require.NoError(t, err)
	_, err = sender.Write(buf)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := s.Run(ctx, cancel)
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "unknown host")
	assert.Error(t, ctx.Err(), "a fatal receiver error must cancel the shared context")
}

// TestRunReceiverDropsNonASCIIPayloadWithoutFatal exercises spec.md §7:
// only short/oversized packets are fatal for the receiver thread; a
// non-ASCII payload is dropped and the receive loop continues.
func TestRunReceiverDropsNonASCIIPayloadWithoutFatal(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.New()

	aNeighbors := []config.Neighbor{{HostIP: "127.0.0.6", Delay: 0.001}}
	a, err := New("127.0.0.5", aNeighbors, true, clk, log)
	require.NoError(t, err)

	sender, err := net.DialUDP("udp",
		&net.UDPAddr{IP: net.ParseIP("127.0.0.6")},
		&net.UDPAddr{IP: net.ParseIP("127.0.0.5"), Port: Port})
	require.NoError(t, err)
	defer sender.Close()

	src, _ := wire.ParseAddress("10.0.0.1")
	dst, _ := wire.ParseAddress("10.0.0.2")

	badBuf, err := wire.Encode(wire.Packet{Protocol: wire.ProtoData, TTL: 10, SrcAdr: src, DestAdr: dst, Payload: []byte{0xFF}})
	require.NoError(t, err)
	_, err = sender.Write(badBuf)
	require.NoError(t, err)

	good := wire.Packet{Protocol: wire.ProtoData, TTL: 10, SrcAdr: src, DestAdr: dst, Payload: []byte("ok")}
	goodBuf, err := wire.Encode(good)
	require.NoError(t, err)
	_, err = sender.Write(goodBuf)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go a.Run(ctx, cancel)

	recvCtx, recvCancel := context.WithTimeout(ctx, 3*time.Second)
	defer recvCancel()
	gotPkt, _, err := a.Take(recvCtx)
	require.NoError(t, err, "receiver must keep running past a dropped non-ASCII payload")
	assert.Equal(t, good.Payload, gotPkt.Payload)
}
