// Package substrate implements the emulated overlay link layer
// (spec.md §4.3): one delay-emulating FIFO egress queue per link, a
// single ingress demultiplexer, and the UDP wire codec tying both to a
// shared datagram socket on port 31313.
package substrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/pathvec/pathrtr/internal/clock"
	"github.com/pathvec/pathrtr/internal/config"
	"github.com/pathvec/pathrtr/internal/metrics"
	"github.com/pathvec/pathrtr/internal/queue"
	"github.com/pathvec/pathrtr/internal/wire"
)

// Port is the fixed UDP port every router listens and sends on.
const Port = 31313

const (
	senderGrace   = 3 * time.Second
	receiverGrace = 5 * time.Second
	hostTTL       = 30 * time.Second
)

// Received pairs a decoded packet with the link it arrived on.
type Received struct {
	Packet wire.Packet
	Link   int
}

type queuedPacket struct {
	packet      wire.Packet
	enqueueTime float64
}

// linkQueue is a per-link egress FIFO. It layers a one-element "peeked
// head" on top of a bounded channel so the sender's scheduler can check
// a packet's release deadline without disturbing FIFO order or losing
// the packet if it isn't due yet.
type linkQueue struct {
	ch chan queuedPacket

	mu   sync.Mutex
	head *queuedPacket
}

func newLinkQueue() *linkQueue {
	return &linkQueue{ch: make(chan queuedPacket, queue.Capacity)}
}

func (q *linkQueue) put(ctx context.Context, v queuedPacket) error {
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *linkQueue) ready() bool { return len(q.ch) < cap(q.ch) }

func (q *linkQueue) incoming() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head != nil || len(q.ch) > 0
}

// peek returns the head packet without removing it, pulling a new one
// off the channel if none is currently held.
func (q *linkQueue) peek() (queuedPacket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == nil {
		select {
		case v := <-q.ch:
			q.head = &v
		default:
			return queuedPacket{}, false
		}
	}
	return *q.head, true
}

func (q *linkQueue) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head = nil
}

// watermark tracks the last time a protocol==1 (data) packet was
// processed, for the termination heuristic of spec.md §4.3.
type watermark struct {
	seen   atomic.Bool
	lastNs atomic.Int64
}

func (w *watermark) mark(now time.Time) {
	w.seen.Store(true)
	w.lastNs.Store(now.UnixNano())
}

func (w *watermark) expired(grace time.Duration, now time.Time) bool {
	if !w.seen.Load() {
		return false
	}
	last := time.Unix(0, w.lastNs.Load())
	return now.Sub(last) >= grace
}

// Substrate owns the shared UDP socket, the per-link egress queues, and
// the single ingress queue. Created once and released only after both
// the sender and receiver goroutines have joined (spec.md §5 resource
// discipline).
type Substrate struct {
	conn      *net.UDPConn
	neighbors []config.Neighbor
	static    bool
	clock     *clock.Clock
	log       *slog.Logger

	mu    sync.Mutex
	delay []float64 // signed; abs() is the value used for release timing

	egress  []*linkQueue
	ingress *queue.Queue[Received]

	hostCache *ttlcache.Cache[string, net.IP]

	sendWm watermark
	recvWm watermark

	wg sync.WaitGroup
}

// New binds the shared socket at hostIP:Port and prepares one egress
// queue per configured neighbor.
func New(hostIP string, neighbors []config.Neighbor, static bool, clk *clock.Clock, log *slog.Logger) (*Substrate, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", hostIP, Port))
	if err != nil {
		return nil, fmt.Errorf("substrate: resolve bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("substrate: listen: %w", err)
	}

	egress := make([]*linkQueue, len(neighbors))
	delay := make([]float64, len(neighbors))
	for i, n := range neighbors {
		egress[i] = newLinkQueue()
		delay[i] = n.Delay
	}

	cache := ttlcache.New[string, net.IP](ttlcache.WithTTL[string, net.IP](hostTTL))
	go cache.Start()

	return &Substrate{
		conn:      conn,
		neighbors: neighbors,
		static:    static,
		clock:     clk,
		log:       log,
		delay:     delay,
		egress:    egress,
		ingress:   queue.New[Received](),
		hostCache: cache,
	}, nil
}

// Incoming reports whether Take would not block.
func (s *Substrate) Incoming() bool { return s.ingress.Incoming() }

// Take dequeues the next received packet and its link index.
func (s *Substrate) Take(ctx context.Context) (wire.Packet, int, error) {
	r, err := s.ingress.Take(ctx)
	if err != nil {
		return wire.Packet{}, 0, err
	}
	return r.Packet, r.Link, nil
}

// Ready reports whether Send to link would not block.
func (s *Substrate) Ready(link int) bool {
	if link < 0 || link >= len(s.egress) {
		return false
	}
	return s.egress[link].ready()
}

// Send enqueues p for egress on link, blocking until there is room.
func (s *Substrate) Send(ctx context.Context, link int, p wire.Packet) error {
	if link < 0 || link >= len(s.egress) {
		return fmt.Errorf("substrate: invalid link %d", link)
	}
	metrics.SubstrateQueueDepth.Add(1)
	return s.egress[link].put(ctx, queuedPacket{packet: p, enqueueTime: s.clock.Now()})
}

// Run starts the sender and receiver tasks and blocks until both exit,
// then releases the shared socket. A fatal receiver condition (spec.md
// §7: short/oversized packet, unknown-host datagram) calls cancel so
// the rest of the process unwinds instead of hanging on a half-dead
// substrate, and is returned so the caller can exit non-zero (spec.md
// §6).
func (s *Substrate) Run(ctx context.Context, cancel context.CancelFunc) error {
	fatal := make(chan error, 1)

	s.wg.Add(2)
	go s.runSender(ctx)
	go s.runReceiver(ctx, fatal)

	var fatalErr error
	select {
	case err := <-fatal:
		fatalErr = err
		s.log.Error("substrate: fatal receiver error, shutting down", "err", err)
		cancel()
	case <-ctx.Done():
	}

	s.wg.Wait()
	s.hostCache.Stop()
	_ = s.conn.Close()
	return fatalErr
}

// runSender is the egress scheduler: one goroutine scans every link's
// queue and releases each head packet once its emulated delay elapses.
func (s *Substrate) runSender(ctx context.Context) {
	defer s.wg.Done()
	lastPerturb := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.sendWm.expired(senderGrace, time.Now()) {
			return
		}

		if !s.static && time.Since(lastPerturb) >= time.Second {
			s.perturbDelays()
			lastPerturb = time.Now()
		}

		released := false
		for i, q := range s.egress {
			pkt, ok := q.peek()
			if !ok {
				continue
			}
			if s.clock.Now() < pkt.enqueueTime+s.linkDelay(i) {
				continue
			}
			s.transmit(i, pkt.packet)
			q.pop()
			released = true
		}
		if !released {
			time.Sleep(time.Millisecond)
		}
	}
}

func (s *Substrate) linkDelay(link int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.delay[link]
	if d < 0 {
		return -d
	}
	return d
}

// perturbDelays applies the dynamic delay emulation of spec.md §4.3.
func (s *Substrate) perturbDelays() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.delay {
		cube := float64((i + 1) * (i + 1) * (i + 1))
		s.delay[i] += 0.002 * cube
		if s.delay[i] > 0.5 || s.delay[i] < -0.5 || rand.Float64() < 0.02 {
			s.delay[i] = -s.delay[i]
		}
	}
}

func (s *Substrate) transmit(link int, p wire.Packet) {
	buf, err := wire.Encode(p)
	if err != nil {
		s.log.Debug("substrate: dropping unencodable packet", "err", err)
		return
	}
	n := s.neighbors[link]
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", n.HostIP, Port))
	if err != nil {
		s.log.Debug("substrate: cannot resolve neighbor host", "host", n.HostIP, "err", err)
		return
	}
	if _, err := s.conn.WriteToUDP(buf, addr); err != nil {
		s.log.Debug("substrate: write failed", "link", link, "err", err)
		return
	}
	if p.Protocol == wire.ProtoData {
		s.sendWm.mark(time.Now())
		metrics.DataPacketsSent.Add(1)
	} else {
		metrics.ControlPacketsSent.Add(1)
	}
}

// runReceiver blocks on the shared socket with a 100ms timeout,
// retrying on timeout, and demultiplexes by matching the UDP source
// address against the configured neighbor list.
func (s *Substrate) runReceiver(ctx context.Context, fatal chan<- error) {
	defer s.wg.Done()
	buf := make([]byte, wire.MaxPacketBytes)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.recvWm.expired(receiverGrace, time.Now()) {
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case fatal <- fmt.Errorf("substrate: receive error: %w", err):
			default:
			}
			return
		}

		p, err := wire.Decode(buf[:n])
		if err != nil {
			if errors.Is(err, wire.ErrNonASCIIPayload) {
				s.log.Debug("substrate: dropping non-ASCII payload", "from", from.IP, "err", err)
				continue
			}
			select {
			case fatal <- fmt.Errorf("substrate: %w", err):
			default:
			}
			return
		}

		link, ok := s.linkFor(from.IP.String())
		if !ok {
			select {
			case fatal <- fmt.Errorf("substrate: packet from unknown host %s", from.IP):
			default:
			}
			return
		}

		if p.Protocol == wire.ProtoData {
			s.recvWm.mark(time.Now())
			metrics.DataPacketsRecv.Add(1)
		} else {
			metrics.ControlPacketsRecv.Add(1)
		}

		if !s.ingress.TryPut(Received{Packet: p, Link: link}) {
			metrics.PacketsDropped.Add(1)
			s.log.Debug("substrate: ingress queue full, dropping packet")
		}
	}
}

// linkFor resolves each neighbor's host address (cached with a TTL, so
// a flaky resolver never blocks the receive hot path) and returns the
// link index whose resolved address matches host.
func (s *Substrate) linkFor(host string) (int, bool) {
	for i, n := range s.neighbors {
		if n.HostIP == host {
			return i, true
		}
		if resolved := s.resolveCached(n.HostIP); resolved != nil && resolved.String() == host {
			return i, true
		}
	}
	return 0, false
}

func (s *Substrate) resolveCached(host string) net.IP {
	if item := s.hostCache.Get(host); item != nil {
		return item.Value()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		addr, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return nil
		}
		ip = addr.IP
	}
	s.hostCache.Set(host, ip, ttlcache.DefaultTTL)
	return ip
}
