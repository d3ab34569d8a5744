// Package genapp is a minimal stand-in for the traffic generator / ping
// responder that spec.md §1 explicitly places out of scope, treating it
// as an external collaborator of the forwarder: it consumes only
// send/receive/ready/incoming, and nothing about the router or
// substrate internals. It exists so `pathrtr run` is an end-to-end
// runnable program.
package genapp

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Forwarder is the four-operation surface genapp is allowed to touch.
type Forwarder interface {
	Send(payload []byte, destString string) error
	Receive(ctx context.Context) ([]byte, string, error)
	Ready() bool
	Incoming() bool
}

// App periodically pings each configured destination and echoes back
// any ping it receives from a peer.
type App struct {
	fwd          Forwarder
	destinations []string
	delta        time.Duration
	runLength    time.Duration
	log          *slog.Logger
}

func New(fwd Forwarder, destinations []string, delta, runLength time.Duration, log *slog.Logger) *App {
	return &App{fwd: fwd, destinations: destinations, delta: delta, runLength: runLength, log: log}
}

// Run drives the ping generator for runLength and the ping responder
// forever, until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	go a.respond(ctx)
	a.generate(ctx)
}

func (a *App) generate(ctx context.Context) {
	if len(a.destinations) == 0 || a.delta <= 0 {
		return
	}
	deadline := time.Now().Add(a.runLength)
	ticker := time.NewTicker(a.delta)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if a.runLength > 0 && now.After(deadline) {
				return
			}
			seq++
			for _, dest := range a.destinations {
				if !a.fwd.Ready() {
					continue
				}
				payload := []byte(fmt.Sprintf("ping %d", seq))
				if err := a.fwd.Send(payload, dest); err != nil {
					a.log.Debug("genapp: send failed", "dest", dest, "err", err)
				}
			}
		}
	}
}

func (a *App) respond(ctx context.Context) {
	for {
		payload, src, err := a.fwd.Receive(ctx)
		if err != nil {
			return
		}
		text := string(payload)
		if len(text) >= 4 && text[:4] == "ping" {
			reply := []byte("pong" + text[4:])
			if err := a.fwd.Send(reply, src); err != nil {
				a.log.Debug("genapp: reply failed", "src", src, "err", err)
			}
		} else {
			a.log.Debug("genapp: received", "src", src, "payload", text)
		}
	}
}
