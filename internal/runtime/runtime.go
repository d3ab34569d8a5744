// Package runtime wires the forwarder, router, substrate and traffic
// generator into one running node and manages their shared lifecycle:
// spec.md §5 describes four cooperating tasks per process, coordinated
// through the cooperative-cancellation `quit` flag it calls for, here
// implemented as a context.Context, and joined on Stop().
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pathvec/pathrtr/internal/clock"
	"github.com/pathvec/pathrtr/internal/config"
	"github.com/pathvec/pathrtr/internal/forwarder"
	"github.com/pathvec/pathrtr/internal/genapp"
	"github.com/pathvec/pathrtr/internal/logging"
	"github.com/pathvec/pathrtr/internal/router"
	"github.com/pathvec/pathrtr/internal/substrate"
)

// Options carries the CLI-level knobs of spec.md §6 that aren't part
// of the config file.
type Options struct {
	Delta               time.Duration
	RunLength           time.Duration
	Static              bool
	EnableFailureAdvert bool
	DebugTier           logging.DebugTier
}

// Node is one running router process.
type Node struct {
	Forwarder *forwarder.Forwarder
	Router    *router.Router
	Substrate *substrate.Substrate
	App       *genapp.App

	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	fatalErr error
	wg       sync.WaitGroup
}

// New assembles a Node from a loaded config and CLI options.
func New(cfg *config.Config, opts Options, log *slog.Logger) (*Node, error) {
	clk := clock.New()

	sub, err := substrate.New(cfg.HostIP, cfg.Neighbors, opts.Static, clk, log)
	if err != nil {
		return nil, err
	}
	fwd := forwarder.New(cfg.MyIP, sub, clk, log, opts.DebugTier)
	rtr := router.New(cfg, fwd, clk, log, opts.EnableFailureAdvert, opts.DebugTier)
	app := genapp.New(fwd, cfg.Destinations, opts.Delta, opts.RunLength, log)

	return &Node{
		Forwarder: fwd,
		Router:    rtr,
		Substrate: sub,
		App:       app,
		log:       log,
	}, nil
}

// Start launches the substrate, forwarder and router tasks, plus the
// traffic generator, and returns immediately. The context it derives
// is cancelled either by the caller cancelling ctx, or by the
// substrate itself on a fatal receiver condition (spec.md §7); callers
// must watch Done rather than ctx.Done() to observe the latter.
func (n *Node) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.ctx = ctx
	n.cancel = cancel

	n.wg.Add(3)
	go func() { defer n.wg.Done(); n.fatalErr = n.Substrate.Run(ctx, cancel) }()
	go func() { defer n.wg.Done(); n.Forwarder.Run(ctx) }()
	go func() { defer n.wg.Done(); n.Router.Run(ctx) }()
	go n.App.Run(ctx)
}

// Done returns a channel closed once the node's run context is
// cancelled, whether by the caller or by a fatal substrate condition
// calling cancel internally. Callers should select on this instead of
// the context passed to Start, since the latter is never cancelled by
// the internal fatal path.
func (n *Node) Done() <-chan struct{} { return n.ctx.Done() }

// Err returns the fatal substrate error, if any, that caused Done to
// close on its own rather than because the caller cancelled its
// context. Spec.md §6 requires a non-zero exit in this case.
func (n *Node) Err() error { return n.fatalErr }

// Stop signals every task to exit and blocks until the three core
// tasks have joined (spec.md §5: "stop() joins the task"), then logs a
// final report of both tables, mirroring TestRouter.java's
// "Final Report" dump once sub.join() returns.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	n.log.Info("final report")
	n.Router.PrintTable()
	n.Forwarder.PrintTable()
}
