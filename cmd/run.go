package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pathvec/pathrtr/internal/config"
	"github.com/pathvec/pathrtr/internal/logging"
	"github.com/pathvec/pathrtr/internal/metrics"
	"github.com/pathvec/pathrtr/internal/runtime"
)

var (
	logPath    string
	metricsBnd string
)

// runCmd implements the CLI grammar of spec.md §6:
// configFile delta runLength [static] [debug|debugg|debuggg|debugggg] [enFA]
var runCmd = &cobra.Command{
	Use:     "run <configFile> <delta> <runLength> [static] [debug|debugg|debuggg|debugggg] [enFA]",
	Short:   "Run the router",
	Args:    cobra.MinimumNArgs(3),
	GroupID: "core",
	RunE:    runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&logPath, "log-path", "", "mirror logs to this file (only takes effect at the debugggg tier)")
	runCmd.Flags().StringVar(&metricsBnd, "metrics-addr", "", "if set, serve /debug/metrics and /debug/routes here")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	deltaSec, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid delta %q: %w", args[1], err)
	}
	runLenSec, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid runLength %q: %w", args[2], err)
	}

	opts := runtime.Options{
		Delta:     time.Duration(deltaSec * float64(time.Second)),
		RunLength: time.Duration(runLenSec * float64(time.Second)),
	}
	tier := logging.TierNone
	for _, tok := range args[3:] {
		switch tok {
		case "static":
			opts.Static = true
		case "debug":
			tier = logging.TierDebug
		case "debugg":
			tier = logging.TierDebugg
		case "debuggg":
			tier = logging.TierDebuggg
		case "debugggg":
			tier = logging.TierDebugggg
		case "enFA":
			opts.EnableFailureAdvert = true
		default:
			return fmt.Errorf("unrecognized argument %q", tok)
		}
	}

	opts.DebugTier = tier

	log, err := logging.New(logging.Options{Prefix: cfg.MyIP.String(), Tier: tier, LogPath: logPath})
	if err != nil {
		return err
	}

	node, err := runtime.New(cfg, opts, log)
	if err != nil {
		return err
	}

	if metricsBnd != "" {
		metrics.Publish()
		http.HandleFunc("/debug/forwarding", func(w http.ResponseWriter, r *http.Request) {
			for _, e := range node.Forwarder.Table() {
				fmt.Fprintf(w, "%s -> link %d\n", e.Prefix, e.Link)
			}
		})
		http.HandleFunc("/debug/routes", func(w http.ResponseWriter, r *http.Request) {
			for _, rte := range node.Router.DumpRoutes(r.Context()) {
				fmt.Fprintf(w, "%s cost=%.3f valid=%v path=%v outLink=%d\n", rte.Prefix, rte.Cost, rte.Valid, rte.Path, rte.OutLink)
			}
		})
		go func() {
			if err := http.ListenAndServe(metricsBnd, nil); err != nil {
				log.Error("metrics server exited", "err", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	node.Start(ctx)
	<-node.Done()
	node.Stop()
	if err := node.Err(); err != nil {
		return fmt.Errorf("fatal substrate error: %w", err)
	}
	return nil
}
