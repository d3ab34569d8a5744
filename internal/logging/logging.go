// Package logging sets up the process's slog logger, following the
// teacher's tint (colorized console handler) + slog-multi (fan-out to
// an optional file sink) pairing.
package logging

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

// LevelTrace sits below slog.LevelDebug; used by the "debuggg"/"debugggg"
// CLI verbosity tiers to surface per-packet tracing that would otherwise
// drown out ordinary debug logs.
const LevelTrace = slog.Level(-8)

// DebugTier is the CLI's four-level debug argument (spec.md §6:
// debug|debugg|debuggg|debugggg), grounded on original_source/TestRouter.java's
// "debug" integer (1..4) and the thresholds Sender.java/Receiver.java check
// against it (debug==2, debug==3, debug>=4).
type DebugTier int

const (
	TierNone    DebugTier = iota
	TierDebug             // "debug": print tables on every change
	TierDebugg            // "debugg": + trace advert/fadvert sends and receives
	TierDebuggg           // "debuggg": + trace every routing-protocol packet (hello included)
	TierDebugggg          // "debugggg": + trace every packet, including application data; mirror log to file
)

func (t DebugTier) Level() slog.Level {
	switch {
	case t >= TierDebuggg:
		return LevelTrace
	case t >= TierDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// TracesAdverts reports whether route/failure advertisement sends and
// receives should be traced individually, mirroring Sender.java's
// "debug == 2 && p.payload contains advert|fadvert" check.
func (t DebugTier) TracesAdverts() bool { return t >= TierDebugg }

// TracesRoutingPackets reports whether every routing-protocol packet
// (hello, advert, fadvert alike) should be traced, mirroring
// Sender.java's "debug == 3 && p.protocol == 2" check.
func (t DebugTier) TracesRoutingPackets() bool { return t >= TierDebuggg }

// TracesAllPackets reports whether every packet, including application
// data, should be traced, mirroring Sender.java's "debug >= 4" check.
func (t DebugTier) TracesAllPackets() bool { return t >= TierDebugggg }

// MirrorsToFile reports whether the top debug tier's log-to-file mirroring
// is active for this tier.
func (t DebugTier) MirrorsToFile() bool { return t >= TierDebugggg }

// Options configures New.
type Options struct {
	Prefix  string
	Tier    DebugTier
	LogPath string // path to mirror log lines to, once Tier reaches TierDebugggg
}

// New builds the process logger. Every component receives this logger
// (or a scoped child of it via logger.With(...)) at construction rather
// than reading a package-level global, so tests can inject Discard().
func New(opts Options) (*slog.Logger, error) {
	level := opts.Tier.Level()

	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: opts.Prefix,
		}),
	}

	if opts.Tier.MirrorsToFile() && opts.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogPath), 0o700); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(opts.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}

	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
