// Package config loads the line-oriented "key: value" router config
// file described in spec.md §6. This is deliberately not YAML: the
// wire grammar is dictated by the spec, and a generic decoder would
// not enforce the repeatable-key / ordered-neighbor-list semantics
// the router depends on (link index == position in the neighbor list).
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pathvec/pathrtr/internal/wire"
)

// Neighbor is one configured peer; its index in Config.Neighbors is
// the stable link index used everywhere else in the system.
type Neighbor struct {
	OverlayIP wire.Address
	HostIP    string
	Delay     float64
}

// Config is the immutable descriptor produced by Load and handed to
// each component at construction (spec.md §9 "Global state").
type Config struct {
	HostIP       string
	MyIP         wire.Address
	Prefixes     []wire.Prefix
	Neighbors    []Neighbor
	Destinations []string
}

// ParseError names the offending line of a malformed config file.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config: line %d (%q): %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a config file from r. Split out from Load for testability.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	haveMyIP := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ParseError{Line: lineNo, Text: line, Err: fmt.Errorf("missing ':'")}
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		switch key {
		case "hostIp":
			cfg.HostIP = val
		case "myIp":
			addr, err := wire.ParseAddress(val)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Text: line, Err: err}
			}
			cfg.MyIP = addr
			haveMyIP = true
		case "prefix":
			pfx, err := wire.ParsePrefix(val)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Text: line, Err: err}
			}
			cfg.Prefixes = append(cfg.Prefixes, pfx)
		case "neighbor":
			n, err := parseNeighbor(val)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Text: line, Err: err}
			}
			cfg.Neighbors = append(cfg.Neighbors, n)
		case "destination":
			cfg.Destinations = append(cfg.Destinations, val)
		default:
			return nil, &ParseError{Line: lineNo, Text: line, Err: fmt.Errorf("unrecognized key %q", key)}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.HostIP == "" {
		return nil, fmt.Errorf("config: missing required key hostIp")
	}
	if !haveMyIP {
		return nil, fmt.Errorf("config: missing required key myIp")
	}
	return cfg, nil
}

func parseNeighbor(val string) (Neighbor, error) {
	fields := strings.Fields(val)
	if len(fields) != 3 {
		return Neighbor{}, fmt.Errorf("expected '<overlayIp> <hostIp> <delay>', got %q", val)
	}
	addr, err := wire.ParseAddress(fields[0])
	if err != nil {
		return Neighbor{}, err
	}
	delay, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Neighbor{}, fmt.Errorf("invalid delay %q: %w", fields[2], err)
	}
	return Neighbor{OverlayIP: addr, HostIP: fields[1], Delay: delay}, nil
}

// Validate performs the sanity checks the "validate" CLI subcommand
// runs without starting any component: at least one neighbor, no
// duplicate neighbor overlay addresses, and no negative neighbor delay.
// Host names are not resolved here.
func Validate(cfg *Config) error {
	if len(cfg.Neighbors) == 0 {
		return fmt.Errorf("config: no neighbors configured")
	}
	seen := make(map[wire.Address]bool, len(cfg.Neighbors))
	for _, n := range cfg.Neighbors {
		if seen[n.OverlayIP] {
			return fmt.Errorf("config: duplicate neighbor overlay address %s", n.OverlayIP)
		}
		seen[n.OverlayIP] = true
		if n.Delay < 0 {
			return fmt.Errorf("config: neighbor %s has negative delay", n.OverlayIP)
		}
	}
	return nil
}
