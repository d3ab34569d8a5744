package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// ControlKind tags the variants of the control-packet payload grammar.
// Modeling these as a parsed-once tagged union (spec.md Design Notes)
// keeps every downstream handler switching on a Go type instead of
// re-parsing strings.
type ControlKind int

const (
	KindHello ControlKind = iota
	KindHello2u
	KindAdvert
	KindFadvert
)

// HelloMsg is both the "hello" and "hello2u" payload; Kind distinguishes them.
type HelloMsg struct {
	Kind      ControlKind
	Timestamp float64
}

// AdvertMsg is a "pathvec" advertisement.
type AdvertMsg struct {
	Prefix    Prefix
	Timestamp float64
	Cost      float64
	Path      []Address
}

// FadvertMsg is a "linkfail" link-failure advertisement.
type FadvertMsg struct {
	A, B      Address
	Timestamp float64
	Path      []Address
}

// ControlMessage is the parsed tagged union of a control payload.
type ControlMessage interface {
	controlKind() ControlKind
}

func (m HelloMsg) controlKind() ControlKind   { return m.Kind }
func (m AdvertMsg) controlKind() ControlKind  { return KindAdvert }
func (m FadvertMsg) controlKind() ControlKind { return KindFadvert }

// ParseControl parses a control payload. ok is false when the payload
// should be silently dropped: bad preamble, an unknown type value, or a
// malformed typed line. No error value is returned; the three cases are
// not distinguished to the caller.
func ParseControl(payload []byte) (msg ControlMessage, ok bool) {
	lines := strings.Split(string(payload), "\n")
	if len(lines) < 2 || lines[0] != "RPv0" {
		return nil, false
	}
	key, typ, found := strings.Cut(lines[1], ":")
	if !found || strings.TrimSpace(key) != "type" {
		return nil, false
	}
	typ = strings.TrimSpace(typ)

	switch typ {
	case "hello":
		ts, ok := parseTimestampLine(lines, 2)
		if !ok {
			return nil, false
		}
		return HelloMsg{Kind: KindHello, Timestamp: ts}, true
	case "hello2u":
		ts, ok := parseTimestampLine(lines, 2)
		if !ok {
			return nil, false
		}
		return HelloMsg{Kind: KindHello2u, Timestamp: ts}, true
	case "advert":
		return parseAdvert(lines)
	case "fadvert":
		return parseFadvert(lines)
	default:
		return nil, false
	}
}

func parseTimestampLine(lines []string, idx int) (float64, bool) {
	if idx >= len(lines) {
		return 0, false
	}
	key, val, found := strings.Cut(lines[idx], ":")
	if !found || strings.TrimSpace(key) != "timestamp" {
		return 0, false
	}
	ts, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

func parseAdvert(lines []string) (ControlMessage, bool) {
	if len(lines) < 3 {
		return nil, false
	}
	key, val, found := strings.Cut(lines[2], ":")
	if !found || strings.TrimSpace(key) != "pathvec" {
		return nil, false
	}
	fields := strings.Fields(strings.TrimSpace(val))
	if len(fields) < 4 {
		return nil, false
	}
	pfx, err := ParsePrefix(fields[0])
	if err != nil {
		return nil, false
	}
	ts, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return nil, false
	}
	cost, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, false
	}
	path := make([]Address, 0, len(fields)-3)
	for _, f := range fields[3:] {
		a, err := ParseAddress(f)
		if err != nil {
			return nil, false
		}
		path = append(path, a)
	}
	return AdvertMsg{Prefix: pfx, Timestamp: ts, Cost: cost, Path: path}, true
}

func parseFadvert(lines []string) (ControlMessage, bool) {
	if len(lines) < 3 {
		return nil, false
	}
	key, val, found := strings.Cut(lines[2], ":")
	if !found || strings.TrimSpace(key) != "linkfail" {
		return nil, false
	}
	fields := strings.Fields(strings.TrimSpace(val))
	if len(fields) < 4 {
		return nil, false
	}
	a, err := ParseAddress(fields[0])
	if err != nil {
		return nil, false
	}
	b, err := ParseAddress(fields[1])
	if err != nil {
		return nil, false
	}
	ts, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, false
	}
	path := make([]Address, 0, len(fields)-3)
	for _, f := range fields[3:] {
		addr, err := ParseAddress(f)
		if err != nil {
			return nil, false
		}
		path = append(path, addr)
	}
	return FadvertMsg{A: a, B: b, Timestamp: ts, Path: path}, true
}

// FormatHello builds a "hello" payload for timestamp now.
func FormatHello(now float64) []byte {
	return []byte(fmt.Sprintf("RPv0\ntype: hello\ntimestamp: %.3f\n", now))
}

// FormatHello2u echoes a hello back, replacing only the type line and
// preserving the original timestamp exactly as received.
func FormatHello2u(originalTimestamp float64) []byte {
	return []byte(fmt.Sprintf("RPv0\ntype: hello2u\ntimestamp: %.3f\n", originalTimestamp))
}

// FormatAdvert builds a "pathvec" advertisement payload.
func FormatAdvert(pfx Prefix, now, cost float64, path []Address) []byte {
	var sb strings.Builder
	sb.WriteString("RPv0\ntype: advert\npathvec: ")
	sb.WriteString(pfx.String())
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatFloat(now, 'f', 3, 64))
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatFloat(cost, 'f', 3, 64))
	for _, a := range path {
		sb.WriteByte(' ')
		sb.WriteString(a.String())
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}

// FormatFadvert builds a "linkfail" advertisement payload for the
// failed adjacency (a, b); path is the propagation path so far.
func FormatFadvert(a, b Address, now float64, path []Address) []byte {
	var sb strings.Builder
	sb.WriteString("RPv0\ntype: fadvert\nlinkfail: ")
	sb.WriteString(a.String())
	sb.WriteByte(' ')
	sb.WriteString(b.String())
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatFloat(now, 'f', 3, 64))
	for _, a := range path {
		sb.WriteByte(' ')
		sb.WriteString(a.String())
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}
