// Package wire implements the overlay data model and binary/text
// encodings shared by the forwarder, router and substrate: overlay
// addresses and prefixes, the 10-byte packet header, and the control
// packet payload grammar.
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a 32-bit overlay IP address, written externally in dotted-quad form.
type Address uint32

// Broadcast-free zero value; the default route matches everything against it.
const ZeroAddress Address = 0

// ParseAddress parses a dotted-quad string such as "1.2.3.4".
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("wire: invalid address %q: expected 4 octets", s)
	}
	var a Address
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("wire: invalid address %q: %w", s, err)
		}
		a = a<<8 | Address(v)
	}
	return a, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}
