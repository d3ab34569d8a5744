package wire

import "testing"

func TestAddressRoundTrip(t *testing.T) {
	for _, s := range []string{"0.0.0.0", "1.2.3.4", "255.255.255.255", "10.20.30.40"} {
		a, err := ParseAddress(s)
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", s, err)
		}
		if got := a.String(); got != s {
			t.Errorf("String() = %q, want %q", got, s)
		}
	}
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	for _, s := range []string{"1.2.3", "1.2.3.4.5", "1.2.3.256", "abc.def.ghi.jkl", ""} {
		if _, err := ParseAddress(s); err == nil {
			t.Errorf("ParseAddress(%q) expected error, got nil", s)
		}
	}
}
