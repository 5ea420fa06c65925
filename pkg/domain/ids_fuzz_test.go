//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseAddress checks that parsing never panics on arbitrary input and
// always returns either a normalized address or an error.
func FuzzParseAddress(f *testing.F) {
	f.Add("")
	f.Add("0x1")
	f.Add("0xABCDEF")
	f.Add("not-an-address")
	f.Add("'; DROP TABLE wills;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("0xabc\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		addr, err := ParseAddress(input)

		if err == nil {
			roundTrip, err2 := ParseAddress(addr.String())
			if err2 != nil {
				t.Errorf("valid address failed round-trip: %v", err2)
			}
			if roundTrip != addr {
				t.Error("round-trip changed address value")
			}
		}

		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseWillID ensures will id parsing is total and round-trips.
func FuzzParseWillID(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseWillID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Error("nil will id was accepted")
		}
		roundTrip, err := ParseWillID(id.String())
		if err != nil || roundTrip != id {
			t.Error("round-trip changed will id")
		}
	})
}
