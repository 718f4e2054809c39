package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddressRoundTrip(t *testing.T) {
	in := "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

	addr, err := ParseAddress(in)
	require.NoError(t, err)
	require.Len(t, addr, 20)
	require.Equal(t, in, HexAddress(addr))
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"a0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",    // missing 0x
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb4",   // too short
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb488", // too long
		"0xZZb86991c6218b36c1d19d4a2e9eb0ce3606eb48",  // not hex
	}
	for _, in := range cases {
		_, err := ParseAddress(in)
		require.Error(t, err, "input %q", in)
	}
}
