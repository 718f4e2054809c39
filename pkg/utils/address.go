package utils

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseAddress decodes a 0x-prefixed 20-byte hex address into raw bytes.
func ParseAddress(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return nil, fmt.Errorf("invalid address %q: want 0x-prefixed 40 hex chars", s)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return b, nil
}

// HexAddress renders raw address bytes as a 0x-prefixed lowercase hex string.
func HexAddress(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
