package asm

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseHex decodes hex bytecode, ignoring an optional 0x prefix and any
// whitespace, so both "0x5e0004" and "5e 00 04" are accepted.
func ParseHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	code, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("asm: bad hex: %w", err)
	}
	return code, nil
}
