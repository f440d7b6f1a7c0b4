package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// parseHex accepts "02 10 03", "021003" and "0x02,0x10,0x03"
func parseHex(s string) ([]byte, error) {
	r := strings.NewReplacer("0x", "", "0X", "", ",", "", " ", "", ":", "")
	clean := r.Replace(strings.TrimSpace(s))
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// parseAddress parses a CAN id in hex, with or without 0x prefix
func parseAddress(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}
