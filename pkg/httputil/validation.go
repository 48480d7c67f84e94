package httputil

import (
	"encoding/hex"
	"strings"
)

// MaxDestinationHashLen is the longest destination hash accepted, in bytes.
const MaxDestinationHashLen = 64

// ParseDestinationHash decodes a hex destination hash. Surrounding
// whitespace and case are ignored.
func ParseDestinationHash(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s)%2 != 0 {
		return nil, false
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) > MaxDestinationHashLen {
		return nil, false
	}
	return b, true
}

// ValidateAspect checks if an aspect name is dotted components of
// letters, digits, '_' or '-'.
func ValidateAspect(aspect string) bool {
	if aspect == "" || len(aspect) > 128 {
		return false
	}
	for _, part := range strings.Split(aspect, ".") {
		if part == "" {
			return false
		}
		for _, c := range part {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
				return false
			}
		}
	}
	return true
}
