package util

import (
	"encoding/hex"
	"strings"
)

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// CloneBytes returns a copy of b, or nil when b is empty.
func CloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	return CloneSlice(b, 0)
}

// HexString formats b as space separated upper-case hex pairs, e.g. "02 00 03".
// Output is truncated to maxLen bytes with a trailing "..." when maxLen > 0.
func HexString(b []byte, maxLen int) string {
	truncated := false
	if maxLen > 0 && len(b) > maxLen {
		b = b[:maxLen]
		truncated = true
	}

	var sb strings.Builder
	sb.Grow(len(b)*3 + 3)

	var pair [2]byte
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		hex.Encode(pair[:], []byte{v})
		sb.WriteString(strings.ToUpper(string(pair[:])))
	}

	if truncated {
		sb.WriteString(" ...")
	}

	return sb.String()
}

// ParseHex parses a hex string, ignoring whitespace, colons and dashes
// ("02 00 03", "02:00:03" and "020003" are equivalent).
func ParseHex(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':', '-':
			return -1
		}
		return r
	}, s)

	cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "0x"), "0X")

	return hex.DecodeString(cleaned)
}
