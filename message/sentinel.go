package message

import (
	"errors"
	"fmt"
)

// MaxSentinelSuffix is the largest trailing suffix a sentinel spec can encode.
const MaxSentinelSuffix = 0xFF

// sentinelFlag marks a packed sentinel spec in the top byte.
const sentinelFlag = 0x80

var (
	ErrSentinelCount    = errors.New("message: sentinel spec needs 1 or 2 sentinel bytes")
	ErrSentinelSuffix   = errors.New("message: sentinel suffix out of range [0, 255]")
	ErrNotSentinelValue = errors.New("message: header length is not a packed sentinel spec")
)

// SentinelSpec is a decoded sentinel framing rule.
type SentinelSpec struct {
	// Count is 1 or 2.
	Count int
	// First is the sentinel byte in 1-sentinel mode, or the first of the ordered
	// pair in 2-sentinel mode.
	First byte
	// Second is the last byte of the pair in 2-sentinel mode.
	Second byte
	// Suffix is the number of bytes that follow the sentinel and belong to the frame
	// (e.g. a checksum).
	Suffix int
}

// Matches reports whether acc ends with the sentinel.
func (s SentinelSpec) Matches(acc []byte) bool {
	n := len(acc)
	if s.Count == 1 {
		return n >= 1 && acc[n-1] == s.First
	}

	return n >= 2 && acc[n-2] == s.First && acc[n-1] == s.Second
}

// PackSentinel encodes a sentinel framing rule into a negative header length.
//
// Layout of the resulting int32: bits 31..24 hold 0x80|count, bits 23..16 the suffix
// length, bits 15..8 the first sentinel and bits 7..0 the second sentinel.
func PackSentinel(suffix int, sentinels ...byte) (int, error) {
	if len(sentinels) < 1 || len(sentinels) > 2 {
		return 0, ErrSentinelCount
	}
	if suffix < 0 || suffix > MaxSentinelSuffix {
		return 0, ErrSentinelSuffix
	}

	v := uint32(sentinelFlag|len(sentinels))<<24 | uint32(suffix)<<16 | uint32(sentinels[0])<<8
	if len(sentinels) == 2 {
		v |= uint32(sentinels[1])
	}

	return int(int32(v)), nil
}

// MustPackSentinel is like PackSentinel but panics on invalid input. It is meant for
// package-level descriptor constants.
func MustPackSentinel(suffix int, sentinels ...byte) int {
	v, err := PackSentinel(suffix, sentinels...)
	if err != nil {
		panic(err)
	}

	return v
}

// UnpackSentinel decodes a header length produced by PackSentinel.
func UnpackSentinel(headerLength int) (SentinelSpec, error) {
	if headerLength >= 0 || headerLength < -1<<31 {
		return SentinelSpec{}, ErrNotSentinelValue
	}

	v := uint32(int32(headerLength))
	top := byte(v >> 24)
	if top&sentinelFlag == 0 {
		return SentinelSpec{}, ErrNotSentinelValue
	}

	spec := SentinelSpec{
		Count:  int(top & 0x0F),
		Suffix: int(byte(v >> 16)),
		First:  byte(v >> 8),
	}

	switch spec.Count {
	case 1:
	case 2:
		spec.Second = byte(v)
	default:
		return SentinelSpec{}, fmt.Errorf("%w: got %d", ErrSentinelCount, spec.Count)
	}

	return spec, nil
}
