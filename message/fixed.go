package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrInvalidHeaderLength = errors.New("message: header length must be positive")
	ErrInvalidLengthField  = errors.New("message: length field must be 1, 2 or 4 bytes inside the header")
)

// FixedLayout describes a protocol whose frames start with a fixed-size header that
// carries the content length.
//
// The zero value of Order means big-endian.
type FixedLayout struct {
	// HeaderLength is the number of header bytes.
	HeaderLength int
	// LengthOffset is the offset of the length field within the header.
	LengthOffset int
	// LengthWidth is the size of the length field: 1, 2 or 4 bytes.
	LengthWidth int
	// Order is the byte order of the length field.
	Order binary.ByteOrder
	// Adjust is added to the decoded length field, e.g. a negative value when the
	// field also counts header bytes.
	Adjust int
	// Sync is the expected header prefix. Bytes before it are treated as noise.
	Sync []byte
	// Canonical, if set, returns the real header length for a header candidate when
	// it is shorter than HeaderLength.
	Canonical func(header []byte) int
	// Legal, if set, validates the header once the frame is complete.
	Legal func(head []byte) bool
	// Match, if set, correlates the response with the request.
	Match MatchFunc
}

// Validate checks the layout.
func (l *FixedLayout) Validate() error {
	if l.HeaderLength <= 0 {
		return ErrInvalidHeaderLength
	}

	switch l.LengthWidth {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: width %d", ErrInvalidLengthField, l.LengthWidth)
	}

	if l.LengthOffset < 0 || l.LengthOffset+l.LengthWidth > l.HeaderLength {
		return fmt.Errorf("%w: offset %d", ErrInvalidLengthField, l.LengthOffset)
	}

	return nil
}

// Factory validates the layout and returns a constructor of FixedHeader descriptors
// sharing it.
func (l *FixedLayout) Factory() (Factory, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	return func() Descriptor { return &FixedHeader{layout: l} }, nil
}

// FixedHeader is a Descriptor for fixed header plus content length framing.
type FixedHeader struct {
	Base
	layout *FixedLayout
}

var (
	_ Descriptor    = (*FixedHeader)(nil)
	_ HeaderTrimmer = (*FixedHeader)(nil)
)

// NewFixedHeader returns a descriptor for the layout. The layout is not validated.
func NewFixedHeader(layout *FixedLayout) *FixedHeader {
	return &FixedHeader{layout: layout}
}

// HeaderLength implements Descriptor.
func (d *FixedHeader) HeaderLength() int { return d.layout.HeaderLength }

// ContentLength decodes the length field from the head bytes and applies Adjust.
// It returns 0 while the head is too short to contain the field.
func (d *FixedHeader) ContentLength() int {
	l := d.layout
	head := d.HeadBytes()
	if len(head) < l.LengthOffset+l.LengthWidth {
		return 0
	}

	order := l.Order
	if order == nil {
		order = binary.BigEndian
	}

	field := head[l.LengthOffset : l.LengthOffset+l.LengthWidth]

	var n int
	switch l.LengthWidth {
	case 1:
		n = int(field[0])
	case 2:
		n = int(order.Uint16(field))
	case 4:
		n = int(order.Uint32(field))
	}

	return n + l.Adjust
}

// PrependedUselessByteLength returns the offset of the sync prefix in header. When
// the prefix is absent, every byte that cannot start it is noise, i.e. the header
// length minus the longest header suffix that is also a prefix of the sync bytes.
func (d *FixedHeader) PrependedUselessByteLength(header []byte) int {
	sync := d.layout.Sync
	if len(sync) == 0 {
		return 0
	}

	if idx := bytes.Index(header, sync); idx >= 0 {
		return idx
	}

	for k := min(len(header), len(sync)-1); k > 0; k-- {
		if bytes.Equal(header[len(header)-k:], sync[:k]) {
			return len(header) - k
		}
	}

	return len(header)
}

// CanonicalHeaderLength implements HeaderTrimmer.
func (d *FixedHeader) CanonicalHeaderLength(header []byte) int {
	if d.layout.Canonical == nil {
		return len(header)
	}

	n := d.layout.Canonical(header)
	if n <= 0 || n > len(header) {
		return len(header)
	}

	return n
}

// CheckHeadBytesLegal requires the sync prefix when one is configured, then applies
// the Legal func.
func (d *FixedHeader) CheckHeadBytesLegal() bool {
	head := d.HeadBytes()
	if len(head) == 0 {
		return false
	}

	if sync := d.layout.Sync; len(sync) > 0 && len(sync) <= len(head) && !bytes.HasPrefix(head, sync) {
		return false
	}

	if d.layout.Legal != nil {
		return d.layout.Legal(head)
	}

	return true
}

// CheckMessageMatch implements Descriptor.
func (d *FixedHeader) CheckMessageMatch(sent, received []byte) MatchResult {
	return matchWith(d.layout.Match, sent, received)
}
