package message

import "fmt"

// MatchResult is the outcome of matching a received frame against the sent request.
type MatchResult int

const (
	// MatchFatal aborts the exchange; the frame can never answer the request.
	MatchFatal MatchResult = iota
	// Matched accepts the frame as the response.
	Matched
	// MatchKeepWaiting discards the frame as stray or duplicate and keeps reading
	// within the same deadline.
	MatchKeepWaiting
)

// String returns string representation of the match result.
func (r MatchResult) String() string {
	switch r {
	case MatchFatal:
		return "fatal"
	case Matched:
		return "matched"
	case MatchKeepWaiting:
		return "keep-waiting"
	default:
		return fmt.Sprintf("MatchResult(%d)", int(r))
	}
}

// Descriptor declares how to recognize, extract and validate one frame.
type Descriptor interface {
	// HeaderLength returns the fixed header size when positive, a packed sentinel
	// spec when negative, or zero when the frame has no header.
	HeaderLength() int
	// HeadBytes returns the header filled in by the engine.
	HeadBytes() []byte
	// SetHeadBytes stores the header once it has fully arrived.
	SetHeadBytes(head []byte)
	// SendBytes returns the request bytes attached to this descriptor.
	SendBytes() []byte
	// SetSendBytes attaches the request bytes.
	SetSendBytes(send []byte)
	// ContentLength derives the content length from HeadBytes.
	// Non-positive values mean a header-only frame.
	ContentLength() int
	// PrependedUselessByteLength returns the number of leading noise bytes in a
	// header candidate.
	PrependedUselessByteLength(header []byte) int
	// CheckHeadBytesLegal validates HeadBytes after the frame completed.
	CheckHeadBytesLegal() bool
	// CheckMessageMatch decides whether received answers sent.
	CheckMessageMatch(sent, received []byte) MatchResult
}

// CompletionChecker is implemented by descriptors that decide frame completion
// themselves from the accumulated bytes.
type CompletionChecker interface {
	CheckReceiveComplete(sent, acc []byte) bool
}

// HeaderTrimmer is implemented by descriptors whose real header may be shorter than
// HeaderLength. The engine pushes header[CanonicalHeaderLength(header):] back into
// the stream before reading the content.
type HeaderTrimmer interface {
	CanonicalHeaderLength(header []byte) int
}

// Factory creates a fresh descriptor for one request.
type Factory func() Descriptor

// Strategy is the framing rule the engine applies to a descriptor.
type Strategy int

const (
	// StrategyRaw treats the bytes of one read as the frame.
	StrategyRaw Strategy = iota
	// StrategyFixedHeader reads a fixed-size header, then the content length it announces.
	StrategyFixedHeader
	// StrategySentinel1 ends the frame at the first occurrence of one sentinel byte.
	StrategySentinel1
	// StrategySentinel2 ends the frame at the first occurrence of a two-byte sentinel.
	StrategySentinel2
	// StrategyCustom reads until the descriptor's completion predicate reports true.
	StrategyCustom
)

// String returns string representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyRaw:
		return "raw"
	case StrategyFixedHeader:
		return "fixed-header"
	case StrategySentinel1:
		return "sentinel-1"
	case StrategySentinel2:
		return "sentinel-2"
	case StrategyCustom:
		return "custom"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// StrategyOf selects the framing strategy for desc.
//
// A negative header length that does not decode as a sentinel spec selects
// StrategyRaw; UnpackSentinel reports why.
func StrategyOf(desc Descriptor) Strategy {
	if desc == nil {
		return StrategyRaw
	}

	n := desc.HeaderLength()
	switch {
	case n > 0:
		return StrategyFixedHeader
	case n < 0:
		spec, err := UnpackSentinel(n)
		if err != nil {
			return StrategyRaw
		}
		if spec.Count == 1 {
			return StrategySentinel1
		}
		return StrategySentinel2
	default:
		if _, ok := desc.(CompletionChecker); ok {
			return StrategyCustom
		}
		return StrategyRaw
	}
}
