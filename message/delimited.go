package message

// SentinelLayout describes a protocol whose frames end with one or two sentinel
// bytes, optionally followed by a fixed-size suffix such as a checksum.
type SentinelLayout struct {
	Sentinels []byte
	Suffix    int
	Match     MatchFunc
}

// Factory packs the sentinel spec and returns a constructor of Sentinel
// descriptors sharing it.
func (l *SentinelLayout) Factory() (Factory, error) {
	packed, err := PackSentinel(l.Suffix, l.Sentinels...)
	if err != nil {
		return nil, err
	}

	return func() Descriptor { return &Sentinel{packed: packed, match: l.Match} }, nil
}

// Sentinel is a Descriptor for sentinel-delimited framing.
type Sentinel struct {
	Base
	packed int
	match  MatchFunc
}

var _ Descriptor = (*Sentinel)(nil)

// NewSentinel returns a sentinel descriptor. It fails under the same rules as
// PackSentinel.
func NewSentinel(match MatchFunc, suffix int, sentinels ...byte) (*Sentinel, error) {
	packed, err := PackSentinel(suffix, sentinels...)
	if err != nil {
		return nil, err
	}

	return &Sentinel{packed: packed, match: match}, nil
}

// HeaderLength returns the packed sentinel spec.
func (d *Sentinel) HeaderLength() int { return d.packed }

// CheckMessageMatch implements Descriptor.
func (d *Sentinel) CheckMessageMatch(sent, received []byte) MatchResult {
	return matchWith(d.match, sent, received)
}

// CustomLayout describes free-form framing decided by a completion predicate.
type CustomLayout struct {
	Complete func(sent, acc []byte) bool
	Match    MatchFunc
}

// Factory returns a constructor of Custom descriptors.
func (l *CustomLayout) Factory() Factory {
	return func() Descriptor { return &Custom{complete: l.Complete, match: l.Match} }
}

// Custom is a Descriptor whose frame ends when its predicate reports completion.
// A nil predicate completes on the first non-empty chunk.
type Custom struct {
	Base
	complete func(sent, acc []byte) bool
	match    MatchFunc
}

var (
	_ Descriptor        = (*Custom)(nil)
	_ CompletionChecker = (*Custom)(nil)
)

// NewCustom returns a descriptor using complete as its completion predicate.
func NewCustom(complete func(sent, acc []byte) bool, match MatchFunc) *Custom {
	return &Custom{complete: complete, match: match}
}

// CheckReceiveComplete implements CompletionChecker.
func (d *Custom) CheckReceiveComplete(sent, acc []byte) bool {
	if d.complete == nil {
		return len(acc) > 0
	}

	return d.complete(sent, acc)
}

// CheckMessageMatch implements Descriptor.
func (d *Custom) CheckMessageMatch(sent, received []byte) MatchResult {
	return matchWith(d.match, sent, received)
}
