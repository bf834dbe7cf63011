package message

// MatchFunc decides whether received answers sent.
type MatchFunc func(sent, received []byte) MatchResult

// Base stores head and send bytes and supplies permissive defaults: no header,
// no noise, always legal, always matched. Embed it and override what differs.
type Base struct {
	head []byte
	send []byte
}

var _ Descriptor = (*Base)(nil)

// HeaderLength implements Descriptor.
func (b *Base) HeaderLength() int { return 0 }

// HeadBytes implements Descriptor.
func (b *Base) HeadBytes() []byte { return b.head }

// SetHeadBytes implements Descriptor.
func (b *Base) SetHeadBytes(head []byte) { b.head = head }

// SendBytes implements Descriptor.
func (b *Base) SendBytes() []byte { return b.send }

// SetSendBytes implements Descriptor.
func (b *Base) SetSendBytes(send []byte) { b.send = send }

// ContentLength implements Descriptor.
func (b *Base) ContentLength() int { return 0 }

// PrependedUselessByteLength implements Descriptor.
func (b *Base) PrependedUselessByteLength([]byte) int { return 0 }

// CheckHeadBytesLegal implements Descriptor.
func (b *Base) CheckHeadBytesLegal() bool { return true }

// CheckMessageMatch implements Descriptor.
func (b *Base) CheckMessageMatch([]byte, []byte) MatchResult { return Matched }

func matchWith(fn MatchFunc, sent, received []byte) MatchResult {
	if fn == nil {
		return Matched
	}

	return fn(sent, received)
}
