package pipe

import (
	"context"
	"time"
)

// Transport is one physical channel.
//
// Receive reads at most len(buf) bytes and blocks until at least one byte is
// available, the deadline passes, or the channel fails. A zero deadline waits
// forever. Deadline expiry must be reported with an error for which IsTimeout is
// true, and a peer close with ErrRemoteClosed.
//
// Transports are not safe for concurrent Send or concurrent Receive calls; Pipe
// serializes them.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Send(data []byte) error
	Receive(buf []byte, deadline time.Time) (int, error)
	// Connected reports whether a handle is present.
	Connected() bool
	String() string
}

// FrameReader is implemented by transports that discover frame ends themselves
// (serial silence detection). The engine hands raw and custom-predicate reads to it.
//
// prefix holds bytes already read ahead by the engine. complete may be nil.
// On deadline expiry ReadFrame returns the accumulated bytes with a timeout error.
type FrameReader interface {
	ReadFrame(complete func(acc []byte) bool, prefix []byte, deadline time.Time) ([]byte, error)
}

// Flusher is implemented by transports that can discard stale input before a new
// exchange.
type Flusher interface {
	DiscardPending() error
}

// Endpointer is implemented by transports that address a remote endpoint. The key
// is used by EndpointPool.
type Endpointer interface {
	Endpoint() string
}
