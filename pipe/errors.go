package pipe

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/mickeygo/edgepipe/internal/util"
)

// Sentinel errors matched by errors.Is against an *Error of the same kind.
var (
	ErrTransport = errors.New("pipe: transport failure")
	ErrTimeout   = errors.New("pipe: timeout")
	ErrFraming   = errors.New("pipe: framing violation")
	ErrMismatch  = errors.New("pipe: response mismatch")
	ErrNotOpen   = errors.New("pipe: not open")
	ErrDisposed  = errors.New("pipe: disposed")
)

// ErrRemoteClosed is returned by transports when the peer closed the channel.
var ErrRemoteClosed = errors.New("pipe: closed by remote")

var (
	// ErrPushArmed is returned by ArmActivePush when active push is already armed.
	ErrPushArmed = errors.New("pipe: active push already armed")
	// ErrPushListening is returned by Receive while the active-push listener owns
	// the receive path.
	ErrPushListening = errors.New("pipe: receive path owned by active-push listener")
)

// Fixed codes of non-transport failures. Transport faults and active-push timeouts
// carry the negated consecutive-failure count instead.
const (
	CodeFraming  = 10001
	CodeTimeout  = 10002
	CodeMismatch = 10003
	CodeNotOpen  = 10004
	CodeDisposed = 10005
)

// hex dumps in error messages are cut after this many bytes.
const maxErrorDump = 64

// Kind classifies an Error.
type Kind uint8

const (
	KindTransport Kind = iota + 1
	KindTimeout
	KindFraming
	KindMismatch
	KindNotOpen
	KindDisposed
)

// String returns string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindFraming:
		return "framing"
	case KindMismatch:
		return "mismatch"
	case KindNotOpen:
		return "not open"
	case KindDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindTimeout:
		return ErrTimeout
	case KindFraming:
		return ErrFraming
	case KindMismatch:
		return ErrMismatch
	case KindNotOpen:
		return ErrNotOpen
	case KindDisposed:
		return ErrDisposed
	default:
		return nil
	}
}

// Error is the failure of a pipe operation.
type Error struct {
	// Op is the operation that failed, e.g. "transact" or "receive".
	Op string
	// Kind classifies the failure.
	Kind Kind
	// Code is the numeric failure code.
	Code int
	// Sent holds the request bytes, if any.
	Sent []byte
	// Received holds the bytes collected before the failure, if any.
	Received []byte
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("pipe: %s: %s (code %d)", e.Op, e.Kind, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Sent) > 0 {
		msg += "; sent [" + util.HexString(e.Sent, maxErrorDump) + "]"
	}
	if len(e.Received) > 0 {
		msg += "; received [" + util.HexString(e.Received, maxErrorDump) + "]"
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTimeout) and friends work by kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// ErrorCode returns the code of the first *Error in err's chain, or 0.
func ErrorCode(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}

	return 0
}

// IsTimeout reports whether err is a deadline expiry, either from this package or
// from a net or os deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func newError(op string, kind Kind, code int, sent, received []byte, err error) *Error {
	return &Error{
		Op:       op,
		Kind:     kind,
		Code:     code,
		Sent:     util.CloneBytes(sent),
		Received: util.CloneBytes(received),
		Err:      err,
	}
}
