package pipe

import "sync/atomic"

// State is the lifecycle state of a pipe's channel.
type State uint32

const (
	StateUnopened State = iota
	StateOpening
	StateOpen
	StateClosing
	StateFaulted
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnopened:
		return "Unopened"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// AtomicState holds a State and moves it along
// Unopened -> Opening -> Open -> (Closing|Faulted) -> Unopened by compare-and-swap.
type AtomicState struct {
	state atomic.Uint32
}

func (st *AtomicState) String() string {
	return st.Get().String()
}

// Get returns the current state.
func (st *AtomicState) Get() State {
	return State(st.state.Load())
}

func (st *AtomicState) IsOpen() bool {
	return st.Get() == StateOpen
}

func (st *AtomicState) IsFaulted() bool {
	return st.Get() == StateFaulted
}

// ToOpening starts an open from Unopened.
func (st *AtomicState) ToOpening() bool {
	return st.cas(StateUnopened, StateOpening)
}

// ToOpen completes an open.
func (st *AtomicState) ToOpen() bool {
	if st.IsOpen() {
		return true
	}

	return st.cas(StateOpening, StateOpen)
}

// ToFaulted records an I/O failure on an open channel.
func (st *AtomicState) ToFaulted() bool {
	if st.IsFaulted() {
		return true
	}

	return st.cas(StateOpen, StateFaulted)
}

// ToClosing starts a close from Open, Faulted or Opening.
func (st *AtomicState) ToClosing() bool {
	return st.cas(StateOpen, StateClosing) ||
		st.cas(StateFaulted, StateClosing) ||
		st.cas(StateOpening, StateClosing)
}

// ToUnopened completes a close, or abandons a failed open.
func (st *AtomicState) ToUnopened() bool {
	if st.Get() == StateUnopened {
		return true
	}

	return st.cas(StateClosing, StateUnopened) || st.cas(StateOpening, StateUnopened)
}

func (st *AtomicState) cas(from, to State) bool {
	return st.state.CompareAndSwap(uint32(from), uint32(to))
}
