package pipe

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"
)

type readResult struct {
	data []byte
	err  error
}

// fakeTransport is a scripted in-memory Transport. Incoming data is queued with
// feed; each queued chunk is delivered by one or more Receive calls.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	openErrs  []error
	sendErr   error
	sent      [][]byte
	opens     int
	closes    int
	reads     int
	pending   []byte
	closed    chan struct{}
	incoming  chan readResult
	flushed   int
	endpoint  string
}

var (
	_ Transport  = (*fakeTransport)(nil)
	_ Flusher    = (*fakeTransport)(nil)
	_ Endpointer = (*fakeTransport)(nil)
)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		closed:   make(chan struct{}),
		incoming: make(chan readResult, 256),
		endpoint: "fake:1",
	}
}

func (f *fakeTransport) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens++
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		if err != nil {
			return err
		}
	}

	f.connected = true
	f.closed = make(chan struct{})

	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes++
	if f.connected {
		f.connected = false
		close(f.closed)
	}
	f.pending = nil

	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))

	return nil
}

func (f *fakeTransport) Receive(buf []byte, deadline time.Time) (int, error) {
	f.mu.Lock()
	f.reads++
	if !f.connected {
		f.mu.Unlock()
		return 0, errors.New("fake: not connected")
	}
	if len(f.pending) > 0 {
		n := copy(buf, f.pending)
		f.pending = f.pending[n:]
		f.mu.Unlock()

		return n, nil
	}
	closed := f.closed
	f.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		expired = t.C
	}

	select {
	case r := <-f.incoming:
		if r.err != nil {
			return 0, r.err
		}
		n := copy(buf, r.data)
		f.mu.Lock()
		f.pending = append(f.pending, r.data[n:]...)
		f.mu.Unlock()

		return n, nil
	case <-expired:
		return 0, os.ErrDeadlineExceeded
	case <-closed:
		return 0, errors.New("fake: closed")
	}
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connected
}

func (f *fakeTransport) String() string { return "fake" }

func (f *fakeTransport) Endpoint() string { return f.endpoint }

func (f *fakeTransport) DiscardPending() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.flushed++
	f.pending = nil
	for {
		select {
		case <-f.incoming:
		default:
			return nil
		}
	}
}

// feed queues chunks; each one is what the device sends in one burst.
func (f *fakeTransport) feed(chunks ...[]byte) {
	for _, c := range chunks {
		f.incoming <- readResult{data: c}
	}
}

func (f *fakeTransport) failRead(err error) {
	f.incoming <- readResult{err: err}
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) counters() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.opens, f.closes
}
