package pipe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mickeygo/edgepipe/internal/task"
	"github.com/mickeygo/edgepipe/internal/util"
	"github.com/mickeygo/edgepipe/logger"
)

// Pipe serializes request/response exchanges over one Transport and tracks the
// health of its channel.
//
// All methods are safe for concurrent use. Exchanges (Transact, Send, Receive) are
// serialized by a non-reentrant lock; Open, Close and Dispose may run concurrently
// with a blocked exchange.
type Pipe struct {
	cfg    *Config
	tr     Transport
	logger logger.Logger

	exMu   sync.Mutex // exchange lock
	connMu sync.Mutex // guards open, close and the push listener lifecycle

	state    AtomicState
	health   Health
	metrics  Metrics
	framer   *framer
	disposed atomic.Bool
	done     chan struct{} // closed by Dispose

	push    atomic.Pointer[pushState]
	slot    *slot
	taskMgr *task.Manager
}

// New creates a Pipe over tr. The channel is not opened.
func New(tr Transport, opts ...Option) (*Pipe, error) {
	if tr == nil {
		return nil, errors.New("pipe: transport must not be nil")
	}

	cfg, err := newConfig(tr.String(), opts...)
	if err != nil {
		return nil, err
	}

	l := cfg.logger.With("pipe", cfg.name)
	f := newFramer(tr, cfg.chunkSize, l)
	f.maxFrame = cfg.maxFrameSize

	p := &Pipe{
		cfg:     cfg,
		tr:      tr,
		logger:  l,
		framer:  f,
		done:    make(chan struct{}),
		slot:    newSlot(),
		taskMgr: task.NewManager(context.Background(), l),
	}

	return p, nil
}

// Name returns the pipe name.
func (p *Pipe) Name() string { return p.cfg.name }

// Config returns the configuration of the pipe.
func (p *Pipe) Config() *Config { return p.cfg }

// Transport returns the underlying transport.
func (p *Pipe) Transport() Transport { return p.tr }

// Metrics returns the counters of the pipe.
func (p *Pipe) Metrics() *Metrics { return &p.metrics }

// State returns the lifecycle state of the channel.
func (p *Pipe) State() State { return p.state.Get() }

// ErrorCount returns the consecutive-failure count.
func (p *Pipe) ErrorCount() int32 { return p.health.Load() }

// ResetErrorCount clears the failure count and returns the previous value.
func (p *Pipe) ResetErrorCount() int32 { return p.health.Reset() }

// ForceFault marks the pipe unhealthy, so the next Open recreates the handle.
func (p *Pipe) ForceFault() {
	p.health.ForceFault()
	p.state.ToFaulted()
}

// IsFaulted reports whether the pipe needs to be reopened: the failure count is
// non-zero or no handle is present.
func (p *Pipe) IsFaulted() bool {
	return p.health.Load() > 0 || !p.tr.Connected()
}

// Open opens the channel. It returns isNew == false without touching the channel
// when it is already open and healthy. Otherwise any stale handle is closed and a
// new one created; success resets the failure count, failure increments it.
//
// When active push is armed, a new handle restarts the listener.
func (p *Pipe) Open(ctx context.Context) (isNew bool, err error) {
	if p.disposed.Load() {
		return false, newError("open", KindDisposed, CodeDisposed, nil, nil, nil)
	}

	p.connMu.Lock()
	defer p.connMu.Unlock()

	return p.openLocked(ctx)
}

func (p *Pipe) openLocked(ctx context.Context) (bool, error) {
	if p.state.IsOpen() && p.tr.Connected() && p.health.Load() == 0 {
		return false, nil
	}

	if p.state.Get() != StateUnopened {
		if err := p.closeLocked(); err != nil {
			p.logger.Debug("close stale handle failed", "error", err)
		}
	}

	if !p.state.ToOpening() {
		return false, newError("open", KindNotOpen, CodeNotOpen, nil, nil, errors.New("concurrent state change"))
	}

	if err := p.tr.Open(ctx); err != nil {
		p.state.ToUnopened()
		p.metrics.incOpenErrCount()
		n := p.health.Inc()
		p.logger.Debug("open failed", "error", err, "errorCount", n)

		return false, newError("open", KindTransport, -int(n), nil, nil, err)
	}

	p.state.ToOpen()
	p.framer.s.reset()
	p.health.Reset()
	p.metrics.incOpenCount()
	p.logger.Debug("channel opened", "transport", p.tr.String())

	if ps := p.push.Load(); ps != nil {
		if err := p.startListener(ps); err != nil {
			p.logger.Error("failed to start active push listener", "error", err)
		}
	}

	return true, nil
}

// Close closes the channel and stops the active-push listener. The pipe can be
// opened again.
func (p *Pipe) Close() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	return p.closeLocked()
}

func (p *Pipe) closeLocked() error {
	if p.state.Get() == StateUnopened && !p.tr.Connected() {
		return nil
	}

	p.state.ToClosing()
	p.taskMgr.Stop()
	err := p.tr.Close()
	p.taskMgr.Wait()
	p.framer.s.reset()
	p.state.ToUnopened()

	if err != nil {
		return newError("close", KindTransport, CodeNotOpen, nil, nil, err)
	}

	p.logger.Debug("channel closed")

	return nil
}

// Dispose closes the pipe for good, stops the listener and wakes any exchange
// waiting for an active-push frame with ErrDisposed. Later calls return ErrDisposed.
func (p *Pipe) Dispose() error {
	if p.disposed.Swap(true) {
		return newError("dispose", KindDisposed, CodeDisposed, nil, nil, nil)
	}

	close(p.done)

	p.connMu.Lock()
	defer p.connMu.Unlock()

	return p.closeLocked()
}

// Send writes data outside of a request/response cycle.
func (p *Pipe) Send(data []byte) error {
	if err := p.checkUsable("send"); err != nil {
		return err
	}

	p.exMu.Lock()
	defer p.exMu.Unlock()

	return p.send("send", data)
}

// Receive reads outside of a request/response cycle. With length > 0 it reads
// exactly length bytes, otherwise one available chunk. A non-positive timeout waits
// forever. Receive fails with ErrPushListening while the active-push listener owns the
// receive path.
func (p *Pipe) Receive(length int, timeout time.Duration) ([]byte, error) {
	if err := p.checkUsable("receive"); err != nil {
		return nil, err
	}
	p.exMu.Lock()
	defer p.exMu.Unlock()

	if p.push.Load() != nil {
		return nil, ErrPushListening
	}

	deadline := deadlineAfter(timeout)

	var (
		data []byte
		err  error
	)
	if length > 0 {
		data, err = p.framer.s.readFull(length, deadline, make([]byte, 0, length))
	} else {
		data, err = p.framer.readRaw(deadline)
	}

	if err != nil {
		return nil, p.receiveError("receive", nil, data, err)
	}

	p.logFrame("frame received", data)

	return data, nil
}

func (p *Pipe) checkUsable(op string) error {
	if p.disposed.Load() {
		return newError(op, KindDisposed, CodeDisposed, nil, nil, nil)
	}
	if !p.tr.Connected() {
		return newError(op, KindNotOpen, CodeNotOpen, nil, nil, nil)
	}

	return nil
}

func (p *Pipe) send(op string, data []byte) error {
	if err := p.tr.Send(data); err != nil {
		p.metrics.incSendErrCount()
		return p.fault(op, data, nil, err)
	}

	p.metrics.incFrameSendCount()
	p.logFrame("frame sent", data)

	return nil
}

// fault records an I/O failure: failure count +1, state Faulted.
func (p *Pipe) fault(op string, sent, received []byte, err error) *Error {
	n := p.health.Inc()
	p.state.ToFaulted()
	p.logger.Debug("channel faulted", "op", op, "error", err, "errorCount", n)

	return newError(op, KindTransport, -int(n), sent, received, err)
}

// receiveError classifies a framing engine failure. Timeouts do not touch the
// failure count.
func (p *Pipe) receiveError(op string, sent, received []byte, err error) *Error {
	switch {
	case p.disposed.Load():
		return newError(op, KindDisposed, CodeDisposed, sent, received, err)
	case errors.Is(err, ErrFraming):
		return newError(op, KindFraming, CodeFraming, sent, received, err)
	case IsTimeout(err):
		p.metrics.incTimeoutCount()
		return newError(op, KindTimeout, CodeTimeout, sent, received, err)
	default:
		p.metrics.incRecvErrCount()
		return p.fault(op, sent, received, err)
	}
}

func (p *Pipe) logFrame(msg string, data []byte) {
	if p.logger.Level() > logger.DebugLevel {
		return
	}

	p.logger.Debug(msg, "len", len(data), "hex", util.HexString(data, 0))
}

func (p *Pipe) endpoint() string {
	if ep, ok := p.tr.(Endpointer); ok {
		return ep.Endpoint()
	}

	return p.tr.String()
}

// deadlineAfter converts a timeout into a deadline; non-positive means none.
func deadlineAfter(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}

	return time.Now().Add(timeout)
}
