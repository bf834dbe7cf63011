package pipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mickeygo/edgepipe/internal/pool"
	"github.com/mickeygo/edgepipe/message"
)

// ResponseFilter reports whether an active-push frame answers a request. Frames it
// rejects go to the PushHandler.
type ResponseFilter func(frame []byte) bool

type pushState struct {
	factory    message.Factory
	isResponse ResponseFilter
}

// ArmActivePush waits for a running exchange to complete, then hands the receive path to a background listener that reads frames
// continuously, each with a fresh descriptor from factory (nil means one read is one
// frame). Frames accepted by isResponse, or every frame when isResponse is nil,
// are left in a single-slot hand-off for the next Transact; a newer frame
// overwrites an unconsumed one.
//
// The listener starts immediately when the channel is open, otherwise on the next
// successful Open. A read failure increments the failure count, faults the pipe and
// stops the listener until the pipe is reopened.
func (p *Pipe) ArmActivePush(factory message.Factory, isResponse ResponseFilter) error {
	if p.disposed.Load() {
		return newError("arm", KindDisposed, CodeDisposed, nil, nil, nil)
	}
	if !p.cfg.persistent {
		return errors.New("pipe: active push requires a persistent pipe")
	}

	// an in-flight exchange finishes reading before the listener takes over
	p.exMu.Lock()
	defer p.exMu.Unlock()
	p.connMu.Lock()
	defer p.connMu.Unlock()

	ps := &pushState{factory: factory, isResponse: isResponse}
	if !p.push.CompareAndSwap(nil, ps) {
		return ErrPushArmed
	}

	if p.state.IsOpen() && p.tr.Connected() {
		return p.startListener(ps)
	}

	return nil
}

// DisarmActivePush stops the listener and returns the receive path to Transact.
func (p *Pipe) DisarmActivePush() {
	p.exMu.Lock()
	defer p.exMu.Unlock()
	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.push.Swap(nil) == nil {
		return
	}

	if p.taskMgr.Count() > 0 {
		// the listener blocks in a read without deadline; closing releases it
		if err := p.closeLocked(); err != nil {
			p.logger.Debug("close for disarm failed", "error", err)
		}
	}
	p.slot.clear()
}

// PushArmed reports whether active push is armed.
func (p *Pipe) PushArmed() bool {
	return p.push.Load() != nil
}

func (p *Pipe) startListener(ps *pushState) error {
	if p.taskMgr.Count() > 0 {
		return nil
	}

	return p.taskMgr.Start("active-push", p.pushLoop(ps), nil)
}

func (p *Pipe) pushLoop(ps *pushState) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		var desc message.Descriptor
		if ps.factory != nil {
			desc = ps.factory()
		}

		frame, err := p.framer.readFrame(desc, time.Time{})
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			if st := p.state.Get(); st == StateClosing || st == StateUnopened {
				return false
			}
			if IsTimeout(err) {
				return true
			}
			if errors.Is(err, ErrFraming) {
				p.logger.Warn("dropping malformed push frame", "error", err)
				return true
			}

			p.metrics.incRecvErrCount()
			n := p.health.Inc()
			p.state.ToFaulted()
			p.logger.Warn("active push listener stopped", "error", err, "errorCount", n)

			return false
		}

		p.metrics.incPushFrameCount()
		p.logFrame("push frame received", frame)

		if desc != nil && !desc.CheckHeadBytesLegal() {
			p.logger.Warn("dropping push frame with illegal head", "len", len(frame))
			return true
		}

		if ps.isResponse == nil || ps.isResponse(frame) {
			p.slot.put(frame)
			return true
		}

		if h := p.cfg.pushHandler; h != nil {
			h(frame)
		} else {
			p.logger.Debug("dropping unsolicited frame", "len", len(frame))
		}

		return true
	}
}

// transactPush is Transact while the listener owns the receive path. A pure poll
// (empty request) sends nothing.
func (p *Pipe) transactPush(ctx context.Context, desc message.Descriptor, request []byte, expectResponse bool) ([]byte, error) {
	if len(request) > 0 {
		if err := p.send("transact", request); err != nil {
			return nil, err
		}
	}

	timeout := p.cfg.receiveTimeout
	if timeout < 0 || !expectResponse {
		p.health.Reset()
		return nil, nil
	}

	deadline := exchangeDeadline(ctx, timeout)

	for {
		frame, err := p.slot.wait(ctx, p.done, deadline)
		if err != nil {
			switch {
			case errors.Is(err, ErrDisposed):
				return nil, newError("transact", KindDisposed, CodeDisposed, request, nil, nil)
			case errors.Is(err, os.ErrDeadlineExceeded):
				p.metrics.incTimeoutCount()
				n := p.health.Inc()
				if cerr := p.Close(); cerr != nil {
					p.logger.Debug("close after push timeout failed", "error", cerr)
				}

				return nil, newError("transact", KindTimeout, -int(n), request, nil, err)
			default:
				return nil, fmt.Errorf("pipe: transact: %w", err)
			}
		}

		result := message.Matched
		if desc != nil {
			result = desc.CheckMessageMatch(request, frame)
		}

		switch result {
		case message.Matched:
			p.metrics.incFrameRecvCount()
			p.health.Reset()

			return frame, nil
		case message.MatchKeepWaiting:
			if p.cfg.strictMatch {
				return nil, newError("transact", KindMismatch, CodeMismatch, request, frame, errStrayFrame)
			}
			p.metrics.incStrayFrameCount()
		default:
			return nil, newError("transact", KindMismatch, CodeMismatch, request, frame, nil)
		}
	}
}

// slot is a single-slot rendezvous between the push listener and one waiting
// exchange. put overwrites an unconsumed frame; signals coalesce.
type slot struct {
	mu     sync.Mutex
	frame  []byte
	full   bool
	signal chan struct{}
}

func newSlot() *slot {
	return &slot{signal: make(chan struct{}, 1)}
}

func (s *slot) put(frame []byte) {
	s.mu.Lock()
	s.frame = frame
	s.full = true
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *slot) take() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		return nil, false
	}

	frame := s.frame
	s.frame, s.full = nil, false

	return frame, true
}

func (s *slot) clear() {
	s.take()
}

// wait takes the slot frame, waiting until deadline (zero waits forever), ctx is
// done or done is closed.
func (s *slot) wait(ctx context.Context, done <-chan struct{}, deadline time.Time) ([]byte, error) {
	for {
		if frame, ok := s.take(); ok {
			return frame, nil
		}

		if err := s.awaitSignal(ctx, done, deadline); err != nil {
			return nil, err
		}
	}
}

func (s *slot) awaitSignal(ctx context.Context, done <-chan struct{}, deadline time.Time) error {
	var expired <-chan time.Time
	if remaining, ok := pool.Until(deadline); ok {
		if remaining <= 0 {
			return os.ErrDeadlineExceeded
		}
		t := pool.GetTimer(remaining)
		defer pool.PutTimer(t)
		expired = t.C
	}

	select {
	case <-s.signal:
		return nil
	case <-expired:
		return os.ErrDeadlineExceeded
	case <-done:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
}
