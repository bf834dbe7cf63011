package pipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mickeygo/edgepipe/internal/pool"
	"github.com/mickeygo/edgepipe/message"
)

var errStrayFrame = errors.New("unexpected frame in strict match mode")

// Transact performs one request/response exchange:
//  1. take the exchange lock and, if configured, a socket pool slot;
//  2. open the channel when the pipe is not persistent;
//  3. attach request to desc and flush stale input if configured;
//  4. send request; a transport failure increments the failure count;
//  5. return nil at once when the receive timeout is negative or expectResponse
//     is false;
//  6. after the settle delay, read frames until one matches, skipping frames for
//     which desc reports MatchKeepWaiting, all within one deadline;
//  7. check head legality and reset the failure count.
//
// A nil desc treats the bytes of one read as the response. The deadline is the
// receive timeout, shortened by the deadline of ctx if that is earlier.
//
// A receive timeout leaves the failure count unchanged, except in active-push mode
// where it closes the channel and counts as a failure.
func (p *Pipe) Transact(ctx context.Context, desc message.Descriptor, request []byte, expectResponse bool) ([]byte, error) {
	if p.disposed.Load() {
		return nil, newError("transact", KindDisposed, CodeDisposed, request, nil, nil)
	}

	p.exMu.Lock()
	defer p.exMu.Unlock()

	if sp := p.cfg.socketPool; sp != nil {
		key := p.endpoint()
		if err := sp.Acquire(ctx, key); err != nil {
			return nil, fmt.Errorf("pipe: acquire socket slot %s: %w", key, err)
		}
		defer sp.Release(key)
	}

	if !p.cfg.persistent {
		if _, err := p.Open(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if err := p.Close(); err != nil {
				p.logger.Debug("close after exchange failed", "error", err)
			}
		}()
	} else if !p.state.IsOpen() || !p.tr.Connected() {
		return nil, newError("transact", KindNotOpen, CodeNotOpen, request, nil, fmt.Errorf("state %s", p.state.Get()))
	}

	if desc != nil {
		desc.SetSendBytes(request)
	}

	if ps := p.push.Load(); ps != nil {
		return p.transactPush(ctx, desc, request, expectResponse)
	}

	if p.cfg.flushBeforeTx {
		p.flush()
	}

	if err := p.send("transact", request); err != nil {
		return nil, err
	}

	timeout := p.cfg.receiveTimeout
	if timeout < 0 || !expectResponse {
		p.health.Reset()
		return nil, nil
	}

	if err := pool.Sleep(ctx, p.cfg.settleDelay); err != nil {
		return nil, fmt.Errorf("pipe: transact: %w", err)
	}

	deadline := exchangeDeadline(ctx, timeout)

	for {
		frame, err := p.framer.readFrame(desc, deadline)
		if err != nil {
			return nil, p.receiveError("transact", request, frame, err)
		}

		p.logFrame("frame received", frame)

		result := message.Matched
		if desc != nil {
			result = desc.CheckMessageMatch(request, frame)
		}

		switch result {
		case message.Matched:
		case message.MatchKeepWaiting:
			if p.cfg.strictMatch {
				return nil, newError("transact", KindMismatch, CodeMismatch, request, frame, errStrayFrame)
			}
			p.metrics.incStrayFrameCount()
			p.logger.Debug("discarding stray frame", "len", len(frame))

			continue
		default:
			return nil, newError("transact", KindMismatch, CodeMismatch, request, frame, nil)
		}

		if desc != nil && !desc.CheckHeadBytesLegal() {
			return nil, newError("transact", KindFraming, CodeFraming, request, frame, errors.New("illegal head bytes"))
		}

		p.metrics.incFrameRecvCount()
		p.health.Reset()

		return frame, nil
	}
}

// flush drops read-ahead bytes and, where supported, stale transport input.
func (p *Pipe) flush() {
	p.framer.s.reset()

	if f, ok := p.tr.(Flusher); ok {
		if err := f.DiscardPending(); err != nil {
			p.logger.Debug("discard pending input failed", "error", err)
		}
	}
}

// exchangeDeadline returns the earlier of now+timeout and the deadline of ctx.
// A zero timeout without a ctx deadline yields the zero time.
func exchangeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := deadlineAfter(timeout)
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	return deadline
}
