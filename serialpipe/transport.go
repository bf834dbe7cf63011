// Package serialpipe implements pipe.Transport over a serial line.
//
// A serial line has no framing of its own. Besides the byte-stream Receive used by
// fixed-header and sentinel framing, the transport implements pipe.FrameReader:
// raw and custom frames end when the line goes silent once enough bytes arrived.
package serialpipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goburrow/serial"

	"github.com/mickeygo/edgepipe/logger"
	"github.com/mickeygo/edgepipe/pipe"
)

// ErrNotConnected is returned by Send and Receive before Open.
var ErrNotConnected = errors.New("serialpipe: port not open")

// maxDiscardReads bounds DiscardPending on a line that never goes silent.
const maxDiscardReads = 64

// Transport is a serial channel.
type Transport struct {
	cfg    *Config
	logger logger.Logger

	mu   sync.Mutex
	port io.ReadWriteCloser
}

var (
	_ pipe.Transport   = (*Transport)(nil)
	_ pipe.FrameReader = (*Transport)(nil)
	_ pipe.Flusher     = (*Transport)(nil)
	_ pipe.Endpointer  = (*Transport)(nil)
)

// New creates a serial transport. It does not open the device.
func New(address string, opts ...Option) (*Transport, error) {
	cfg, err := NewConfig(address, opts...)
	if err != nil {
		return nil, err
	}

	return &Transport{
		cfg:    cfg,
		logger: cfg.logger.With("transport", "serial", "address", cfg.address),
	}, nil
}

// Config returns the transport configuration.
func (t *Transport) Config() *Config { return t.cfg }

// Open opens the device, closing a previously opened one first.
func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		_ = t.port.Close()
		t.port = nil
	}

	sc := t.cfg.SerialConfig()
	port, err := t.cfg.opener(sc)
	if err != nil {
		return fmt.Errorf("serialpipe: open %s: %w", t.cfg.address, err)
	}
	t.port = port

	t.logger.Debug("port opened", "baud", sc.BaudRate, "dataBits", sc.DataBits, "stopBits", sc.StopBits, "parity", sc.Parity)

	return nil
}

// Close closes the device.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}

	err := t.port.Close()
	t.port = nil

	return err
}

func (t *Transport) current() io.ReadWriteCloser {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.port
}

// Send writes data, byte by byte when a byte interval is configured.
func (t *Transport) Send(data []byte) error {
	port := t.current()
	if port == nil {
		return ErrNotConnected
	}

	if t.cfg.flushBeforeSend {
		if err := t.discard(port); err != nil {
			return err
		}
	}

	if t.cfg.byteInterval <= 0 {
		return writeAll(port, data)
	}

	for i := range data {
		if i > 0 {
			time.Sleep(t.cfg.byteInterval)
		}
		if err := writeAll(port, data[i:i+1]); err != nil {
			return err
		}
	}

	return nil
}

func writeAll(w io.Writer, data []byte) error {
	for written := 0; written < len(data); {
		n, err := w.Write(data[written:])
		written += n

		if err != nil {
			return err
		}
	}

	return nil
}

// poll performs one read. An empty poll returns 0 and no error after at least one
// poll interval.
func (t *Transport) poll(port io.Reader, buf []byte, deadline time.Time) (int, error) {
	start := time.Now()

	n, err := port.Read(buf)
	if n > 0 {
		return n, nil
	}
	if err != nil && !errors.Is(err, serial.ErrTimeout) {
		if errors.Is(err, io.EOF) {
			return 0, pipe.ErrRemoteClosed
		}
		return 0, err
	}

	// drivers may report an empty line without waiting
	wait := t.cfg.pollInterval - time.Since(start)
	if !deadline.IsZero() {
		wait = min(wait, time.Until(deadline))
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	return 0, nil
}

// Receive polls until bytes are available or deadline passes.
func (t *Transport) Receive(buf []byte, deadline time.Time) (int, error) {
	port := t.current()
	if port == nil {
		return 0, ErrNotConnected
	}

	for {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, os.ErrDeadlineExceeded
		}

		n, err := t.poll(port, buf, deadline)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

// ReadFrame accumulates bytes after prefix until complete reports true, or, when
// complete is nil, until the line stays silent for EmptyReads polls once at least
// MinLength bytes arrived. On deadline expiry it returns the bytes collected so far
// with os.ErrDeadlineExceeded.
func (t *Transport) ReadFrame(complete func(acc []byte) bool, prefix []byte, deadline time.Time) ([]byte, error) {
	port := t.current()
	if port == nil {
		return nil, ErrNotConnected
	}

	acc := append([]byte(nil), prefix...)
	if complete != nil && len(acc) > 0 && complete(acc) {
		return acc, nil
	}

	buf := make([]byte, 256)
	empty := 0

	for {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return acc, os.ErrDeadlineExceeded
		}

		n, err := t.poll(port, buf, deadline)
		if err != nil {
			return acc, err
		}

		if n > 0 {
			acc = append(acc, buf[:n]...)
			empty = 0

			if complete != nil && complete(acc) {
				return acc, nil
			}

			continue
		}

		if complete != nil || len(acc) == 0 || len(acc) < t.cfg.minLength {
			continue
		}

		empty++
		if empty >= t.cfg.emptyReads {
			return acc, nil
		}
	}
}

// DiscardPending drops input until the line is silent.
func (t *Transport) DiscardPending() error {
	port := t.current()
	if port == nil {
		return ErrNotConnected
	}

	return t.discard(port)
}

func (t *Transport) discard(port io.Reader) error {
	buf := make([]byte, 256)
	dropped := 0

	for i := 0; i < maxDiscardReads; i++ {
		n, err := t.poll(port, buf, time.Time{})
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		dropped += n
	}

	if dropped > 0 {
		t.logger.Debug("discarded stale input", "bytes", dropped)
	}

	return nil
}

// Connected reports whether the device is open.
func (t *Transport) Connected() bool {
	return t.current() != nil
}

// Endpoint returns the device address.
func (t *Transport) Endpoint() string { return t.cfg.address }

func (t *Transport) String() string {
	return "serial://" + t.cfg.address
}
