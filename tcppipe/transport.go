// Package tcppipe implements pipe.Transport over TCP with candidate-port fail-over.
package tcppipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mickeygo/edgepipe/logger"
	"github.com/mickeygo/edgepipe/pipe"
)

// ErrNotConnected is returned by Send and Receive without an open connection.
var ErrNotConnected = errors.New("tcppipe: not connected")

// Transport is a TCP client channel.
//
// A failed dial advances to the next candidate port, so the next Open targets it
// without caller intervention.
type Transport struct {
	cfg    *Config
	logger logger.Logger

	mu      sync.Mutex
	conn    net.Conn
	portIdx int
}

var (
	_ pipe.Transport  = (*Transport)(nil)
	_ pipe.Endpointer = (*Transport)(nil)
)

// New creates a TCP transport. It does not connect.
func New(host string, ports []int, opts ...Option) (*Transport, error) {
	cfg, err := NewConfig(host, ports, opts...)
	if err != nil {
		return nil, err
	}

	return NewWithConfig(cfg), nil
}

// NewWithConfig creates a TCP transport from cfg.
func NewWithConfig(cfg *Config) *Transport {
	return &Transport{
		cfg:    cfg,
		logger: cfg.logger.With("transport", "tcp", "host", cfg.host),
	}
}

// Config returns the transport configuration.
func (t *Transport) Config() *Config { return t.cfg }

// Open dials the current candidate port, closing any previous connection first.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}

	addr := t.addrLocked()
	dialer := net.Dialer{
		Timeout:   t.cfg.connectTimeout,
		LocalAddr: t.cfg.localAddr,
		KeepAlive: -1, // applied below
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.changePortsLocked()
		return fmt.Errorf("tcppipe: dial %s: %w", addr, err)
	}

	if err := t.tune(conn); err != nil {
		t.logger.Warn("failed to apply socket options", "addr", addr, "error", err)
	}

	if u := t.cfg.upgrader; u != nil {
		upgraded, err := u(ctx, conn)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("tcppipe: upgrade %s: %w", addr, err)
		}
		conn = upgraded
	}

	t.conn = conn
	t.logger.Debug("connected", "addr", addr, "local", conn.LocalAddr().String())

	return nil
}

func (t *Transport) tune(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	var errs []error
	if t.cfg.keepAlive > 0 {
		errs = append(errs, tc.SetKeepAlive(true), tc.SetKeepAlivePeriod(t.cfg.keepAlive))
	} else {
		errs = append(errs, tc.SetKeepAlive(false))
	}
	errs = append(errs, tc.SetNoDelay(t.cfg.noDelay))
	if t.cfg.linger >= 0 {
		errs = append(errs, tc.SetLinger(t.cfg.linger))
	}

	return errors.Join(errs...)
}

// Close closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil

	return err
}

func (t *Transport) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn
}

// Send writes data with the configured write timeout.
func (t *Transport) Send(data []byte) error {
	conn := t.current()
	if conn == nil {
		return ErrNotConnected
	}

	if d := t.cfg.writeTimeout; d > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
			return err
		}
	}

	for written := 0; written < len(data); {
		n, err := conn.Write(data[written:])
		written += n

		if err != nil {
			return err
		}
	}

	return nil
}

// Receive reads up to len(buf) bytes before deadline.
func (t *Transport) Receive(buf []byte, deadline time.Time) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, ErrNotConnected
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	n, err := conn.Read(buf)
	if errors.Is(err, io.EOF) {
		return n, pipe.ErrRemoteClosed
	}

	return n, err
}

// Connected reports whether a connection is present.
func (t *Transport) Connected() bool {
	return t.current() != nil
}

// ChangePorts advances to the next candidate port and returns it.
func (t *Transport) ChangePorts() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.changePortsLocked()
}

func (t *Transport) changePortsLocked() int {
	prev := t.cfg.ports[t.portIdx]
	t.portIdx = (t.portIdx + 1) % len(t.cfg.ports)
	next := t.cfg.ports[t.portIdx]

	if prev != next {
		t.logger.Info("switching port", "from", prev, "to", next)
	}

	return next
}

// CurrentPort returns the port the next Open dials.
func (t *Transport) CurrentPort() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cfg.ports[t.portIdx]
}

func (t *Transport) addrLocked() string {
	return net.JoinHostPort(t.cfg.host, strconv.Itoa(t.cfg.ports[t.portIdx]))
}

// Endpoint returns "host:port" of the current candidate.
func (t *Transport) Endpoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.addrLocked()
}

// LocalAddr returns the local address of the connection, or nil.
func (t *Transport) LocalAddr() net.Addr {
	if conn := t.current(); conn != nil {
		return conn.LocalAddr()
	}

	return nil
}

func (t *Transport) String() string {
	return "tcp://" + t.Endpoint()
}
