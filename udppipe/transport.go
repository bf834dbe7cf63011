// Package udppipe implements pipe.Transport over a connected UDP socket.
package udppipe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mickeygo/edgepipe/logger"
	"github.com/mickeygo/edgepipe/pipe"
)

// ErrNotConnected is returned by Send and Receive before Open.
var ErrNotConnected = errors.New("udppipe: socket not open")

// Transport is a datagram channel to one remote endpoint.
//
// Receive reads whole datagrams into a scratch buffer. When a datagram does not fit
// the caller's buffer, the rest is kept and returned by following calls before any
// new datagram is read.
type Transport struct {
	cfg    *Config
	logger logger.Logger

	mu       sync.Mutex
	conn     *net.UDPConn
	scratch  []byte
	leftover []byte
}

var (
	_ pipe.Transport  = (*Transport)(nil)
	_ pipe.Endpointer = (*Transport)(nil)
)

// New creates a UDP transport. It does not allocate a socket.
func New(host string, port int, opts ...Option) (*Transport, error) {
	cfg, err := NewConfig(host, port, opts...)
	if err != nil {
		return nil, err
	}

	return &Transport{
		cfg:    cfg,
		logger: cfg.logger.With("transport", "udp", "endpoint", net.JoinHostPort(host, strconv.Itoa(port))),
	}, nil
}

// Config returns the transport configuration.
func (t *Transport) Config() *Config { return t.cfg }

// Open allocates a local datagram socket connected to the remote endpoint.
func (t *Transport) Open(ctx context.Context) error {
	remote, err := net.ResolveUDPAddr("udp", t.Endpoint())
	if err != nil {
		return fmt.Errorf("udppipe: resolve %s: %w", t.Endpoint(), err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := net.DialUDP("udp", t.cfg.localAddr, remote)
	if err != nil {
		return fmt.Errorf("udppipe: open %s: %w", t.Endpoint(), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = conn
	t.leftover = nil
	if len(t.scratch) != t.cfg.bufferSize {
		t.scratch = make([]byte, t.cfg.bufferSize)
	}

	t.logger.Debug("socket opened", "local", conn.LocalAddr().String())

	return nil
}

// Close releases the socket and drops leftover bytes.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.leftover = nil
	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil

	return err
}

// Send writes data as one datagram.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	if d := t.cfg.writeTimeout; d > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
			return err
		}
	}

	_, err := conn.Write(data)

	return err
}

// Receive returns leftover bytes of the previous datagram first, otherwise reads
// the next datagram before deadline.
func (t *Transport) Receive(buf []byte, deadline time.Time) (int, error) {
	t.mu.Lock()
	if len(t.leftover) > 0 {
		n := copy(buf, t.leftover)
		t.leftover = t.leftover[n:]
		t.mu.Unlock()

		return n, nil
	}
	conn, scratch := t.conn, t.scratch
	t.mu.Unlock()

	if conn == nil {
		return 0, ErrNotConnected
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	got, err := conn.Read(scratch)
	if err != nil {
		return 0, err
	}

	n := copy(buf, scratch[:got])
	if n < got {
		t.mu.Lock()
		t.leftover = append([]byte(nil), scratch[n:got]...)
		t.mu.Unlock()
	}

	return n, nil
}

// Connected reports whether a socket is allocated.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

// Endpoint returns "host:port" of the remote endpoint.
func (t *Transport) Endpoint() string {
	return net.JoinHostPort(t.cfg.host, strconv.Itoa(t.cfg.port))
}

// LocalAddr returns the local address of the socket, or nil.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	return t.conn.LocalAddr()
}

func (t *Transport) String() string {
	return "udp://" + t.Endpoint()
}
