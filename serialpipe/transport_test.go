package serialpipe

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goburrow/serial"
	"github.com/stretchr/testify/require"

	"github.com/mickeygo/edgepipe/logger"
	"github.com/mickeygo/edgepipe/message"
	"github.com/mickeygo/edgepipe/pipe"
)

// fakePort replays queued chunks, one per Read, and reports serial.ErrTimeout
// when nothing is queued.
type fakePort struct {
	mu      sync.Mutex
	chunks  [][]byte
	writes  [][]byte
	writeAt []time.Time
	closed  bool
	opens   int
	onWrite func(data []byte) [][]byte
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p.chunks) == 0 {
		return 0, serial.ErrTimeout
	}

	n := copy(b, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}

	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	p.writeAt = append(p.writeAt, time.Now())
	if p.onWrite != nil {
		p.chunks = append(p.chunks, p.onWrite(b)...)
	}

	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

// reopen models the device being opened again after Close.
func (p *fakePort) reopen() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = false
	p.opens++
}

func (p *fakePort) queue(chunks ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunks = append(p.chunks, chunks...)
}

func (p *fakePort) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.chunks)
}

func newFakeTransport(t *testing.T, port *fakePort, opts ...Option) *Transport {
	t.Helper()

	opener := func(*serial.Config) (io.ReadWriteCloser, error) {
		port.reopen()
		return port, nil
	}
	opts = append([]Option{WithPortOpener(opener), WithPollInterval(5 * time.Millisecond)}, opts...)

	tr, err := New("/dev/ttyFAKE0", opts...)
	require.NoError(t, err)
	require.NoError(t, tr.Open(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })

	return tr
}

func TestNewConfig(t *testing.T) {
	require := require.New(t)

	_, err := New("")
	require.Error(err)
	for _, opt := range []Option{
		WithBaudRate(0),
		WithDataBits(9),
		WithStopBits(3),
		WithParity("M"),
		WithPollInterval(0),
		WithMinLength(-1),
		WithEmptyReads(0),
		WithByteInterval(time.Second),
		WithPortOpener(nil),
		WithLogger(nil),
	} {
		_, err := New("COM1", opt)
		require.Error(err)
	}

	var captured *serial.Config
	tr, err := New("COM3",
		WithBaudRate(19200),
		WithDataBits(7),
		WithStopBits(2),
		WithParity("even"),
		WithPollInterval(50*time.Millisecond),
		WithMinLength(4),
		WithEmptyReads(2),
		WithRTS(true),
		WithPortOpener(func(c *serial.Config) (io.ReadWriteCloser, error) {
			captured = c
			return &fakePort{}, nil
		}),
	)
	require.NoError(err)
	require.Equal("COM3", tr.Config().Address())
	require.Equal(50*time.Millisecond, tr.Config().PollInterval())
	require.Equal(4, tr.Config().MinLength())
	require.Equal(2, tr.Config().EmptyReads())
	require.Equal("serial://COM3", tr.String())
	require.Equal("COM3", tr.Endpoint())

	require.False(tr.Connected())
	require.NoError(tr.Open(context.Background()))
	require.True(tr.Connected())
	require.Equal(&serial.Config{
		Address:  "COM3",
		BaudRate: 19200,
		DataBits: 7,
		StopBits: 2,
		Parity:   "E",
		Timeout:  50 * time.Millisecond,
		RS485:    serial.RS485Config{Enabled: true, RtsHighDuringSend: true},
	}, captured)
	require.NoError(tr.Close())
	require.False(tr.Connected())
}

func TestTransport_OpenFailure(t *testing.T) {
	require := require.New(t)

	openErr := errors.New("no such device")
	tr, err := New("/dev/ttyUSB9", WithPortOpener(func(*serial.Config) (io.ReadWriteCloser, error) {
		return nil, openErr
	}))
	require.NoError(err)

	require.ErrorIs(tr.Open(context.Background()), openErr)
	require.False(tr.Connected())
	require.ErrorIs(tr.Send([]byte{1}), ErrNotConnected)
	_, err = tr.Receive(make([]byte, 1), time.Time{})
	require.ErrorIs(err, ErrNotConnected)
	require.ErrorIs(tr.DiscardPending(), ErrNotConnected)
}

func TestTransport_SilenceEndsFrame(t *testing.T) {
	require := require.New(t)

	port := &fakePort{}
	tr := newFakeTransport(t, port, WithPollInterval(10*time.Millisecond), WithMinLength(4), WithEmptyReads(2))

	p, err := pipe.New(tr, pipe.WithLogger(logger.NewNopMockLogger()), pipe.WithReceiveTimeout(2*time.Second))
	require.NoError(err)
	defer p.Dispose()
	_, err = p.Open(context.Background())
	require.NoError(err)

	port.onWrite = func([]byte) [][]byte { return [][]byte{{0x01, 0x02}, {0x03, 0x04}} }

	start := time.Now()
	frame, err := p.Transact(context.Background(), nil, []byte{0x10}, true)
	elapsed := time.Since(start)

	require.NoError(err)
	require.Equal([]byte{0x01, 0x02, 0x03, 0x04}, frame)
	require.Less(elapsed, 500*time.Millisecond, "must not wait out the deadline")
	require.Equal(2, port.opens, "pipe.Open reopens the transport")
}

func TestTransport_BelowMinLengthTimesOut(t *testing.T) {
	require := require.New(t)

	port := &fakePort{}
	tr := newFakeTransport(t, port, WithMinLength(4), WithEmptyReads(1))
	port.queue([]byte{0x01, 0x02})

	frame, err := tr.ReadFrame(nil, nil, time.Now().Add(60*time.Millisecond))
	require.True(pipe.IsTimeout(err))
	require.Equal([]byte{0x01, 0x02}, frame)
}

func TestTransport_ReadFrameWithPredicate(t *testing.T) {
	require := require.New(t)

	port := &fakePort{}
	tr := newFakeTransport(t, port)
	port.queue([]byte{0x02}, []byte{0x03, 0x04})

	frame, err := tr.ReadFrame(func(acc []byte) bool { return len(acc) >= 3 }, []byte{0x01}, time.Now().Add(time.Second))
	require.NoError(err)
	require.Equal([]byte{0x01, 0x02, 0x03, 0x04}, frame)

	// a complete prefix needs no read
	frame, err = tr.ReadFrame(func(acc []byte) bool { return true }, []byte{0x09}, time.Now().Add(time.Second))
	require.NoError(err)
	require.Equal([]byte{0x09}, frame)
}

func TestTransport_SentinelOverSerial(t *testing.T) {
	require := require.New(t)

	port := &fakePort{}
	tr := newFakeTransport(t, port)

	p, err := pipe.New(tr, pipe.WithLogger(logger.NewNopMockLogger()), pipe.WithReceiveTimeout(time.Second))
	require.NoError(err)
	defer p.Dispose()
	_, err = p.Open(context.Background())
	require.NoError(err)

	port.onWrite = func([]byte) [][]byte { return [][]byte{[]byte("OK"), []byte("\r\n")} }

	desc, err := message.NewSentinel(nil, 0, '\r', '\n')
	require.NoError(err)

	frame, err := p.Transact(context.Background(), desc, []byte("AT\r\n"), true)
	require.NoError(err)
	require.Equal([]byte("OK\r\n"), frame)
}

func TestTransport_ReceivePolls(t *testing.T) {
	require := require.New(t)

	port := &fakePort{}
	tr := newFakeTransport(t, port)

	buf := make([]byte, 8)
	_, err := tr.Receive(buf, time.Now().Add(20*time.Millisecond))
	require.True(pipe.IsTimeout(err))

	go func() {
		time.Sleep(15 * time.Millisecond)
		port.queue([]byte{0xAB})
	}()

	n, err := tr.Receive(buf, time.Now().Add(time.Second))
	require.NoError(err)
	require.Equal([]byte{0xAB}, buf[:n])
}

func TestTransport_FlushBeforeSend(t *testing.T) {
	require := require.New(t)

	port := &fakePort{}
	tr := newFakeTransport(t, port, WithFlushBeforeSend(true))
	port.queue([]byte{0xEE, 0xEE}, []byte{0xEE})

	require.NoError(tr.Send([]byte{0x01}))
	require.Zero(port.pending())
	require.Equal([][]byte{{0x01}}, port.writes)

	port.queue([]byte{0xDD})
	require.NoError(tr.DiscardPending())
	require.Zero(port.pending())
}

func TestTransport_ByteInterval(t *testing.T) {
	require := require.New(t)

	port := &fakePort{}
	tr := newFakeTransport(t, port, WithByteInterval(5*time.Millisecond))

	require.NoError(tr.Send([]byte{0x01, 0x02, 0x03}))
	require.Equal([][]byte{{0x01}, {0x02}, {0x03}}, port.writes)
	require.GreaterOrEqual(port.writeAt[2].Sub(port.writeAt[0]), 10*time.Millisecond)
}

func TestTransport_ClosedPortFails(t *testing.T) {
	require := require.New(t)

	port := &fakePort{}
	tr := newFakeTransport(t, port)
	require.NoError(port.Close())

	_, err := tr.Receive(make([]byte, 1), time.Now().Add(time.Second))
	require.ErrorIs(err, io.ErrClosedPipe)
}
