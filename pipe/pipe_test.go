package pipe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mickeygo/edgepipe/logger"
)

func newTestPipe(t *testing.T, tr Transport, opts ...Option) *Pipe {
	t.Helper()

	opts = append([]Option{WithLogger(logger.NewNopMockLogger())}, opts...)
	p, err := New(tr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Dispose() })

	return p
}

func openTestPipe(t *testing.T, opts ...Option) (*Pipe, *fakeTransport) {
	t.Helper()

	tr := newFakeTransport()
	p := newTestPipe(t, tr, opts...)

	isNew, err := p.Open(context.Background())
	require.NoError(t, err)
	require.True(t, isNew)

	return p, tr
}

func TestNew_Options(t *testing.T) {
	require := require.New(t)

	_, err := New(nil)
	require.Error(err)

	tr := newFakeTransport()
	_, err = New(tr, WithChunkSize(1))
	require.Error(err)
	_, err = New(tr, WithSettleDelay(-time.Second))
	require.Error(err)
	_, err = New(tr, WithName(""))
	require.Error(err)
	_, err = New(tr, WithLogger(nil))
	require.Error(err)
	_, err = New(tr, WithSocketPool(nil))
	require.Error(err)

	p := newTestPipe(t, tr,
		WithReceiveTimeout(time.Second),
		WithSettleDelay(5*time.Millisecond),
		WithPersistent(false),
		WithStrictMatch(true),
		WithFlushBeforeSend(true),
		WithChunkSize(512),
	)
	cfg := p.Config()
	require.Equal("fake", p.Name())
	require.Equal(time.Second, cfg.ReceiveTimeout())
	require.Equal(5*time.Millisecond, cfg.SettleDelay())
	require.False(cfg.Persistent())
	require.True(cfg.StrictMatch())
	require.True(cfg.FlushBeforeSend())
	require.Equal(512, cfg.ChunkSize())
	require.NotNil(cfg.GetLogger())
	require.Equal(tr, p.Transport())
}

func TestPipe_Open(t *testing.T) {
	require := require.New(t)

	tr := newFakeTransport()
	p := newTestPipe(t, tr)

	require.True(p.IsFaulted(), "no handle before the first open")
	require.Equal(StateUnopened, p.State())

	isNew, err := p.Open(context.Background())
	require.NoError(err)
	require.True(isNew)
	require.False(p.IsFaulted())
	require.Equal(StateOpen, p.State())

	isNew, err = p.Open(context.Background())
	require.NoError(err)
	require.False(isNew, "open and healthy")

	p.ForceFault()
	require.True(p.IsFaulted())
	require.GreaterOrEqual(p.ErrorCount(), int32(1))

	isNew, err = p.Open(context.Background())
	require.NoError(err)
	require.True(isNew)
	require.Zero(p.ErrorCount())

	opens, closes := tr.counters()
	require.Equal(2, opens)
	require.Equal(1, closes, "stale handle closed before reopen")
	require.Equal(uint64(2), p.Metrics().OpenCount.Load())
}

func TestPipe_OpenFailure(t *testing.T) {
	require := require.New(t)

	tr := newFakeTransport()
	dialErr := errors.New("connection refused")
	tr.openErrs = []error{dialErr, dialErr, nil}
	p := newTestPipe(t, tr)

	_, err := p.Open(context.Background())
	require.ErrorIs(err, ErrTransport)
	require.ErrorIs(err, dialErr)
	require.Equal(-1, ErrorCode(err))

	_, err = p.Open(context.Background())
	require.Equal(-2, ErrorCode(err))
	require.Equal(int32(2), p.ErrorCount())
	require.Equal(StateUnopened, p.State())

	isNew, err := p.Open(context.Background())
	require.NoError(err)
	require.True(isNew)
	require.Zero(p.ErrorCount())
	require.Equal(uint64(2), p.Metrics().OpenErrCount.Load())
}

func TestPipe_CloseAndDispose(t *testing.T) {
	require := require.New(t)

	p, tr := openTestPipe(t)

	require.NoError(p.Close())
	require.False(tr.Connected())
	require.Equal(StateUnopened, p.State())
	require.NoError(p.Close())

	_, err := p.Open(context.Background())
	require.NoError(err)

	require.NoError(p.Dispose())
	require.False(tr.Connected())

	err = p.Dispose()
	require.ErrorIs(err, ErrDisposed)
	require.Equal(CodeDisposed, ErrorCode(err))

	_, err = p.Open(context.Background())
	require.ErrorIs(err, ErrDisposed)
	require.ErrorIs(p.Send([]byte{1}), ErrDisposed)
}

func TestPipe_SendReceive(t *testing.T) {
	require := require.New(t)

	p, tr := openTestPipe(t)

	require.NoError(p.Send([]byte{0x01, 0x02}))
	require.Equal([][]byte{{0x01, 0x02}}, tr.sentFrames())

	tr.feed([]byte{0x0A, 0x0B}, []byte{0x0C, 0x0D, 0x0E})

	data, err := p.Receive(3, time.Second)
	require.NoError(err)
	require.Equal([]byte{0x0A, 0x0B, 0x0C}, data)

	data, err = p.Receive(0, time.Second)
	require.NoError(err)
	require.Equal([]byte{0x0D, 0x0E}, data)

	_, err = p.Receive(1, 20*time.Millisecond)
	require.ErrorIs(err, ErrTimeout)
	require.Equal(CodeTimeout, ErrorCode(err))
	require.Zero(p.ErrorCount(), "timeouts are left to the caller")
}

func TestPipe_SendFailure(t *testing.T) {
	require := require.New(t)

	p, tr := openTestPipe(t)
	tr.sendErr = errors.New("broken pipe")

	err := p.Send([]byte{0x01})
	require.ErrorIs(err, ErrTransport)
	require.Equal(-1, ErrorCode(err))
	require.Equal(StateFaulted, p.State())
	require.True(p.IsFaulted())

	var pe *Error
	require.ErrorAs(err, &pe)
	require.Equal("send", pe.Op)
	require.Equal([]byte{0x01}, pe.Sent)
	require.Contains(pe.Error(), "sent [01]")

	require.Equal(int32(1), p.ResetErrorCount())
	require.Zero(p.ErrorCount())
}

func TestPipe_ReceiveFailureFaults(t *testing.T) {
	require := require.New(t)

	p, tr := openTestPipe(t)
	tr.failRead(ErrRemoteClosed)

	_, err := p.Receive(4, time.Second)
	require.ErrorIs(err, ErrTransport)
	require.ErrorIs(err, ErrRemoteClosed)
	require.Equal(int32(1), p.ErrorCount())
	require.Equal(StateFaulted, p.State())
}

func TestPipe_NotOpen(t *testing.T) {
	require := require.New(t)

	p := newTestPipe(t, newFakeTransport())

	require.ErrorIs(p.Send([]byte{1}), ErrNotOpen)
	_, err := p.Receive(1, time.Millisecond)
	require.ErrorIs(err, ErrNotOpen)
}
