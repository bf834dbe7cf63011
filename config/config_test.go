package config

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mickeygo/edgepipe/logger"
	"github.com/mickeygo/edgepipe/message"
	"github.com/mickeygo/edgepipe/pipe"
	"github.com/mickeygo/edgepipe/serialpipe"
	"github.com/mickeygo/edgepipe/tcppipe"
	"github.com/mickeygo/edgepipe/udppipe"
)

const sample = `
socket_pool = 2

[pipes.press]
kind = "tcp"
host = "127.0.0.1"
ports = [102, 1102]
connect_timeout = "1s"
keep_alive = "0s"
receive_timeout = "1500ms"
max_frame_size = 4096
persistent = false
strict_match = true

[pipes.press.framing]
mode = "fixed"
header_length = 4
length_offset = 2
length_width = 2
adjust = -4
sync = "03 00"

[pipes.scale]
kind = "serial"
address = "/dev/ttyUSB0"
baud_rate = 19200
parity = "even"
min_length = 4
empty_reads = 2
rts = true

[pipes.scale.framing]
mode = "sentinel"
sentinels = "0d0a"

[pipes.sensor]
kind = "udp"
host = "127.0.0.1"
port = 9600
receive_buffer_size = 512

[pipes.secure]
kind = "tls"
host = "127.0.0.1"
port = 8443
insecure_skip_verify = true
min_version = "1.3"

[pipes.secure.framing]
mode = "custom"
length = 6
match_offset = 0
match_length = 2
`

func decode(t *testing.T, data string) *File {
	t.Helper()

	f, err := Decode(strings.NewReader(data))
	require.NoError(t, err)

	return f
}

func TestDecode(t *testing.T) {
	require := require.New(t)

	f := decode(t, sample)
	require.Equal([]string{"press", "scale", "secure", "sensor"}, f.Names())
	require.NotNil(f.SocketPoolOf())
	require.Equal(2, f.SocketPoolOf().Capacity())

	press, err := f.Profile("press")
	require.NoError(err)
	require.Equal("press", press.Name())
	require.Equal(KindTCP, press.Kind)
	require.Equal([]int{102, 1102}, press.Ports)
	require.Equal(time.Second, press.ConnectTimeout.std())
	require.Equal([]byte{0x03, 0x00}, []byte(press.Framing.Sync))

	secure, err := f.Profile("secure")
	require.NoError(err)
	require.Equal([]int{8443}, secure.Ports)

	_, err = f.Profile("missing")
	require.ErrorIs(err, ErrUnknownProfile)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		err  error
	}{
		{name: "empty", data: `socket_pool = 1`, err: ErrNoProfiles},
		{name: "kind", data: "[pipes.a]\nkind = \"can\"\n", err: ErrInvalidKind},
		{name: "unknown key", data: "[pipes.a]\nkind = \"tcp\"\nhots = \"x\"\n"},
		{name: "negative pool", data: "socket_pool = -1\n[pipes.a]\nkind = \"tcp\"\n"},
		{name: "bad duration", data: "[pipes.a]\nkind = \"tcp\"\nreceive_timeout = \"soon\"\n"},
		{name: "bad hex", data: "[pipes.a]\nkind = \"udp\"\n[pipes.a.framing]\nmode = \"sentinel\"\nsentinels = \"zz\"\n"},
		{name: "framing mode", data: "[pipes.a]\nkind = \"udp\"\n[pipes.a.framing]\nmode = \"crc\"\n"},
		{name: "fixed width", data: "[pipes.a]\nkind = \"udp\"\n[pipes.a.framing]\nmode = \"fixed\"\nheader_length = 4\nlength_width = 3\n", err: message.ErrInvalidLengthField},
		{name: "sentinel count", data: "[pipes.a]\nkind = \"udp\"\n[pipes.a.framing]\nmode = \"sentinel\"\n", err: message.ErrSentinelCount},
		{name: "byte order", data: "[pipes.a]\nkind = \"udp\"\n[pipes.a.framing]\nmode = \"fixed\"\nheader_length = 4\nlength_width = 2\nbyte_order = \"middle\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.data))
			require.Error(t, err)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "pipes.toml")
	require.NoError(os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(err)
	require.Len(f.Pipes, 4)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(err)
}

func TestProfile_Build(t *testing.T) {
	require := require.New(t)
	l := logger.NewNopMockLogger()

	f := decode(t, sample)

	press, err := f.Profile("press")
	require.NoError(err)
	p, err := press.Build(l)
	require.NoError(err)
	require.Equal("press", p.Name())
	require.Equal(1500*time.Millisecond, p.Config().ReceiveTimeout())
	require.False(p.Config().Persistent())
	require.True(p.Config().StrictMatch())
	require.Equal(4096, p.Config().MaxFrameSize())
	tcp, ok := p.Transport().(*tcppipe.Transport)
	require.True(ok)
	require.Equal(time.Second, tcp.Config().ConnectTimeout())
	require.Zero(tcp.Config().KeepAlive())

	scale, err := f.Profile("scale")
	require.NoError(err)
	p, err = scale.Build(l, pipe.WithReceiveTimeout(time.Second))
	require.NoError(err)
	require.Equal(time.Second, p.Config().ReceiveTimeout())
	require.True(p.Config().Persistent())
	ser, ok := p.Transport().(*serialpipe.Transport)
	require.True(ok)
	require.Equal(4, ser.Config().MinLength())
	require.Equal(2, ser.Config().EmptyReads())
	sc := ser.Config().SerialConfig()
	require.Equal(19200, sc.BaudRate)
	require.Equal("E", sc.Parity)
	require.True(sc.RS485.Enabled)

	sensor, err := f.Profile("sensor")
	require.NoError(err)
	tr, err := sensor.Transport(l)
	require.NoError(err)
	udp, ok := tr.(*udppipe.Transport)
	require.True(ok)
	require.Equal(512, udp.Config().ReceiveBufferSize())

	secure, err := f.Profile("secure")
	require.NoError(err)
	tr, err = secure.Transport(l)
	require.NoError(err)
	require.Equal("tcp://127.0.0.1:8443", tr.String())
}

func TestProfile_BuildInvalid(t *testing.T) {
	require := require.New(t)

	f := decode(t, "[pipes.a]\nkind = \"tls\"\nhost = \"127.0.0.1\"\nport = 1\n")
	a, err := f.Profile("a")
	require.NoError(err)
	_, err = a.Build(logger.NewNopMockLogger())
	require.Error(err, "client tls needs a ca file")

	f = decode(t, "[pipes.b]\nkind = \"serial\"\naddress = \"COM1\"\ndata_bits = 9\n")
	b, err := f.Profile("b")
	require.NoError(err)
	_, err = b.Build(logger.NewNopMockLogger())
	require.Error(err)

	f = decode(t, "[pipes.c]\nkind = \"tls\"\nhost = \"127.0.0.1\"\nport = 1\ninsecure_skip_verify = true\nmin_version = \"1.0\"\n")
	c, err := f.Profile("c")
	require.NoError(err)
	_, err = c.Build(logger.NewNopMockLogger())
	require.Error(err)
}

func TestProfile_Descriptor(t *testing.T) {
	require := require.New(t)

	f := decode(t, sample)

	press, _ := f.Profile("press")
	desc := press.Descriptor()()
	require.Equal(message.StrategyFixedHeader, message.StrategyOf(desc))
	desc.SetHeadBytes([]byte{0x03, 0x00, 0x00, 0x07})
	require.Equal(3, desc.ContentLength())
	require.True(desc.CheckHeadBytesLegal())

	scale, _ := f.Profile("scale")
	require.Equal(message.StrategySentinel2, message.StrategyOf(scale.Descriptor()()))

	secure, _ := f.Profile("secure")
	desc = secure.Descriptor()()
	require.Equal(message.StrategyCustom, message.StrategyOf(desc))
	checker, ok := desc.(message.CompletionChecker)
	require.True(ok)
	require.False(checker.CheckReceiveComplete(nil, make([]byte, 5)))
	require.True(checker.CheckReceiveComplete(nil, make([]byte, 6)))

	sent := []byte{0x00, 0x2A, 0x01}
	require.Equal(message.Matched, desc.CheckMessageMatch(sent, []byte{0x00, 0x2A, 9, 9, 9, 9}))
	require.Equal(message.MatchKeepWaiting, desc.CheckMessageMatch(sent, []byte{0x00, 0x2B, 9, 9, 9, 9}))

	raw := decode(t, "[pipes.r]\nkind = \"udp\"\n")
	r, _ := raw.Profile("r")
	require.Nil(r.Descriptor()())
	require.Equal(message.StrategyRaw, message.StrategyOf(r.Descriptor()()))
}

func TestProfile_TransactOverLoopback(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil || n == 0 {
			return
		}
		// noise, then a 4-byte header announcing 7 bytes in total, sent in pieces
		_, _ = conn.Write([]byte{0xFF, 0x03})
		time.Sleep(10 * time.Millisecond)
		_, _ = conn.Write([]byte{0x00, 0x00, 0x07, 0xAA})
		time.Sleep(10 * time.Millisecond)
		_, _ = conn.Write([]byte{0xBB, 0xCC})
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	f := decode(t, `
[pipes.plc]
kind = "tcp"
host = "127.0.0.1"
ports = [`+strconv.Itoa(port)+`]
receive_timeout = "2s"

[pipes.plc.framing]
mode = "fixed"
header_length = 4
length_offset = 2
length_width = 2
adjust = -4
sync = "0300"
`)

	prof, err := f.Profile("plc")
	require.NoError(err)
	p, err := prof.Build(logger.NewNopMockLogger())
	require.NoError(err)
	defer p.Dispose()

	_, err = p.Open(context.Background())
	require.NoError(err)

	frame, err := p.Transact(context.Background(), prof.Descriptor()(), []byte{0x03, 0x00, 0x00, 0x04}, true)
	require.NoError(err)
	require.Equal([]byte{0x03, 0x00, 0x00, 0x07, 0xAA, 0xBB, 0xCC}, frame)
}
