package config

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mickeygo/edgepipe/logger"
	"github.com/mickeygo/edgepipe/pipe"
	"github.com/mickeygo/edgepipe/serialpipe"
	"github.com/mickeygo/edgepipe/tcppipe"
	"github.com/mickeygo/edgepipe/tlspipe"
	"github.com/mickeygo/edgepipe/udppipe"
)

// Profile is one [pipes.<name>] table.
type Profile struct {
	Kind string `toml:"kind"`

	// tcp, tls and udp
	Host           string   `toml:"host"`
	Ports          []int    `toml:"ports"`
	Port           int      `toml:"port"`
	LocalAddr      string   `toml:"local_addr"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
	KeepAlive      Duration `toml:"keep_alive"`
	NoDelay        bool     `toml:"no_delay"`
	Linger         int      `toml:"linger"`
	BufferSize     int      `toml:"receive_buffer_size"`

	// tls
	Mode               string   `toml:"mode"`
	ServerName         string   `toml:"server_name"`
	CAFile             string   `toml:"ca_file"`
	CertFile           string   `toml:"cert_file"`
	KeyFile            string   `toml:"key_file"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
	MinVersion         string   `toml:"min_version"`
	HandshakeTimeout   Duration `toml:"handshake_timeout"`

	// serial
	Address      string   `toml:"address"`
	BaudRate     int      `toml:"baud_rate"`
	DataBits     int      `toml:"data_bits"`
	StopBits     int      `toml:"stop_bits"`
	Parity       string   `toml:"parity"`
	PollInterval Duration `toml:"poll_interval"`
	MinLength    int      `toml:"min_length"`
	EmptyReads   int      `toml:"empty_reads"`
	RTS          bool     `toml:"rts"`
	ByteInterval Duration `toml:"byte_interval"`

	// pipe
	ReceiveTimeout  Duration `toml:"receive_timeout"`
	SettleDelay     Duration `toml:"settle_delay"`
	Persistent      bool     `toml:"persistent"`
	StrictMatch     bool     `toml:"strict_match"`
	FlushBeforeSend bool     `toml:"flush_before_send"`
	ChunkSize       int      `toml:"chunk_size"`
	MaxFrameSize    int      `toml:"max_frame_size"`

	Framing Framing `toml:"framing"`

	name string
	meta toml.MetaData
	pool *pipe.EndpointPool
}

// Name returns the profile name.
func (p *Profile) Name() string { return p.name }

func (p *Profile) defined(key ...string) bool {
	return p.meta.IsDefined(append([]string{"pipes", p.name}, key...)...)
}

func (p *Profile) validate() error {
	p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
	switch p.Kind {
	case KindTCP, KindTLS:
		if len(p.Ports) == 0 && p.Port > 0 {
			p.Ports = []int{p.Port}
		}
	case KindUDP, KindSerial:
	default:
		return fmt.Errorf("%w %q in profile %q", ErrInvalidKind, p.Kind, p.name)
	}

	if err := p.Framing.validate(); err != nil {
		return fmt.Errorf("config: profile %q: %w", p.name, err)
	}

	return nil
}

// Transport creates the transport of the profile without opening it.
func (p *Profile) Transport(l logger.Logger) (pipe.Transport, error) {
	if l == nil {
		l = logger.GetLogger()
	}

	var (
		tr  pipe.Transport
		err error
	)

	switch p.Kind {
	case KindTCP:
		tr, err = tcppipe.New(p.Host, p.Ports, p.tcpOptions(l)...)
	case KindTLS:
		var opts []tlspipe.Option
		opts, err = p.tlsOptions(l)
		if err == nil {
			tr, err = tlspipe.New(p.Host, p.Ports, opts...)
		}
	case KindUDP:
		tr, err = udppipe.New(p.Host, p.Port, p.udpOptions(l)...)
	case KindSerial:
		tr, err = serialpipe.New(p.Address, p.serialOptions(l)...)
	}

	if err != nil {
		return nil, fmt.Errorf("config: profile %q: %w", p.name, err)
	}

	return tr, nil
}

// PipeOptions returns the pipe options declared by the profile.
func (p *Profile) PipeOptions() []pipe.Option {
	opts := []pipe.Option{pipe.WithName(p.name)}

	if p.defined("receive_timeout") {
		opts = append(opts, pipe.WithReceiveTimeout(p.ReceiveTimeout.std()))
	}
	if p.defined("settle_delay") {
		opts = append(opts, pipe.WithSettleDelay(p.SettleDelay.std()))
	}
	if p.defined("persistent") {
		opts = append(opts, pipe.WithPersistent(p.Persistent))
	}
	if p.defined("strict_match") {
		opts = append(opts, pipe.WithStrictMatch(p.StrictMatch))
	}
	if p.defined("flush_before_send") && p.Kind != KindSerial {
		opts = append(opts, pipe.WithFlushBeforeSend(p.FlushBeforeSend))
	}
	if p.defined("chunk_size") {
		opts = append(opts, pipe.WithChunkSize(p.ChunkSize))
	}
	if p.defined("max_frame_size") {
		opts = append(opts, pipe.WithMaxFrameSize(p.MaxFrameSize))
	}
	if p.pool != nil {
		opts = append(opts, pipe.WithSocketPool(p.pool))
	}

	return opts
}

// Build creates the transport and the pipe of the profile. opts are applied after
// the profile options.
func (p *Profile) Build(l logger.Logger, opts ...pipe.Option) (*pipe.Pipe, error) {
	if l == nil {
		l = logger.GetLogger()
	}

	tr, err := p.Transport(l)
	if err != nil {
		return nil, err
	}

	all := append(p.PipeOptions(), pipe.WithLogger(l))
	all = append(all, opts...)

	pp, err := pipe.New(tr, all...)
	if err != nil {
		return nil, fmt.Errorf("config: profile %q: %w", p.name, err)
	}

	return pp, nil
}

func (p *Profile) tcpOptions(l logger.Logger) []tcppipe.Option {
	opts := []tcppipe.Option{tcppipe.WithLogger(l)}

	if p.defined("connect_timeout") {
		opts = append(opts, tcppipe.WithConnectTimeout(p.ConnectTimeout.std()))
	}
	if p.defined("write_timeout") {
		opts = append(opts, tcppipe.WithWriteTimeout(p.WriteTimeout.std()))
	}
	if p.defined("keep_alive") {
		opts = append(opts, tcppipe.WithKeepAlive(p.KeepAlive.std()))
	}
	if p.defined("no_delay") {
		opts = append(opts, tcppipe.WithNoDelay(p.NoDelay))
	}
	if p.defined("linger") {
		opts = append(opts, tcppipe.WithLinger(p.Linger))
	}
	if p.LocalAddr != "" {
		opts = append(opts, tcppipe.WithLocalAddr(p.LocalAddr))
	}

	return opts
}

func (p *Profile) tlsOptions(l logger.Logger) ([]tlspipe.Option, error) {
	opts := []tlspipe.Option{tlspipe.WithTCPOptions(p.tcpOptions(l)...)}

	switch strings.ToLower(strings.TrimSpace(p.Mode)) {
	case "", "client":
		opts = append(opts, tlspipe.WithClientMode())
	case "server":
		opts = append(opts, tlspipe.WithServerMode())
	default:
		return nil, fmt.Errorf("invalid tls mode %q", p.Mode)
	}

	if p.ServerName != "" {
		opts = append(opts, tlspipe.WithServerName(p.ServerName))
	}
	if p.CAFile != "" {
		opts = append(opts, tlspipe.WithCAFile(p.CAFile))
	}
	if p.CertFile != "" || p.KeyFile != "" {
		opts = append(opts, tlspipe.WithCertificate(p.CertFile, p.KeyFile))
	}
	if p.InsecureSkipVerify {
		opts = append(opts, tlspipe.WithInsecureSkipVerify(true))
	}
	if p.defined("handshake_timeout") {
		opts = append(opts, tlspipe.WithHandshakeTimeout(p.HandshakeTimeout.std()))
	}

	switch strings.TrimSpace(p.MinVersion) {
	case "":
	case "1.2":
		opts = append(opts, tlspipe.WithMinVersion(tls.VersionTLS12))
	case "1.3":
		opts = append(opts, tlspipe.WithMinVersion(tls.VersionTLS13))
	default:
		return nil, fmt.Errorf("unsupported tls min_version %q", p.MinVersion)
	}

	return opts, nil
}

func (p *Profile) udpOptions(l logger.Logger) []udppipe.Option {
	opts := []udppipe.Option{udppipe.WithLogger(l)}

	if p.LocalAddr != "" {
		opts = append(opts, udppipe.WithLocalAddr(p.LocalAddr))
	}
	if p.defined("receive_buffer_size") {
		opts = append(opts, udppipe.WithReceiveBufferSize(p.BufferSize))
	}
	if p.defined("write_timeout") {
		opts = append(opts, udppipe.WithWriteTimeout(p.WriteTimeout.std()))
	}

	return opts
}

func (p *Profile) serialOptions(l logger.Logger) []serialpipe.Option {
	opts := []serialpipe.Option{serialpipe.WithLogger(l)}

	if p.defined("baud_rate") {
		opts = append(opts, serialpipe.WithBaudRate(p.BaudRate))
	}
	if p.defined("data_bits") {
		opts = append(opts, serialpipe.WithDataBits(p.DataBits))
	}
	if p.defined("stop_bits") {
		opts = append(opts, serialpipe.WithStopBits(p.StopBits))
	}
	if p.defined("parity") {
		opts = append(opts, serialpipe.WithParity(p.Parity))
	}
	if p.defined("poll_interval") {
		opts = append(opts, serialpipe.WithPollInterval(p.PollInterval.std()))
	}
	if p.defined("min_length") {
		opts = append(opts, serialpipe.WithMinLength(p.MinLength))
	}
	if p.defined("empty_reads") {
		opts = append(opts, serialpipe.WithEmptyReads(p.EmptyReads))
	}
	if p.defined("rts") {
		opts = append(opts, serialpipe.WithRTS(p.RTS))
	}
	if p.defined("byte_interval") {
		opts = append(opts, serialpipe.WithByteInterval(p.ByteInterval.std()))
	}
	// the serial line flushes its own input buffer
	if p.defined("flush_before_send") {
		opts = append(opts, serialpipe.WithFlushBeforeSend(p.FlushBeforeSend))
	}

	return opts
}
