package udppipe

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mickeygo/edgepipe/logger"
)

const (
	DefaultReceiveBufferSize = 2048
	DefaultWriteTimeout      = 3 * time.Second
)

const (
	MinReceiveBufferSize = 64
	MaxReceiveBufferSize = 65507 // largest UDP payload over IPv4
)

// Config holds the UDP transport settings.
type Config struct {
	host string
	port int

	localAddr    *net.UDPAddr
	bufferSize   int
	writeTimeout time.Duration

	logger logger.Logger
}

// NewConfig creates a UDP transport configuration for the remote host and port.
func NewConfig(host string, port int, opts ...Option) (*Config, error) {
	cfg := &Config{
		bufferSize:   DefaultReceiveBufferSize,
		writeTimeout: DefaultWriteTimeout,
		logger:       logger.GetLogger(),
	}

	host = strings.TrimSpace(host)
	if host == "" || strings.ContainsAny(host, " /") {
		return nil, fmt.Errorf("udppipe: invalid host %q", host)
	}
	cfg.host = host

	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("udppipe: port %d out of range [1, 65535]", port)
	}
	cfg.port = port

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Host returns the remote host.
func (cfg *Config) Host() string { return cfg.host }

// Port returns the remote port.
func (cfg *Config) Port() int { return cfg.port }

// ReceiveBufferSize returns the size of the datagram scratch buffer.
func (cfg *Config) ReceiveBufferSize() int { return cfg.bufferSize }

// Option configures a UDP transport.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithLocalAddr binds the local datagram socket, e.g. ":9600".
func WithLocalAddr(addr string) Option {
	return optFunc(func(cfg *Config) error {
		local, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return fmt.Errorf("udppipe: invalid local address %q: %w", addr, err)
		}
		cfg.localAddr = local

		return nil
	})
}

// WithReceiveBufferSize sets the datagram scratch buffer size. Datagrams larger than
// the buffer are truncated by the OS.
func WithReceiveBufferSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinReceiveBufferSize || n > MaxReceiveBufferSize {
			return fmt.Errorf("udppipe: receive buffer size %d out of range [%d, %d]", n, MinReceiveBufferSize, MaxReceiveBufferSize)
		}
		cfg.bufferSize = n

		return nil
	})
}

// WithWriteTimeout sets the write timeout of one send. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("udppipe: write timeout must not be negative")
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithLogger sets the logger of the transport.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("udppipe: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
