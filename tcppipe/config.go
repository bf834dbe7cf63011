package tcppipe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mickeygo/edgepipe/logger"
)

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultWriteTimeout   = 3 * time.Second
	DefaultKeepAlive      = 60 * time.Second
)

const (
	MaxConnectTimeout = 120 * time.Second
	MaxLingerSeconds  = 3600
)

// ConnUpgrader wraps a freshly dialed connection, e.g. with a TLS client. The
// returned connection replaces conn; on error conn is closed by the transport.
type ConnUpgrader func(ctx context.Context, conn net.Conn) (net.Conn, error)

// Config holds the TCP transport settings.
type Config struct {
	host  string
	ports []int

	connectTimeout time.Duration
	writeTimeout   time.Duration
	keepAlive      time.Duration // 0 disables keep-alive
	noDelay        bool
	linger         int // negative keeps the OS default
	localAddr      *net.TCPAddr
	upgrader       ConnUpgrader

	logger logger.Logger
}

// NewConfig creates a TCP transport configuration for host and the candidate ports,
// tried in order with round-robin fail-over.
func NewConfig(host string, ports []int, opts ...Option) (*Config, error) {
	cfg := &Config{
		connectTimeout: DefaultConnectTimeout,
		writeTimeout:   DefaultWriteTimeout,
		keepAlive:      DefaultKeepAlive,
		noDelay:        true,
		linger:         -1,
		logger:         logger.GetLogger(),
	}

	if err := cfg.setHost(host); err != nil {
		return nil, err
	}
	if err := cfg.setPorts(ports); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (cfg *Config) setHost(host string) error {
	host = strings.TrimSpace(host)
	if ip := net.ParseIP(host); ip != nil {
		cfg.host = host
		return nil
	}

	host = strings.TrimSuffix(host, ".")
	if host == "" || strings.ContainsAny(host, " /:") {
		return fmt.Errorf("tcppipe: invalid host %q", host)
	}
	cfg.host = host

	return nil
}

func (cfg *Config) setPorts(ports []int) error {
	if len(ports) == 0 {
		return errors.New("tcppipe: at least one port is required")
	}

	for _, port := range ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("tcppipe: port %d out of range [1, 65535]", port)
		}
	}
	cfg.ports = append([]int(nil), ports...)

	return nil
}

// Host returns the remote host.
func (cfg *Config) Host() string { return cfg.host }

// Ports returns the candidate ports.
func (cfg *Config) Ports() []int { return append([]int(nil), cfg.ports...) }

// ConnectTimeout returns the dial timeout.
func (cfg *Config) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// WriteTimeout returns the per-send write timeout; zero means none.
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// KeepAlive returns the keep-alive period; zero means disabled.
func (cfg *Config) KeepAlive() time.Duration { return cfg.keepAlive }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option configures a TCP transport.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithConnectTimeout sets the dial timeout.
func WithConnectTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 || d > MaxConnectTimeout {
			return fmt.Errorf("tcppipe: connect timeout %v out of range (0, %v]", d, MaxConnectTimeout)
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the write timeout of one send. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("tcppipe: write timeout must not be negative")
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithKeepAlive sets the TCP keep-alive period applied after connect. Zero disables
// keep-alive.
func WithKeepAlive(period time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if period < 0 {
			return errors.New("tcppipe: keep-alive period must not be negative")
		}
		cfg.keepAlive = period

		return nil
	})
}

// WithNoDelay sets TCP_NODELAY. Enabled by default.
func WithNoDelay(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.noDelay = enabled
		return nil
	})
}

// WithLinger sets SO_LINGER in seconds. Negative keeps the OS default.
func WithLinger(sec int) Option {
	return optFunc(func(cfg *Config) error {
		if sec > MaxLingerSeconds {
			return fmt.Errorf("tcppipe: linger %d exceeds maximum %d", sec, MaxLingerSeconds)
		}
		cfg.linger = sec

		return nil
	})
}

// WithLocalAddr binds the local end of the connection, e.g. "192.168.1.10:0".
func WithLocalAddr(addr string) Option {
	return optFunc(func(cfg *Config) error {
		if addr == "" {
			cfg.localAddr = nil
			return nil
		}

		local, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			return fmt.Errorf("tcppipe: invalid local address %q: %w", addr, err)
		}
		cfg.localAddr = local

		return nil
	})
}

// WithUpgrader sets a hook that wraps every new connection.
func WithUpgrader(u ConnUpgrader) Option {
	return optFunc(func(cfg *Config) error {
		cfg.upgrader = u
		return nil
	})
}

// WithLogger sets the logger of the transport.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("tcppipe: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
