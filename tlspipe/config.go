package tlspipe

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mickeygo/edgepipe/tcppipe"
)

// Mode selects the side of the handshake the transport authenticates as.
type Mode int

const (
	// ModeClient verifies the device certificate.
	ModeClient Mode = iota
	// ModeServer presents a certificate on the dialed socket.
	ModeServer
)

func (m Mode) String() string {
	if m == ModeServer {
		return "server"
	}

	return "client"
}

const (
	DefaultHandshakeTimeout = 5 * time.Second
	MaxHandshakeTimeout     = 60 * time.Second
	DefaultMinVersion       = tls.VersionTLS12
)

var (
	ErrCertificateRequired = errors.New("tlspipe: server mode requires a certificate")
	ErrCAFileRequired      = errors.New("tlspipe: client mode requires a ca file or insecure skip verify")
	ErrKeyFileRequired     = errors.New("tlspipe: certificate key file required")
	ErrInvalidMinVersion   = errors.New("tlspipe: invalid minimum tls version")
)

// Config holds the TLS settings layered over a TCP transport.
type Config struct {
	mode               Mode
	serverName         string
	caFile             string
	certFile           string
	keyFile            string
	insecureSkipVerify bool
	minVersion         uint16
	handshakeTimeout   time.Duration
	tcpOpts            []tcppipe.Option
}

// NewConfig applies opts and validates the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		mode:             ModeClient,
		minVersion:       DefaultMinVersion,
		handshakeTimeout: DefaultHandshakeTimeout,
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Mode returns the authentication mode.
func (cfg *Config) Mode() Mode { return cfg.mode }

// HandshakeTimeout returns the handshake time limit.
func (cfg *Config) HandshakeTimeout() time.Duration { return cfg.handshakeTimeout }

// Validate checks that the chosen mode has the material it needs.
func (cfg *Config) Validate() error {
	if cfg.certFile != "" && cfg.keyFile == "" {
		return ErrKeyFileRequired
	}

	switch cfg.mode {
	case ModeServer:
		if cfg.certFile == "" {
			return ErrCertificateRequired
		}
	default:
		if cfg.caFile == "" && !cfg.insecureSkipVerify {
			return ErrCAFileRequired
		}
	}

	return nil
}

// TLSConfig loads the certificates and builds the crypto/tls configuration.
func (cfg *Config) TLSConfig() (*tls.Config, error) {
	tc := &tls.Config{
		ServerName:         cfg.serverName,
		MinVersion:         cfg.minVersion,
		InsecureSkipVerify: cfg.insecureSkipVerify, //nolint:gosec
	}

	if cfg.certFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.certFile, cfg.keyFile)
		if err != nil {
			return nil, fmt.Errorf("tlspipe: load certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	if cfg.caFile != "" {
		pem, err := os.ReadFile(cfg.caFile)
		if err != nil {
			return nil, fmt.Errorf("tlspipe: read ca file: %w", err)
		}

		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("tlspipe: no certificates in %s", cfg.caFile)
		}

		if cfg.mode == ModeServer {
			tc.ClientCAs = roots
			tc.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tc.RootCAs = roots
		}
	}

	return tc, nil
}

// Option configures a TLS transport.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithClientMode authenticates the device as the TLS server. This is the default.
func WithClientMode() Option {
	return optFunc(func(cfg *Config) error {
		cfg.mode = ModeClient
		return nil
	})
}

// WithServerMode makes the transport act as the TLS server on the socket it dials.
func WithServerMode() Option {
	return optFunc(func(cfg *Config) error {
		cfg.mode = ModeServer
		return nil
	})
}

// WithServerName sets the name verified against the device certificate.
func WithServerName(name string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.serverName = strings.TrimSpace(name)
		return nil
	})
}

// WithCAFile sets the PEM bundle used to verify the peer.
func WithCAFile(path string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.caFile = strings.TrimSpace(path)
		return nil
	})
}

// WithCertificate sets the certificate presented to the peer.
func WithCertificate(certFile, keyFile string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.certFile = strings.TrimSpace(certFile)
		cfg.keyFile = strings.TrimSpace(keyFile)

		return nil
	})
}

// WithInsecureSkipVerify disables peer certificate validation.
func WithInsecureSkipVerify(skip bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.insecureSkipVerify = skip
		return nil
	})
}

// WithMinVersion sets the lowest accepted protocol version, e.g. tls.VersionTLS13.
func WithMinVersion(v uint16) Option {
	return optFunc(func(cfg *Config) error {
		switch v {
		case tls.VersionTLS10, tls.VersionTLS11, tls.VersionTLS12, tls.VersionTLS13:
		default:
			return fmt.Errorf("%w: 0x%04x", ErrInvalidMinVersion, v)
		}
		cfg.minVersion = v

		return nil
	})
}

// WithHandshakeTimeout bounds the handshake on each new connection.
func WithHandshakeTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 || d > MaxHandshakeTimeout {
			return fmt.Errorf("tlspipe: handshake timeout %v out of range (0, %v]", d, MaxHandshakeTimeout)
		}
		cfg.handshakeTimeout = d

		return nil
	})
}

// WithTCPOptions passes options to the underlying TCP transport.
func WithTCPOptions(opts ...tcppipe.Option) Option {
	return optFunc(func(cfg *Config) error {
		cfg.tcpOpts = append(cfg.tcpOpts, opts...)
		return nil
	})
}
