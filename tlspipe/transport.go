// Package tlspipe provides a TLS-over-TCP transport.
//
// The transport is a tcppipe.Transport whose connection upgrader runs the TLS
// handshake on every new connection, so reconnecting through pipe.Open always
// yields a fresh TLS session.
package tlspipe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/mickeygo/edgepipe/tcppipe"
)

// New creates a TLS transport to host, trying ports in order.
func New(host string, ports []int, opts ...Option) (*tcppipe.Transport, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	tc, err := cfg.TLSConfig()
	if err != nil {
		return nil, err
	}
	if tc.ServerName == "" && cfg.mode == ModeClient {
		tc.ServerName = host
	}

	tcpOpts := append(append([]tcppipe.Option(nil), cfg.tcpOpts...), tcppipe.WithUpgrader(upgrader(cfg, tc)))

	return tcppipe.New(host, ports, tcpOpts...)
}

func upgrader(cfg *Config, tc *tls.Config) tcppipe.ConnUpgrader {
	return func(ctx context.Context, conn net.Conn) (net.Conn, error) {
		var tlsConn *tls.Conn
		if cfg.mode == ModeServer {
			tlsConn = tls.Server(conn, tc)
		} else {
			tlsConn = tls.Client(conn, tc.Clone())
		}

		hsCtx, cancel := context.WithTimeout(ctx, cfg.handshakeTimeout)
		defer cancel()

		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			return nil, fmt.Errorf("tlspipe: %s handshake: %w", cfg.mode, err)
		}

		return tlsConn, nil
	}
}
