package network

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// DialerConfig centralizes TCP dial behavior so the HTTP transport and any
// raw-socket callers share the same tuning.
type DialerConfig struct {
	// Timeout bounds the TCP connect itself.
	Timeout time.Duration
	// KeepAlive is the interval between keep-alive probes; zero disables them.
	KeepAlive time.Duration
	// ForceNoDelay sets TCP_NODELAY on the established connection.
	ForceNoDelay bool
	// LocalAddr optionally pins the local endpoint.
	LocalAddr net.Addr
	// TLSConfig, when set, upgrades the connection after the TCP handshake.
	TLSConfig *tls.Config
}

// NewDialerConfig returns a config with conservative defaults.
func NewDialerConfig() *DialerConfig {
	return &DialerConfig{
		Timeout:   DefaultDialTimeout,
		KeepAlive: DefaultKeepAliveInterval,
	}
}

// DialTCPContext establishes a TCP connection according to cfg. When
// cfg.TLSConfig is set the connection is wrapped and the TLS handshake is
// driven under the same context.
func DialTCPContext(ctx context.Context, network, addr string, cfg *DialerConfig) (net.Conn, error) {
	if cfg == nil {
		cfg = NewDialerConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: cfg.KeepAlive,
		LocalAddr: cfg.LocalAddr,
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok && cfg.ForceNoDelay {
		// Best effort; a failure here is not worth aborting the connection.
		_ = tcpConn.SetNoDelay(true)
	}

	if cfg.TLSConfig != nil {
		tlsConn := tls.Client(conn, cfg.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}

	return conn, nil
}
