package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/netutil"
)

// ListenOptions tunes the listening socket.
type ListenOptions struct {
	// MaxConnections caps simultaneously open connections; 0 means no cap.
	MaxConnections int
	// UserTimeout bounds how long written data may stay unacknowledged
	// before the kernel fails the connection (Linux only); 0 keeps the
	// system default.
	UserTimeout time.Duration
}

// LoadTLSConfig loads the certificate/key pair the server presents.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Listen binds addr and wraps the listener in TLS when tlsConfig is set.
func Listen(ctx context.Context, addr string, tlsConfig *tls.Config, opts ListenOptions) (net.Listener, error) {
	lc := net.ListenConfig{Control: socketControl(opts)}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, opts.MaxConnections)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	return ln, nil
}
