package conn

import (
	"context"
	"fmt"
	"net"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
)

// ListenConfig describes a TCP listener.
type ListenConfig struct {
	KeepAlive net.KeepAliveConfig

	// ProxyProtocol expects every accepted connection to start with a
	// PROXY protocol (v1 or v2) header; RemoteAddr then reports the
	// address carried in that header.
	ProxyProtocol bool

	// ProxyHeaderTimeout bounds the wait for the PROXY header. Zero uses
	// the library default.
	ProxyHeaderTimeout time.Duration
}

// ListenTCP listens on the given network/address and returns a net.Listener
// that applies cfg to accepted connections.
func ListenTCP(ctx context.Context, network, addr string, cfg ListenConfig) (net.Listener, error) {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	var l net.Listener = &KeepAliveListener{Listener: ln, KeepAliveConfig: cfg.KeepAlive}
	if cfg.ProxyProtocol {
		l = &proxyproto.Listener{Listener: l, ReadHeaderTimeout: cfg.ProxyHeaderTimeout}
	}
	return l, nil
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

// Accept accepts the next connection and applies KeepAliveConfig if the
// connection is a *net.TCPConn.
func (l *KeepAliveListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	ApplyKeepAlive(c, l.KeepAliveConfig)
	return c, nil
}

// ApplyKeepAlive sets ka on c if it is a TCP connection.
func ApplyKeepAlive(c net.Conn, ka net.KeepAliveConfig) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(ka)
	}
}
