package tproxy

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/die-net/teeproxy/internal/conn"
)

// ListenTransparentTCP listens on addr with the platform's option for
// accepting redirected connections. Firewall rules are the caller's job.
func ListenTransparentTCP(ctx context.Context, addr string, cfg conn.ListenConfig) (net.Listener, error) {
	if !IsSupported {
		return nil, ErrUnsupported
	}

	lc := net.ListenConfig{Control: func(network, _ string, rc syscall.RawConn) error {
		var opErr error
		if err := rc.Control(func(fd uintptr) {
			opErr = setTransparent(network, int(fd))
		}); err != nil {
			return err
		}
		return opErr
	}}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tproxy %s: %w", addr, err)
	}
	return &conn.KeepAliveListener{Listener: ln, KeepAliveConfig: cfg.KeepAlive}, nil
}
