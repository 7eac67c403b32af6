package tproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/rs/zerolog"

	"github.com/die-net/teeproxy/internal/proxy"
	"github.com/die-net/teeproxy/internal/tunnel"
)

var (
	ErrUnsupported = errors.New("transparent proxy not supported on this platform")

	errNotTCP = errors.New("not a tcp connection")
)

// Server relays redirected connections to their original destination.
type Server struct {
	*proxy.Server
	cfg proxy.Config

	// lookup is OriginalDst outside of tests.
	lookup func(net.Conn) (netip.AddrPort, error)
}

func NewServer(ctx context.Context, cfg proxy.Config) *Server {
	s := &Server{cfg: cfg, lookup: OriginalDst}
	s.Server = proxy.NewServer(ctx, "tproxy", s.handle, cfg.Logger, cfg.Metrics)
	return s
}

func (s *Server) handle(ctx context.Context, c net.Conn, logger zerolog.Logger) {
	dst, err := s.lookup(c)
	if err != nil {
		logger.Info().Err(err).Msg("original destination unavailable")
		return
	}

	target, err := s.cfg.Dialer.DialContext(ctx, "tcp", dst.String())
	if err != nil {
		logger.Info().Err(err).Stringer("dst", dst).Msg("dial failed")
		return
	}

	tcfg := s.cfg.Tunnel
	tcfg.Logger = logger
	logger.Debug().Stringer("dst", dst).Msg("tunnel established")
	if err := tunnel.Run(ctx, c, target, tcfg); err != nil {
		logger.Info().Err(err).Msg("tunnel failed")
	}
}

// localDst reads the destination from the accepted socket's local address.
func localDst(c net.Conn) (netip.AddrPort, error) {
	ta, ok := c.LocalAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("local address %v: %w", c.LocalAddr(), errNotTCP)
	}
	return ta.AddrPort(), nil
}

