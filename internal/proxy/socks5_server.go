package proxy

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/teeproxy/internal/socks5"
	"github.com/die-net/teeproxy/internal/tunnel"
)

// SOCKS5Server accepts SOCKS5 CONNECT requests and relays them through the
// same tunnel as CONNECT clients.
type SOCKS5Server struct {
	*Server
	cfg Config
}

// NewSOCKS5Server offers only the no-authentication method, like the CONNECT
// listener.
func NewSOCKS5Server(ctx context.Context, cfg Config) *SOCKS5Server {
	s := &SOCKS5Server{cfg: cfg}
	s.Server = NewServer(ctx, "socks5", s.handle, cfg.Logger, cfg.Metrics)
	return s
}

func (s *SOCKS5Server) handle(ctx context.Context, c net.Conn, logger zerolog.Logger) {
	if s.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Now())
	})

	addr, err := socks5.Accept(c, socks5.Auth{})
	if err != nil {
		stop()
		logger.Info().Err(err).Msg("socks5 handshake failed")
		return
	}

	target, err := s.cfg.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		stop()
		socks5.Fail(c, err)
		logger.Info().Err(err).Str("target", addr).Msg("socks5 dial failed")
		return
	}

	err = socks5.Succeed(c, target.LocalAddr())
	stop()
	if err != nil {
		_ = target.Close()
		logger.Info().Err(err).Msg("socks5 reply failed")
		return
	}
	_ = c.SetDeadline(time.Time{})

	tcfg := s.cfg.Tunnel
	tcfg.Logger = logger
	logger.Debug().Str("target", addr).Msg("tunnel established")
	if err := tunnel.Run(ctx, c, target, tcfg); err != nil {
		logger.Info().Err(err).Msg("tunnel failed")
	}
}
