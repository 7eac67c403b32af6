package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/teeproxy/internal/conn"
	"github.com/die-net/teeproxy/internal/linereader"
	"github.com/die-net/teeproxy/internal/tunnel"
)

const responseTimeout = 5 * time.Second

type state int

const (
	expectRequestLine state = iota
	expectHeaders
	tunneling
	rejected
)

// negotiation reads a CONNECT request off a Line Reader, one step per line.
type negotiation struct {
	lr             *linereader.Reader
	state          state
	target         string
	headerBytes    int
	maxHeaderBytes int
}

// run advances until the request is complete or refused and returns the
// raw request target.
func (n *negotiation) run() (string, error) {
	for {
		if err := n.step(); err != nil {
			n.state = rejected
			return "", err
		}
		if n.state == tunneling {
			return n.target, nil
		}
	}
}

func (n *negotiation) step() error {
	line, err := n.lr.ReadLine()
	if err != nil {
		return readFailure(err)
	}

	switch n.state {
	case expectRequestLine:
		n.target, err = parseRequestLine(line)
		if err != nil {
			return err
		}
		n.state = expectHeaders
	case expectHeaders:
		// Headers are not interpreted.
		if line == "" {
			n.state = tunneling
			return nil
		}
		n.headerBytes += len(line) + 2
		if n.maxHeaderBytes > 0 && n.headerBytes > n.maxHeaderBytes {
			return statusError(http.StatusRequestHeaderFieldsTooLarge, ErrHeaderTooLarge)
		}
	default:
		return fmt.Errorf("negotiation in state %d", n.state)
	}
	return nil
}

// ConnectServer is an HTTP CONNECT-only proxy.
type ConnectServer struct {
	*Server
	cfg Config
}

func NewConnectServer(ctx context.Context, cfg Config) *ConnectServer {
	s := &ConnectServer{cfg: cfg}
	s.Server = NewServer(ctx, "connect", s.handle, cfg.Logger, cfg.Metrics)
	return s
}

func (s *ConnectServer) handle(ctx context.Context, c net.Conn, logger zerolog.Logger) {
	client, target, err := s.negotiate(ctx, c)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			s.cfg.Metrics.Rejected(se.Code)
			_ = c.SetWriteDeadline(time.Now().Add(responseTimeout))
			if werr := writeStatus(c, se.Code, s.cfg.CanonicalStatus); werr != nil {
				logger.Debug().Err(werr).Msg("error response not delivered")
			}
		}
		logger.Info().Err(err).Msg("connect rejected")
		return
	}

	tcfg := s.cfg.Tunnel
	tcfg.Logger = logger
	logger.Debug().Stringer("target", target.RemoteAddr()).Msg("tunnel established")
	if err := tunnel.Run(ctx, client, target, tcfg); err != nil {
		logger.Info().Err(err).Msg("tunnel failed")
	}
}

// negotiate performs the whole handshake and returns the client, with any
// bytes it sent past its headers queued for the tunnel, and the target.
func (s *ConnectServer) negotiate(ctx context.Context, c net.Conn) (net.Conn, net.Conn, error) {
	if s.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Now())
	})
	defer stop()

	n := &negotiation{
		lr:             linereader.New(c, s.cfg.MaxLineLength),
		maxHeaderBytes: s.cfg.MaxHeaderBytes,
	}
	raw, err := n.run()
	if err != nil {
		return nil, nil, err
	}
	addr, err := splitTarget(raw)
	if err != nil {
		return nil, nil, err
	}

	// The client's part of the handshake is over. The dial has its own
	// timeout and each reply gets a fresh write deadline.
	_ = c.SetDeadline(time.Time{})

	target, err := s.cfg.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, statusError(http.StatusBadGateway, err)
	}

	_ = c.SetWriteDeadline(time.Now().Add(responseTimeout))
	if _, err := c.Write(established); err != nil {
		_ = target.Close()
		return nil, nil, fmt.Errorf("acknowledge: %w", err)
	}
	_ = c.SetDeadline(time.Time{})

	return conn.NewPrefixConn(c, n.lr.Buffered()), target, nil
}
