package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/die-net/teeproxy/internal/metrics"
)

// Handler serves one accepted connection. The connection is closed when it
// returns.
type Handler func(ctx context.Context, c net.Conn, logger zerolog.Logger)

// Server runs a Handler per accepted connection. A failing connection is
// logged by its handler and never stops the server.
type Server struct {
	ctx     context.Context
	name    string
	handler Handler
	logger  zerolog.Logger
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

// NewServer names the listener for logs and metrics. Connections are torn
// down when ctx ends.
func NewServer(ctx context.Context, name string, h Handler, logger zerolog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		ctx:     ctx,
		name:    name,
		handler: h,
		logger:  logger.With().Str("listener", name).Logger(),
		metrics: m,
	}
}

// Serve accepts until ln is closed, then waits for in-flight connections.
// It returns nil after a close and the accept error otherwise.
func (s *Server) Serve(ln net.Listener) error {
	defer s.wg.Wait()

	s.logger.Info().Stringer("addr", ln.Addr()).Msg("listening")
	for {
		c, err := ln.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s accept: %w", s.name, err)
		}

		s.metrics.Accepted(s.name)
		s.wg.Go(func() {
			defer c.Close()

			logger := s.logger.With().
				Str("conn_id", uuid.NewString()).
				Stringer("remote", c.RemoteAddr()).
				Logger()
			s.handler(s.ctx, c, logger)
		})
	}
}
