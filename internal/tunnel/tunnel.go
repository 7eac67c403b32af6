// Package tunnel relays bytes between a client and a target connection
// through a pair of broadcast buffers, one per direction.
//
// Four loops run concurrently:
//
//	client read  -> clientToTarget buffer
//	clientToTarget buffer -> target write
//	target read  -> targetToClient buffer
//	targetToClient buffer -> client write
//
// The tunnel succeeds once all four reach end of stream and fails as soon as
// any one of them fails, at which point both connections are closed to
// unblock the rest. Taps register extra consumers on the buffers before any
// data flows, so they observe the complete stream without a second read of
// either socket.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/teeproxy/internal/broadcast"
	"github.com/die-net/teeproxy/internal/metrics"
)

// ErrClosed is reported to taps still reading when a tunnel fails.
var ErrClosed = errors.New("tunnel closed")

// Direction identifies one half of a tunnel.
type Direction int

const (
	ClientToTarget Direction = iota
	TargetToClient
)

func (d Direction) String() string {
	switch d {
	case ClientToTarget:
		return "client_to_target"
	case TargetToClient:
		return "target_to_client"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Config controls a tunnel.
type Config struct {
	// MaxBuffered caps the bytes each direction's buffer may retain. A
	// consumer falling further behind fails the tunnel. Zero means no cap.
	MaxBuffered int

	// HalfClose shuts down the write side of a connection once everything
	// the other side sent has been delivered to it.
	HalfClose bool

	// Taps observe the relayed streams. A failing or lagging tap is logged
	// and detached; it never fails the tunnel.
	Taps []Tap

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Run relays between client and target until both directions end or one
// fails. Both connections are closed when Run returns.
func Run(ctx context.Context, client, target net.Conn, cfg Config) error {
	up := broadcast.New(cfg.MaxBuffered)
	down := broadcast.New(cfg.MaxBuffered)

	// Register every consumer before the first byte is written.
	upConsumer := up.Register()
	downConsumer := down.Register()
	tapCtx, cancelTaps := context.WithCancel(ctx)
	defer cancelTaps()
	taps := startTaps(tapCtx, cfg, up, down)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = target.Close()
		})
	}

	cfg.Metrics.TunnelOpened()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, closeBoth)
	defer stop()

	g.Go(func() error {
		return fill(up, client, ClientToTarget, cfg.Metrics)
	})
	g.Go(func() error {
		return drain(gctx, upConsumer, target, ClientToTarget, cfg.HalfClose)
	})
	g.Go(func() error {
		return fill(down, target, TargetToClient, cfg.Metrics)
	})
	g.Go(func() error {
		return drain(gctx, downConsumer, client, TargetToClient, cfg.HalfClose)
	})

	err := g.Wait()
	closeBoth()
	if err != nil {
		up.Abort(ErrClosed)
		down.Abort(ErrClosed)
		cancelTaps()
	}
	taps.Wait()

	cfg.Metrics.TunnelClosed(err)
	cfg.Logger.Debug().
		Int64(ClientToTarget.String(), up.Written()).
		Int64(TargetToClient.String(), down.Written()).
		AnErr("reason", err).
		Msg("tunnel finished")
	return err
}

// fill copies src into dst until src ends.
func fill(dst *broadcast.Buffer, src io.Reader, dir Direction, m *metrics.Metrics) error {
	bp := getBuffer()
	defer putBuffer(bp)
	buf := *bp

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%s: %w", dir, werr)
			}
			m.AddBytes(dir.String(), n)
		}
		if errors.Is(err, io.EOF) {
			dst.CloseWrite()
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s read: %w", dir, err)
		}
	}
}

// drain copies everything c observes to dst until the stream ends.
func drain(ctx context.Context, c *broadcast.Consumer, dst net.Conn, dir Direction, halfClose bool) error {
	bp := getBuffer()
	defer putBuffer(bp)
	buf := *bp

	for {
		n, err := c.ReadContext(ctx, buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%s write: %w", dir, werr)
			}
		}
		if errors.Is(err, io.EOF) {
			if halfClose {
				closeWrite(dst)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
	}
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}
