package tunnel

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/die-net/teeproxy/internal/broadcast"
)

// Tap observes one direction of a tunnel by reading r until it returns an
// error. io.EOF marks the normal end of the stream.
type Tap func(ctx context.Context, dir Direction, r io.Reader) error

// HexDump returns a Tap that logs every chunk it sees at trace level.
func HexDump(logger zerolog.Logger) Tap {
	return func(_ context.Context, dir Direction, r io.Reader) error {
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				logger.Trace().
					Stringer("direction", dir).
					Int("len", n).
					Hex("data", buf[:n]).
					Msg("relay")
			}
			if err != nil {
				return err
			}
		}
	}
}

type consumerReader struct {
	ctx context.Context
	c   *broadcast.Consumer
}

func (r consumerReader) Read(p []byte) (int, error) {
	return r.c.ReadContext(r.ctx, p)
}

// startTaps registers a consumer per tap and direction and runs each tap
// against it. A tap that falls more than MaxBuffered behind is detached. The returned group finishes once every tap has returned.
func startTaps(ctx context.Context, cfg Config, up, down *broadcast.Buffer) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, tap := range cfg.Taps {
		for dir, b := range map[Direction]*broadcast.Buffer{ClientToTarget: up, TargetToClient: down} {
			c := b.RegisterDetachable()
			wg.Go(func() {
				defer c.Close()
				err := tap(ctx, dir, consumerReader{ctx: ctx, c: c})
				if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
					cfg.Logger.Warn().Err(err).Stringer("direction", dir).Msg("tap detached")
				}
			})
		}
	}
	return &wg
}
