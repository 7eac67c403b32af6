package proxy

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/teeproxy/internal/dialer"
	"github.com/die-net/teeproxy/internal/metrics"
	"github.com/die-net/teeproxy/internal/tunnel"
)

type Config struct {
	Dialer dialer.Dialer

	// NegotiationTimeout bounds the client handshake, from accept until the
	// tunnel starts. Zero means no limit.
	NegotiationTimeout time.Duration

	// MaxLineLength caps a single request or header line; MaxHeaderBytes
	// caps the whole header block. Zero disables either cap.
	MaxLineLength  int
	MaxHeaderBytes int

	// CanonicalStatus answers errors with the standard reason phrase
	// instead of "Connection Established".
	CanonicalStatus bool

	Tunnel tunnel.Config

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}
