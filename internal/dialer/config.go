package dialer

import (
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Config is shared by every Dialer.
type Config struct {
	DialTimeout time.Duration

	// NegotiationTimeout bounds any handshake with an upstream proxy.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// DNSCacheTTL enables caching of name lookups made by direct dials.
	DNSCacheTTL time.Duration

	SSHKeyPath        string
	SSHKnownHostsPath string

	Logger zerolog.Logger
}
