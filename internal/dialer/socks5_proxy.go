package dialer

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/teeproxy/internal/socks5"
)

// SOCKS5ProxyDialer tunnels through a SOCKS5 proxy.
type SOCKS5ProxyDialer struct {
	cfg    Config
	addr   string
	auth   socks5.Auth
	direct *DirectDialer
}

func NewSOCKS5ProxyDialer(cfg Config, addr, username, password string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		cfg:    cfg,
		addr:   addr,
		auth:   socks5.Auth{Username: username, Password: password},
		direct: NewDirectDialer(cfg),
	}
}

func (d *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := checkNetwork(network); err != nil {
		return nil, err
	}

	c, err := d.direct.DialContext(ctx, network, d.addr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy %s: %w", d.addr, err)
	}

	err = negotiate(ctx, c, d.cfg.NegotiationTimeout, func() error {
		return socks5.Connect(c, d.auth, address)
	})
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy %s connect %s: %w", d.addr, address, err)
	}
	return c, nil
}
