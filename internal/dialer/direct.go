package dialer

import (
	"context"
	"fmt"
	"net"
)

// DirectDialer connects straight to the target.
type DirectDialer struct {
	dialer   net.Dialer
	resolver *resolver
}

func NewDirectDialer(cfg Config) *DirectDialer {
	d := &DirectDialer{
		dialer: net.Dialer{
			Timeout:         cfg.DialTimeout,
			KeepAliveConfig: cfg.KeepAlive,
		},
	}
	if !cfg.KeepAlive.Enable {
		d.dialer.KeepAlive = -1
	}
	if cfg.DNSCacheTTL > 0 {
		d.resolver = newResolver(cfg.DNSCacheTTL)
	}
	return d
}

func (d *DirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := checkNetwork(network); err != nil {
		return nil, err
	}
	if d.resolver == nil {
		return d.dial(ctx, network, address)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	addrs, err := d.resolver.resolve(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	var firstErr error
	for _, ip := range addrs {
		c, err := d.dial(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return c, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, firstErr
}

func (d *DirectDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	c, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return c, nil
}
