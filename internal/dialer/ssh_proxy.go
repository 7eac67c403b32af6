package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	internalssh "github.com/die-net/teeproxy/internal/ssh"
)

// SSHProxyDialer opens a direct-tcpip channel per dial over one shared SSH
// transport. The transport is established on first use and replaced once if
// opening a channel on it fails for a reason other than the target.
type SSHProxyDialer struct {
	addr   string
	cfg    internalssh.ClientConfig
	direct *DirectDialer

	mu     sync.Mutex
	client *ssh.Client
	group  singleflight.Group
}

func NewSSHProxyDialer(cfg Config, addr, username, password string) (*SSHProxyDialer, error) {
	if username == "" {
		return nil, fmt.Errorf("ssh upstream %s: missing username", addr)
	}

	creds := internalssh.Credentials{User: username, Password: password, KeyPath: cfg.SSHKeyPath}
	if _, err := creds.AuthMethods(); err != nil {
		return nil, fmt.Errorf("ssh upstream %s: %w", addr, err)
	}

	hostKeys, err := internalssh.HostKeyCallback(cfg.SSHKnownHostsPath, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("ssh upstream %s: %w", addr, err)
	}

	return &SSHProxyDialer{
		addr: addr,
		cfg: internalssh.ClientConfig{
			Credentials:      creds,
			HostKeyCallback:  hostKeys,
			HandshakeTimeout: cfg.NegotiationTimeout,
		},
		direct: NewDirectDialer(cfg),
	}, nil
}

func (d *SSHProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := checkNetwork(network); err != nil {
		return nil, err
	}

	client, err := d.transport(ctx)
	if err != nil {
		return nil, err
	}

	c, err := client.DialContext(ctx, "tcp", address)
	if err != nil {
		var openErr *ssh.OpenChannelError
		if errors.As(err, &openErr) {
			return nil, fmt.Errorf("ssh upstream %s dial %s: %w", d.addr, address, err)
		}

		d.drop(client)
		if client, err = d.transport(ctx); err != nil {
			return nil, err
		}
		if c, err = client.DialContext(ctx, "tcp", address); err != nil {
			return nil, fmt.Errorf("ssh upstream %s dial %s: %w", d.addr, address, err)
		}
	}
	return c, nil
}

// Close tears down the shared transport, if any.
func (d *SSHProxyDialer) Close() error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func (d *SSHProxyDialer) transport(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := d.group.DoChan("transport", func() (any, error) {
		d.mu.Lock()
		if d.client != nil {
			c := d.client
			d.mu.Unlock()
			return c, nil
		}
		d.mu.Unlock()

		// Other dials may be waiting on this handshake, so it must not
		// inherit the cancellation of whichever caller started it.
		hctx := context.WithoutCancel(ctx)
		raw, err := d.direct.DialContext(hctx, "tcp", d.addr)
		if err != nil {
			return nil, fmt.Errorf("ssh upstream %s: %w", d.addr, err)
		}
		c, err := internalssh.Handshake(hctx, raw, d.addr, d.cfg)
		if err != nil {
			return nil, fmt.Errorf("ssh upstream: %w", err)
		}

		d.mu.Lock()
		d.client = c
		d.mu.Unlock()
		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

// drop forgets client if it is still the shared transport.
func (d *SSHProxyDialer) drop(client *ssh.Client) {
	d.mu.Lock()
	if d.client == client {
		d.client = nil
	}
	d.mu.Unlock()
	_ = client.Close()
}
