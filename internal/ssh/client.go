package ssh

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// ClientConfig configures a transport handshake.
type ClientConfig struct {
	Credentials     Credentials
	HostKeyCallback ssh.HostKeyCallback

	// HandshakeTimeout bounds the handshake. Zero means only ctx applies.
	HandshakeTimeout time.Duration
}

// Handshake runs the SSH client handshake over conn and returns a client
// ready to open channels. conn is closed on failure, including when ctx is
// canceled mid-handshake.
func Handshake(ctx context.Context, conn net.Conn, addr string, cfg ClientConfig) (*ssh.Client, error) {
	auth, err := cfg.Credentials.AuthMethods()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            cfg.Credentials.User,
		Auth:            auth,
		HostKeyCallback: cfg.HostKeyCallback,
	})
	if !stop() {
		if err == nil {
			_ = cc.Close()
		}
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, context.Cause(ctx))
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(cc, chans, reqs), nil
}
