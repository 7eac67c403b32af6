package testutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// SSHServer is a password-authenticated SSH server that only supports
// direct-tcpip channels.
type SSHServer struct {
	Addr    string
	HostKey ssh.PublicKey

	mu    sync.Mutex
	conns int
}

// Handshakes reports how many transports completed authentication.
func (s *SSHServer) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// StartSSHServer listens on loopback until the test ends.
func StartSSHServer(t *testing.T, ctx context.Context, user, password string) *SSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(md ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if md.User() != user || string(pass) != password {
				return nil, errors.New("denied")
			}
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(signer)

	ln := listen(t, ctx)
	s := &SSHServer{Addr: ln.Addr().String(), HostKey: signer.PublicKey()}

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(c, cfg)
		}
	}()
	return s
}

func (s *SSHServer) serve(c net.Conn, cfg *ssh.ServerConfig) {
	defer c.Close()

	sc, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		return
	}
	defer sc.Close()

	s.mu.Lock()
	s.conns++
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		go forward(nc)
	}
}

func forward(nc ssh.NewChannel) {
	var req struct {
		Host       string
		Port       uint32
		OriginHost string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(nc.ExtraData(), &req); err != nil {
		_ = nc.Reject(ssh.Prohibited, "bad payload")
		return
	}

	dst, err := net.Dial("tcp", net.JoinHostPort(req.Host, strconv.Itoa(int(req.Port))))
	if err != nil {
		_ = nc.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	defer dst.Close()

	ch, chReqs, err := nc.Accept()
	if err != nil {
		return
	}
	defer ch.Close()
	go ssh.DiscardRequests(chReqs)

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(ch, dst)
		_ = ch.CloseWrite()
		close(done)
	}()
	_, _ = io.Copy(dst, ch)
	if tc, ok := dst.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	<-done
}
