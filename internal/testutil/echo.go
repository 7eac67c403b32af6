// Package testutil has loopback servers shared by the package tests.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
)

func listen(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

// EchoServer accepts connections until the test ends and writes back
// everything each one sends. A client's half-close is mirrored once the echo
// has drained.
func EchoServer(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	ln := listen(t, ctx)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
				if tc, ok := c.(*net.TCPConn); ok {
					_ = tc.CloseWrite()
				}
			}()
		}
	}()
	return ln
}

// AssertEcho writes msg to rw and expects the same bytes back.
func AssertEcho(t *testing.T, rw io.ReadWriter, msg []byte) {
	t.Helper()

	if _, err := rw.Write(msg); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(msg))
	if _, err := io.ReadFull(rw, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("echo: got %q want %q", got, msg)
	}
}
