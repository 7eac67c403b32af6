package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
)

// SingleAccept serves exactly one connection with handler. wait closes the
// listener and blocks until handler returns.
func SingleAccept(t *testing.T, ctx context.Context, handler func(net.Conn)) (ln net.Listener, wait func()) {
	t.Helper()

	ln = listen(t, ctx)

	var wg sync.WaitGroup
	wg.Go(func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	})

	return ln, func() {
		_ = ln.Close()
		wg.Wait()
	}
}
