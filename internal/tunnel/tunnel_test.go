package tunnel

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/teeproxy/internal/broadcast"
)

// tcpPair returns the two ends of a loopback TCP connection.
func tcpPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	c, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		_ = dialed.Close()
		_ = c.Close()
	})
	return dialed.(*net.TCPConn), c.(*net.TCPConn)
}

type harness struct {
	client *net.TCPConn // the proxy's client-facing peer
	target *net.TCPConn // the proxy's target-facing peer
	done   chan error
}

func startTunnel(t *testing.T, ctx context.Context, cfg Config) *harness {
	t.Helper()

	clientOuter, clientInner := tcpPair(t)
	targetInner, targetOuter := tcpPair(t)

	h := &harness{client: clientOuter, target: targetOuter, done: make(chan error, 1)}
	go func() {
		h.done <- Run(ctx, clientInner, targetInner, cfg)
	}()
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()

	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("tunnel did not finish")
		return nil
	}
}

func TestRunRelaysBothDirections(t *testing.T) {
	t.Parallel()

	h := startTunnel(t, context.Background(), Config{HalfClose: true, Logger: zerolog.Nop()})

	up := make([]byte, 1<<20)
	down := make([]byte, 300_000)
	_, _ = rand.Read(up)
	_, _ = rand.Read(down)

	var wg sync.WaitGroup
	var gotUp, gotDown []byte
	wg.Go(func() {
		gotUp, _ = io.ReadAll(h.target)
	})
	wg.Go(func() {
		gotDown, _ = io.ReadAll(h.client)
	})
	wg.Go(func() {
		_, _ = h.client.Write(up)
		_ = h.client.CloseWrite()
	})
	wg.Go(func() {
		_, _ = h.target.Write(down)
		_ = h.target.CloseWrite()
	})

	if err := h.wait(t); err != nil {
		t.Fatalf("tunnel: %v", err)
	}
	wg.Wait()

	if !bytes.Equal(up, gotUp) {
		t.Fatalf("client->target: got %d bytes want %d", len(gotUp), len(up))
	}
	if !bytes.Equal(down, gotDown) {
		t.Fatalf("target->client: got %d bytes want %d", len(gotDown), len(down))
	}
}

func TestRunWithoutHalfCloseWaitsForBothSides(t *testing.T) {
	t.Parallel()

	h := startTunnel(t, context.Background(), Config{Logger: zerolog.Nop()})

	if _, err := h.client.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(h.target, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q", buf)
	}

	_ = h.client.CloseWrite()

	select {
	case err := <-h.done:
		t.Fatalf("tunnel finished with the target side still open: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	_ = h.target.CloseWrite()
	if err := h.wait(t); err != nil {
		t.Fatalf("tunnel: %v", err)
	}
}

// stallConn never completes a Write until it is closed.
type stallConn struct {
	net.Conn
	once   sync.Once
	closed chan struct{}
}

func (c *stallConn) Write([]byte) (int, error) {
	<-c.closed
	return 0, net.ErrClosed
}

func (c *stallConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.Conn.Close()
}

func TestRunFailsWhenBufferLimitExceeded(t *testing.T) {
	t.Parallel()

	clientOuter, clientInner := tcpPair(t)
	targetInner, targetOuter := tcpPair(t)
	target := &stallConn{Conn: targetInner, closed: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), clientInner, target, Config{MaxBuffered: 1024, Logger: zerolog.Nop()})
	}()

	go func() {
		_, _ = clientOuter.Write(make([]byte, 64*1024))
	}()

	h := &harness{client: clientOuter, target: targetOuter, done: done}
	err := h.wait(t)
	if !errors.Is(err, broadcast.ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}

	// Both sockets are torn down.
	_ = targetOuter.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadAll(targetOuter); err != nil && !isConnReset(err) {
		t.Fatalf("target side not closed: %v", err)
	}
}

func TestStalledTapIsDetached(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	tapErr := make(chan error, 1)
	stalled := func(_ context.Context, dir Direction, r io.Reader) error {
		if dir != ClientToTarget {
			_, err := io.Copy(io.Discard, r)
			return err
		}
		// Read nothing until every byte has reached the target.
		<-release
		_, err := io.Copy(io.Discard, r)
		tapErr <- err
		return err
	}
	h := startTunnel(t, context.Background(), Config{
		MaxBuffered: 256 * 1024,
		HalfClose:   true,
		Taps:        []Tap{stalled},
		Logger:      zerolog.Nop(),
	})

	payload := make([]byte, 1<<20)
	_, _ = rand.Read(payload)

	var got []byte
	var wg sync.WaitGroup
	wg.Go(func() {
		got, _ = io.ReadAll(h.target)
		close(release)
		_ = h.target.CloseWrite()
	})
	wg.Go(func() {
		_, _ = io.Copy(io.Discard, h.client)
	})
	_, _ = h.client.Write(payload)
	_ = h.client.CloseWrite()

	if err := h.wait(t); err != nil {
		t.Fatalf("tunnel: %v", err)
	}
	wg.Wait()

	if !bytes.Equal(payload, got) {
		t.Fatalf("client->target: got %d bytes want %d", len(got), len(payload))
	}
	if err := <-tapErr; !errors.Is(err, broadcast.ErrLagged) {
		t.Fatalf("expected ErrLagged, got %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	h := startTunnel(t, ctx, Config{Logger: zerolog.Nop()})

	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := h.wait(t); err == nil {
		t.Fatal("expected an error after cancel")
	}
}

func TestTapsSeeFullStream(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[Direction]*bytes.Buffer{ClientToTarget: {}, TargetToClient: {}}
	record := func(_ context.Context, dir Direction, r io.Reader) error {
		b, err := io.ReadAll(r)
		mu.Lock()
		seen[dir].Write(b)
		mu.Unlock()
		return err
	}

	h := startTunnel(t, context.Background(), Config{HalfClose: true, Taps: []Tap{record}, Logger: zerolog.Nop()})

	go func() { _, _ = io.Copy(io.Discard, h.target) }()
	go func() { _, _ = io.Copy(io.Discard, h.client) }()

	_, _ = h.client.Write([]byte("hello target"))
	_ = h.client.CloseWrite()
	_, _ = h.target.Write([]byte("hello client"))
	_ = h.target.CloseWrite()

	if err := h.wait(t); err != nil {
		t.Fatalf("tunnel: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got := seen[ClientToTarget].String(); got != "hello target" {
		t.Fatalf("client_to_target tap saw %q", got)
	}
	if got := seen[TargetToClient].String(); got != "hello client" {
		t.Fatalf("target_to_client tap saw %q", got)
	}
}

func TestFailingTapDoesNotFailTunnel(t *testing.T) {
	t.Parallel()

	broken := func(context.Context, Direction, io.Reader) error {
		return errors.New("tap broke")
	}
	h := startTunnel(t, context.Background(), Config{HalfClose: true, Taps: []Tap{broken}, Logger: zerolog.Nop()})

	go func() { _, _ = io.Copy(io.Discard, h.client) }()

	_, _ = h.client.Write([]byte("data"))
	_ = h.client.CloseWrite()
	got, _ := io.ReadAll(h.target)
	_ = h.target.CloseWrite()

	if err := h.wait(t); err != nil {
		t.Fatalf("tunnel: %v", err)
	}
	if string(got) != "data" {
		t.Fatalf("got %q", got)
	}
}

func TestHexDumpTap(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger := zerolog.New(&out).Level(zerolog.TraceLevel)

	err := HexDump(logger)(context.Background(), ClientToTarget, strings.NewReader("ping"))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if !strings.Contains(out.String(), `"data":"70696e67"`) {
		t.Fatalf("missing hex data in %s", out.String())
	}
	if !strings.Contains(out.String(), `"direction":"client_to_target"`) {
		t.Fatalf("missing direction in %s", out.String())
	}
}

func isConnReset(err error) bool {
	return strings.Contains(err.Error(), "connection reset")
}
