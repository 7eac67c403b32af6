package dialer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/die-net/teeproxy/internal/testutil"
)

// connectServer answers one CONNECT with status and relays afterwards when
// the status is 200. early is written right after the response headers.
func connectServer(t *testing.T, ctx context.Context, status string, early string, gotAuth chan<- string) net.Listener {
	t.Helper()

	ln, wait := testutil.SingleAccept(t, ctx, func(c net.Conn) {
		br := bufio.NewReader(c)
		req, err := http.ReadRequest(br)
		if err != nil || req.Method != http.MethodConnect {
			return
		}
		if gotAuth != nil {
			gotAuth <- req.Header.Get("Proxy-Authorization")
		}

		_, _ = io.WriteString(c, "HTTP/1.1 "+status+"\r\nVia: test\r\n\r\n"+early)
		if status[:3] != "200" {
			return
		}

		dst, err := net.Dial("tcp", req.Host)
		if err != nil {
			return
		}
		defer dst.Close()
		go func() {
			_, _ = io.Copy(dst, br)
			_ = dst.Close()
		}()
		_, _ = io.Copy(c, dst)
	})
	t.Cleanup(wait)
	return ln
}

func TestHTTPProxyDialerSuccess(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echo := testutil.EchoServer(t, ctx)
	auth := make(chan string, 1)
	up := connectServer(t, ctx, "200 Connection established", "", auth)

	d := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second}, &url.URL{Scheme: "http", Host: up.Addr().String()}, "user", "pass")
	c, err := d.DialContext(ctx, "tcp", echo.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if got := <-auth; got != "Basic dXNlcjpwYXNz" {
		t.Fatalf("auth header: %q", got)
	}
	testutil.AssertEcho(t, c, []byte("hello"))
}

func TestHTTPProxyDialerKeepsEarlyBytes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echo := testutil.EchoServer(t, ctx)
	up := connectServer(t, ctx, "200 OK", "banner", nil)

	d := NewHTTPProxyDialer(Config{}, &url.URL{Scheme: "http", Host: up.Addr().String()}, "", "")
	c, err := d.DialContext(ctx, "tcp", echo.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	got := make([]byte, len("banner"))
	if _, err := io.ReadFull(c, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "banner" {
		t.Fatalf("got %q", got)
	}
}

func TestHTTPProxyDialerRefused(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	up := connectServer(t, ctx, "403 Forbidden", "", nil)

	d := NewHTTPProxyDialer(Config{}, &url.URL{Scheme: "http", Host: up.Addr().String()}, "", "")
	_, err := d.DialContext(ctx, "tcp", "127.0.0.1:1")
	if !errors.Is(err, ErrUpstreamRefused) {
		t.Fatalf("expected ErrUpstreamRefused, got %v", err)
	}
}

func TestParseStatusLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line    string
		want    int
		wantErr bool
	}{
		{line: "HTTP/1.1 200 Connection Established", want: 200},
		{line: "HTTP/1.0 407 Proxy Authentication Required", want: 407},
		{line: "HTTP/1.1 204", want: 204},
		{line: "HTTP/2 200 OK", wantErr: true},
		{line: "HTTP/1.1 20 OK", wantErr: true},
		{line: "garbage", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseStatusLine(tt.line)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err=%v wantErr=%v", tt.line, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("%q: got %d want %d", tt.line, got, tt.want)
		}
	}
}
