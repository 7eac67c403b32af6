package dialer

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/die-net/teeproxy/internal/conn"
	"github.com/die-net/teeproxy/internal/linereader"
)

// ErrUpstreamRefused means an upstream proxy answered CONNECT with a
// non-2xx status.
var ErrUpstreamRefused = errors.New("upstream refused connect")

const maxUpstreamLine = 8192

// HTTPProxyDialer tunnels through an HTTP or HTTPS proxy with CONNECT.
type HTTPProxyDialer struct {
	cfg    Config
	proxy  *url.URL
	auth   string
	direct *DirectDialer
}

// NewHTTPProxyDialer sends Basic credentials when username is set.
func NewHTTPProxyDialer(cfg Config, proxy *url.URL, username, password string) *HTTPProxyDialer {
	d := &HTTPProxyDialer{cfg: cfg, proxy: proxy, direct: NewDirectDialer(cfg)}
	if username != "" {
		d.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}
	return d
}

func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := checkNetwork(network); err != nil {
		return nil, err
	}

	c, err := d.direct.DialContext(ctx, network, d.proxy.Host)
	if err != nil {
		return nil, fmt.Errorf("http proxy %s: %w", d.proxy.Host, err)
	}

	var leftover []byte
	err = negotiate(ctx, c, d.cfg.NegotiationTimeout, func() error {
		if d.proxy.Scheme == "https" {
			tc := tls.Client(c, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: d.proxy.Hostname()})
			if err := tc.HandshakeContext(ctx); err != nil {
				return fmt.Errorf("tls: %w", err)
			}
			c = tc
		}
		leftover, err = d.connect(c, address)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("http proxy %s connect %s: %w", d.proxy.Host, address, err)
	}
	return conn.NewPrefixConn(c, leftover), nil
}

// connect sends CONNECT and reads the reply headers. Bytes the proxy sent
// after the headers are returned so they are not lost.
func (d *HTTPProxyDialer) connect(c net.Conn, address string) ([]byte, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if d.auth != "" {
		req.Header.Set("Proxy-Authorization", d.auth)
	}
	if err := req.Write(c); err != nil {
		return nil, err
	}

	lr := linereader.New(c, maxUpstreamLine)
	status, err := lr.ReadLine()
	if err != nil {
		return nil, err
	}
	code, err := parseStatusLine(status)
	if err != nil {
		return nil, err
	}
	for {
		line, err := lr.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
	}
	if code/100 != 2 {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamRefused, status)
	}
	return lr.Buffered(), nil
}

func parseStatusLine(line string) (int, error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/1.") {
		return 0, fmt.Errorf("malformed status line %q", line)
	}
	codeStr, _, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil || len(codeStr) != 3 {
		return 0, fmt.Errorf("malformed status line %q", line)
	}
	return code, nil
}
