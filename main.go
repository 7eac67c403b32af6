package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/teeproxy/internal/config"
	"github.com/die-net/teeproxy/internal/conn"
	"github.com/die-net/teeproxy/internal/dialer"
	"github.com/die-net/teeproxy/internal/logging"
	"github.com/die-net/teeproxy/internal/metrics"
	"github.com/die-net/teeproxy/internal/proxy"
	"github.com/die-net/teeproxy/internal/tproxy"
	"github.com/die-net/teeproxy/internal/tunnel"
)

const proxyHeaderTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	opts := config.Default()
	fs := pflag.CommandLine
	config.Bind(fs, &opts)
	configPath := fs.String("config", "", "Read options from this ini file. Flags given on the command line take precedence.")

	if !tproxy.IsSupported {
		_ = fs.MarkHidden("tproxy-listen")
	}

	fs.SortFlags = false
	pflag.Parse()

	if *configPath != "" {
		if err := config.Overlay(fs, &opts, *configPath); err != nil {
			return err
		}
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	ka, _ := config.ParseTCPKeepAlive(opts.Listen.TCPKeepAlive)

	logger, logCloser, err := logging.New(opts.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tcfg := tunnel.Config{
		MaxBuffered: opts.Proxy.MaxBuffered,
		HalfClose:   opts.Proxy.HalfClose,
		Logger:      logger,
		Metrics:     m,
	}
	if opts.Log.Trace {
		tcfg.Taps = append(tcfg.Taps, tunnel.HexDump(logger))
	}

	cfg := proxy.Config{
		NegotiationTimeout: opts.Proxy.NegotiationTimeout,
		MaxLineLength:      opts.Proxy.MaxLineLength,
		MaxHeaderBytes:     opts.Proxy.MaxHeaderBytes,
		CanonicalStatus:    opts.Proxy.CanonicalStatus,
		Tunnel:             tcfg,
		Logger:             logger,
		Metrics:            m,
	}

	dialCfg := dialer.Config{
		DialTimeout:        opts.Upstream.DialTimeout,
		NegotiationTimeout: opts.Upstream.NegotiationTimeout,
		KeepAlive:          ka,
		DNSCacheTTL:        opts.Upstream.DNSCacheTTL,
		SSHKeyPath:         opts.Upstream.SSHKey,
		SSHKnownHostsPath:  opts.Upstream.SSHKnownHosts,
		Logger:             logger,
	}

	cfg.Dialer, err = dialer.New(dialCfg, opts.Upstream.URL)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}
	if c, ok := cfg.Dialer.(io.Closer); ok {
		defer c.Close()
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lcfg := conn.ListenConfig{
		KeepAlive:          ka,
		ProxyProtocol:      opts.Listen.ProxyProtocol,
		ProxyHeaderTimeout: proxyHeaderTimeout,
	}

	if opts.Listen.Debug != "" {
		if err := serveDebug(ctx, g, opts.Listen.Debug, ka, reg, logger); err != nil {
			return err
		}
	}

	if opts.Listen.Connect != "" {
		ln, err := conn.ListenTCP(ctx, "tcp", opts.Listen.Connect, lcfg)
		if err != nil {
			return fmt.Errorf("connect listen: %w", err)
		}
		srv := proxy.NewConnectServer(ctx, cfg)
		serve(ctx, g, ln, srv.Serve)
	}

	if opts.Listen.SOCKS5 != "" {
		ln, err := conn.ListenTCP(ctx, "tcp", opts.Listen.SOCKS5, lcfg)
		if err != nil {
			return fmt.Errorf("socks5 listen: %w", err)
		}
		srv := proxy.NewSOCKS5Server(ctx, cfg)
		serve(ctx, g, ln, srv.Serve)
	}

	if opts.Listen.TProxy != "" {
		ln, err := tproxy.ListenTransparentTCP(ctx, opts.Listen.TProxy, conn.ListenConfig{KeepAlive: ka})
		if err != nil {
			return fmt.Errorf("tproxy listen: %w", err)
		}
		srv := tproxy.NewServer(ctx, cfg)
		serve(ctx, g, ln, srv.Serve)
	}

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	logger.Info().Msg("shutting down")
	return err
}

// serve runs fn on ln in g and closes ln once ctx ends.
func serve(ctx context.Context, g *errgroup.Group, ln net.Listener, fn func(net.Listener) error) {
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	g.Go(func() error {
		return fn(ln)
	})
}

func serveDebug(ctx context.Context, g *errgroup.Group, addr string, ka net.KeepAliveConfig, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/debug/", http.DefaultServeMux)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	debugSrv := &http.Server{Handler: mux} //nolint:gosec // Not concerned about timeouts on debug port.
	lc := net.ListenConfig{KeepAliveConfig: ka}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("debug listen: %w", err)
	}
	context.AfterFunc(ctx, func() {
		_ = debugSrv.Close()
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := debugSrv.Serve(ln); err != nil {
			return fmt.Errorf("debug serve: %w", err)
		}
		return nil
	})
	logger.Info().Str("addr", addr).Msg("debug listening")
	return nil
}
