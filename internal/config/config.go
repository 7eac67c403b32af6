// Package config holds the proxy's options, their defaults, and the
// optional ini file that can supply them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/ini.v1"

	"github.com/die-net/teeproxy/internal/ssh"
)

type Options struct {
	Listen   ListenOptions   `ini:"listen"`
	Upstream UpstreamOptions `ini:"upstream"`
	Proxy    ProxyOptions    `ini:"proxy"`
	Log      LogOptions      `ini:"log"`
}

type ListenOptions struct {
	Connect       string `ini:"connect"`
	SOCKS5        string `ini:"socks5"`
	TProxy        string `ini:"tproxy"`
	Debug         string `ini:"debug"`
	ProxyProtocol bool   `ini:"proxy_protocol"`
	TCPKeepAlive  string `ini:"tcp_keepalive"`
}

type UpstreamOptions struct {
	URL                string        `ini:"url"`
	DialTimeout        time.Duration `ini:"dial_timeout"`
	NegotiationTimeout time.Duration `ini:"negotiation_timeout"`
	DNSCacheTTL        time.Duration `ini:"dns_cache_ttl"`
	SSHKey             string        `ini:"ssh_key"`
	SSHKnownHosts      string        `ini:"ssh_known_hosts"`
}

type ProxyOptions struct {
	NegotiationTimeout time.Duration `ini:"negotiation_timeout"`
	MaxLineLength      int           `ini:"max_line_length"`
	MaxHeaderBytes     int           `ini:"max_header_bytes"`
	MaxBuffered        int           `ini:"max_buffered"`
	HalfClose          bool          `ini:"half_close"`
	CanonicalStatus    bool          `ini:"canonical_status"`
}

type LogOptions struct {
	Level   string `ini:"level"`
	Format  string `ini:"format"`
	File    string `ini:"file"`
	Trace   bool   `ini:"trace"`
	Verbose bool   `ini:"verbose"`
}

// Default returns the options used when neither a flag nor the config file
// sets a value.
func Default() Options {
	return Options{
		Listen: ListenOptions{
			Connect:      "127.0.0.1:8080",
			TCPKeepAlive: "45:45:3",
		},
		Upstream: UpstreamOptions{
			URL:                defaultUpstream(),
			DialTimeout:        10 * time.Second,
			NegotiationTimeout: 10 * time.Second,
			SSHKey:             defaultSSHKey(),
			SSHKnownHosts:      defaultSSHKnownHosts(),
		},
		Proxy: ProxyOptions{
			NegotiationTimeout: 10 * time.Second,
			MaxLineLength:      8192,
			MaxHeaderBytes:     64 << 10,
			MaxBuffered:        4 << 20,
		},
		Log: LogOptions{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadIni overlays the ini file at path onto o. Keys missing from the file
// leave o untouched.
func LoadIni(o *Options, path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if err := f.MapTo(o); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// Overlay loads path into o while keeping whatever was set explicitly on fs,
// so the precedence is defaults, then the file, then flags.
func Overlay(fs *pflag.FlagSet, o *Options, path string) error {
	set := map[string]string{}
	fs.Visit(func(f *pflag.Flag) {
		set[f.Name] = f.Value.String()
	})

	if err := LoadIni(o, path); err != nil {
		return err
	}

	for name, v := range set {
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks values that flag parsing cannot.
func (o *Options) Validate() error {
	var errs []error
	if o.Listen.Connect == "" && o.Listen.SOCKS5 == "" && o.Listen.TProxy == "" {
		errs = append(errs, errors.New("no listeners enabled (set at least one of --listen, --socks5-listen, --tproxy-listen)"))
	}
	if _, err := ParseTCPKeepAlive(o.Listen.TCPKeepAlive); err != nil {
		errs = append(errs, fmt.Errorf("invalid --tcp-keepalive: %w", err))
	}
	for name, v := range map[string]int{
		"max-line-length":  o.Proxy.MaxLineLength,
		"max-header-bytes": o.Proxy.MaxHeaderBytes,
		"max-buffered":     o.Proxy.MaxBuffered,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("--%s must not be negative", name))
		}
	}
	for name, v := range map[string]time.Duration{
		"client-negotiation-timeout": o.Proxy.NegotiationTimeout,
		"negotiation-timeout":        o.Upstream.NegotiationTimeout,
		"dial-timeout":               o.Upstream.DialTimeout,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("--%s must not be negative", name))
		}
	}
	if o.Upstream.DNSCacheTTL < 0 {
		errs = append(errs, errors.New("--dns-cache-ttl must not be negative"))
	}
	switch strings.ToLower(o.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown --log-format %q", o.Log.Format))
	}
	return errors.Join(errs...)
}

func defaultUpstream() string {
	for _, k := range []string{"ALL_PROXY", "all_proxy"} {
		if p := os.Getenv(k); p != "" {
			return p
		}
	}
	return "direct://"
}

func defaultSSHKnownHosts() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

func defaultSSHKey() string {
	if ssh.AgentAvailable() {
		return ssh.AgentKeyPath
	}
	return ""
}
