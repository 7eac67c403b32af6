// Package dialer opens the outbound half of a tunnel, either directly or
// through an upstream HTTP CONNECT, SOCKS5 or SSH proxy.
package dialer
