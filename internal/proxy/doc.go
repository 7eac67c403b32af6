// Package proxy accepts client connections, negotiates a target with them
// (HTTP CONNECT or SOCKS5) and hands the pair to the tunnel package.
package proxy
