// Package socks5 implements both ends of the SOCKS5 CONNECT handshake on top
// of the wire types in github.com/txthinking/socks5. It stops once the
// handshake is done; relaying is the caller's job.
package socks5
