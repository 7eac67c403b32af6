//go:build freebsd || openbsd

package tproxy

import (
	"net"
	"net/netip"
)

const IsSupported = true

// OriginalDst returns where the client was headed. IPFW fwd and PF rdr-to
// both preserve it as the local address of the accepted connection.
func OriginalDst(c net.Conn) (netip.AddrPort, error) {
	if _, ok := c.(*net.TCPConn); !ok {
		return netip.AddrPort{}, errNotTCP
	}
	return localDst(c)
}
