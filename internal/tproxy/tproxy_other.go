//go:build !linux && !freebsd && !openbsd

package tproxy

import (
	"net"
	"net/netip"
)

const IsSupported = false

func setTransparent(string, int) error {
	return ErrUnsupported
}

func OriginalDst(net.Conn) (netip.AddrPort, error) {
	return netip.AddrPort{}, ErrUnsupported
}
