//go:build linux

package tproxy

import (
	"encoding/binary"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

const IsSupported = true

// soOriginalDst is SO_ORIGINAL_DST for SOL_IP and IP6T_SO_ORIGINAL_DST for
// SOL_IPV6. Linux uses 80 for both.
const soOriginalDst = 80

func setTransparent(network string, fd int) error {
	if network == "tcp6" {
		return unix.SetsockoptInt(fd, unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1)
	}
	return unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_TRANSPARENT, 1)
}

// OriginalDst returns where the client was headed before being redirected.
// NAT redirects are answered from conntrack; TPROXY keeps the original
// destination as the local address.
func OriginalDst(c net.Conn) (netip.AddrPort, error) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return netip.AddrPort{}, errNotTCP
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, err
	}

	var (
		dst   netip.AddrPort
		found bool
	)
	cerr := rc.Control(func(fd uintptr) {
		dst, found = conntrackDst(int(fd))
	})
	if cerr == nil && found {
		return dst, nil
	}
	return localDst(c)
}

// conntrackDst queries SO_ORIGINAL_DST. The kernel fills a sockaddr, which
// the mreq and mtuinfo getters are large enough to carry.
func conntrackDst(fd int) (netip.AddrPort, bool) {
	if mreq, err := unix.GetsockoptIPv6Mreq(fd, unix.SOL_IP, soOriginalDst); err == nil {
		raw := mreq.Multiaddr
		if binary.NativeEndian.Uint16(raw[0:2]) == unix.AF_INET {
			ip := netip.AddrFrom4([4]byte(raw[4:8]))
			return netip.AddrPortFrom(ip, binary.BigEndian.Uint16(raw[2:4])), true
		}
	}

	if info, err := unix.GetsockoptIPv6MTUInfo(fd, unix.SOL_IPV6, soOriginalDst); err == nil {
		sa := info.Addr
		if sa.Family == unix.AF_INET6 {
			var port [2]byte
			binary.NativeEndian.PutUint16(port[:], sa.Port)
			return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), binary.BigEndian.Uint16(port[:])), true
		}
	}
	return netip.AddrPort{}, false
}
