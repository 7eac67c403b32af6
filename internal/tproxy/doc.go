// Package tproxy accepts connections that a firewall redirected to this
// host and relays each one, through the tunnel package, to the address the
// client originally dialed.
//
// Linux listeners set IP_TRANSPARENT and read the original destination with
// SO_ORIGINAL_DST, falling back to the local address for TPROXY rules.
// FreeBSD (IP_BINDANY) and OpenBSD (SO_BINDANY) report it as the local
// address. Other platforms are unsupported.
package tproxy
