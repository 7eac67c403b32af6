//go:build openbsd

package tproxy

import "golang.org/x/sys/unix"

// OpenBSD sets BINDANY at the socket level. PF still needs divert-reply
// rules for the return path.
func setTransparent(_ string, fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BINDANY, 1)
}
