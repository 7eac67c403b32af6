package conn

import "net"

// PrefixConn is a net.Conn whose first reads return bytes that were already
// consumed from the underlying connection, typically the part of a client's
// first flight that arrived together with its handshake.
type PrefixConn struct {
	net.Conn
	prefix []byte
}

// NewPrefixConn returns c unchanged if prefix is empty. The prefix is copied.
func NewPrefixConn(c net.Conn, prefix []byte) net.Conn {
	if len(prefix) == 0 {
		return c
	}
	return &PrefixConn{Conn: c, prefix: append([]byte(nil), prefix...)}
}

func (c *PrefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// CloseWrite half-closes the underlying connection when it supports that.
func (c *PrefixConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
