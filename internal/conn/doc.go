// Package conn holds connection plumbing shared by the listeners: TCP
// listeners that apply keepalive settings and optionally parse a PROXY
// protocol header, and a net.Conn wrapper that replays bytes a handshake
// read ahead.
package conn
