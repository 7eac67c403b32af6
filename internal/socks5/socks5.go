package socks5

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"syscall"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	ErrNoAcceptableMethod  = errors.New("socks5: no acceptable auth method")
	ErrAuthFailed          = errors.New("socks5: authentication failed")
	ErrCommandNotSupported = errors.New("socks5: command not supported")
)

// RejectedError carries the reply code of a refused CONNECT.
type RejectedError struct {
	Code byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("socks5: connect rejected with reply code %d", e.Code)
}

// Auth is an optional username and password. The zero value means no
// authentication.
type Auth struct {
	Username string
	Password string
}

func (a Auth) method() byte {
	if a.Username == "" {
		return txsocks5.MethodNone
	}
	return txsocks5.MethodUsernamePassword
}

// Accept runs the server side of the handshake up to the CONNECT request and
// returns the requested host:port. Unsupported commands are answered before
// returning ErrCommandNotSupported. The caller must finish with Succeed or
// Fail.
func Accept(c net.Conn, auth Auth) (string, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(c)
	if err != nil {
		return "", fmt.Errorf("socks5 negotiation: %w", err)
	}

	want := auth.method()
	if !slices.Contains(neg.Methods, want) {
		_, _ = txsocks5.NewNegotiationReply(txsocks5.MethodUnsupportAll).WriteTo(c)
		return "", ErrNoAcceptableMethod
	}
	if _, err := txsocks5.NewNegotiationReply(want).WriteTo(c); err != nil {
		return "", fmt.Errorf("socks5 negotiation: %w", err)
	}

	if want == txsocks5.MethodUsernamePassword {
		up, err := txsocks5.NewUserPassNegotiationRequestFrom(c)
		if err != nil {
			return "", fmt.Errorf("socks5 auth: %w", err)
		}
		if string(up.Uname) != auth.Username || string(up.Passwd) != auth.Password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(c)
			return "", ErrAuthFailed
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(c); err != nil {
			return "", fmt.Errorf("socks5 auth: %w", err)
		}
	}

	req, err := txsocks5.NewRequestFrom(c)
	if err != nil {
		return "", fmt.Errorf("socks5 request: %w", err)
	}
	if req.Cmd != txsocks5.CmdConnect {
		_, _ = zeroReply(txsocks5.RepCommandNotSupported).WriteTo(c)
		return "", ErrCommandNotSupported
	}
	return req.Address(), nil
}

// Succeed reports a connected target, advertising bound as the local end.
func Succeed(c net.Conn, bound net.Addr) error {
	atyp, host, port, err := txsocks5.ParseAddress(bound.String())
	if err != nil {
		return fmt.Errorf("socks5 reply: %w", err)
	}
	if atyp == txsocks5.ATYPDomain {
		host = host[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, atyp, host, port).WriteTo(c); err != nil {
		return fmt.Errorf("socks5 reply: %w", err)
	}
	return nil
}

// Fail answers a CONNECT whose dial failed with the closest reply code.
func Fail(c net.Conn, dialErr error) {
	_, _ = zeroReply(replyCode(dialErr)).WriteTo(c)
}

func replyCode(err error) byte {
	var ne net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return txsocks5.RepConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return txsocks5.RepNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH), errors.As(err, &ne) && ne.Timeout():
		return txsocks5.RepHostUnreachable
	default:
		return txsocks5.RepServerFailure
	}
}

func zeroReply(rep byte) *txsocks5.Reply {
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0})
}

// Connect runs the client side of the handshake over c, asking the server to
// connect to address.
func Connect(c net.Conn, auth Auth, address string) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}
	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(c); err != nil {
		return fmt.Errorf("socks5 negotiation: %w", err)
	}
	neg, err := txsocks5.NewNegotiationReplyFrom(c)
	if err != nil {
		return fmt.Errorf("socks5 negotiation: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return ErrNoAcceptableMethod
		}
		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(c); err != nil {
			return fmt.Errorf("socks5 auth: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(c)
		if err != nil {
			return fmt.Errorf("socks5 auth: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return ErrAuthFailed
		}
	default:
		return ErrNoAcceptableMethod
	}

	atyp, host, port, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("socks5 address %q: %w", address, err)
	}
	if atyp == txsocks5.ATYPDomain {
		host = host[1:]
	}
	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, host, port).WriteTo(c); err != nil {
		return fmt.Errorf("socks5 request: %w", err)
	}
	rep, err := txsocks5.NewReplyFrom(c)
	if err != nil {
		return fmt.Errorf("socks5 reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return &RejectedError{Code: rep.Rep}
	}
	return nil
}
