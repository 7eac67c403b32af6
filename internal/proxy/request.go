package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/die-net/teeproxy/internal/linereader"
)

var (
	ErrMalformedRequest = errors.New("malformed request line")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrInvalidPort      = errors.New("invalid port")
	ErrEmptyHost        = errors.New("empty host")
	ErrHeaderTooLarge   = errors.New("request headers too large")
)

const defaultPort = "443"

// StatusError is a handshake failure and the HTTP status reported for it.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %v", e.Code, http.StatusText(e.Code), e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func statusError(code int, err error) *StatusError {
	return &StatusError{Code: code, Err: err}
}

// readFailure maps a Line Reader error to the status the client gets.
func readFailure(err error) *StatusError {
	if errors.Is(err, linereader.ErrLineTooLong) {
		return statusError(http.StatusRequestHeaderFieldsTooLarge, err)
	}
	return statusError(http.StatusBadRequest, err)
}

// parseRequestLine validates "CONNECT target HTTP/1.1" and returns target.
// Any method other than CONNECT is refused before the rest of the line is
// looked at.
func parseRequestLine(line string) (string, error) {
	if !strings.HasPrefix(line, http.MethodConnect+" ") {
		method, _, _ := strings.Cut(strings.TrimSpace(line), " ")
		return "", statusError(http.StatusMethodNotAllowed, fmt.Errorf("%w: %q", ErrMethodNotAllowed, method))
	}
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[2] != "HTTP/1.1" {
		return "", statusError(http.StatusBadRequest, fmt.Errorf("%w: %q", ErrMalformedRequest, line))
	}
	return fields[1], nil
}

// splitTarget splits host[:port] on the first colon, defaulting the port to
// 443. A bracketed IPv6 literal is accepted with or without a port.
func splitTarget(target string) (string, error) {
	var host, port string
	if strings.HasPrefix(target, "[") {
		h, p, err := net.SplitHostPort(target)
		if err != nil {
			if !strings.HasSuffix(target, "]") {
				return "", statusError(http.StatusBadRequest, fmt.Errorf("%w: %q", ErrMalformedRequest, target))
			}
			h, p = target[1:len(target)-1], defaultPort
		}
		host, port = h, p
	} else {
		var ok bool
		host, port, ok = strings.Cut(target, ":")
		if !ok {
			port = defaultPort
		}
	}

	if host == "" {
		return "", statusError(http.StatusBadRequest, fmt.Errorf("%w in %q", ErrEmptyHost, target))
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", statusError(http.StatusBadRequest, fmt.Errorf("%w %q", ErrInvalidPort, port))
	}
	return net.JoinHostPort(host, port), nil
}
