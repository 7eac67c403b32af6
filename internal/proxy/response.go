package proxy

import (
	"fmt"
	"io"
	"net/http"
)

const establishedPhrase = "Connection Established"

var established = []byte("HTTP/1.1 200 " + establishedPhrase + "\r\n\r\n")

// writeStatus sends an error response with the standard reason text as its
// body.
func writeStatus(w io.Writer, code int, canonical bool) error {
	phrase := establishedPhrase
	if canonical {
		phrase = http.StatusText(code)
	}
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n\r\n%s", code, phrase, http.StatusText(code))
	return err
}
