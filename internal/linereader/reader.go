// Package linereader reads CRLF-delimited text lines from a byte stream that
// delivers data in arbitrary-sized chunks.
//
// Bytes pulled from the source but not yet returned as a line stay available
// through Buffered, so a protocol handshake can hand its leftovers to whatever
// takes over the stream afterwards.
package linereader

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"unicode/utf8"
)

// ChunkSize is the most a Reader pulls from its source per read.
const ChunkSize = 4096

var (
	// ErrLineTooLong is returned when a line exceeds the configured limit.
	ErrLineTooLong = errors.New("line too long")

	// ErrInvalidText is returned when the bytes before a delimiter are not
	// valid UTF-8.
	ErrInvalidText = errors.New("line is not valid utf-8")
)

var crlf = []byte("\r\n")

// Reader yields one CRLF-terminated line per call.
type Reader struct {
	src     io.Reader
	max     int
	pending []byte
	err     error
}

// New returns a Reader pulling from src. If maxLineLength is positive, lines
// longer than that (delimiter excluded) fail with ErrLineTooLong.
func New(src io.Reader, maxLineLength int) *Reader {
	return &Reader{src: src, max: maxLineLength}
}

// ReadLine returns the next line with its delimiter stripped.
//
// Errors from the source are returned unchanged once no complete line is
// left in the pending buffer. A source that reports io.EOF before a
// delimiter arrives yields io.ErrUnexpectedEOF, since a line-oriented
// handshake never ends cleanly mid-line.
func (r *Reader) ReadLine() (string, error) {
	scanned := 0
	for {
		if i := bytes.Index(r.pending[scanned:], crlf); i >= 0 {
			return r.take(scanned + i)
		}
		// The last byte may be the first half of a delimiter.
		scanned = max(len(r.pending)-1, 0)

		if r.max > 0 && len(r.pending) > r.max+1 {
			return "", ErrLineTooLong
		}

		if r.err != nil {
			return "", r.err
		}
		if err := r.fill(); err != nil {
			r.err = err
		}
	}
}

// Buffered returns the bytes read from the source that have not been
// returned as part of a line. The slice is only valid until the next call
// to ReadLine.
func (r *Reader) Buffered() []byte {
	return r.pending
}

func (r *Reader) take(n int) (string, error) {
	if r.max > 0 && n > r.max {
		return "", ErrLineTooLong
	}
	line := r.pending[:n]
	if !utf8.Valid(line) {
		return "", ErrInvalidText
	}
	s := string(line)
	r.pending = append(r.pending[:0], r.pending[n+len(crlf):]...)
	return s, nil
}

// fill appends at most ChunkSize bytes from the source to pending.
func (r *Reader) fill() error {
	begin := len(r.pending)
	r.pending = slices.Grow(r.pending, ChunkSize)
	n, err := r.src.Read(r.pending[begin : begin+ChunkSize])
	r.pending = r.pending[:begin+n]

	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
