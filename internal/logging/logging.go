// Package logging builds the process logger from the log options.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/die-net/teeproxy/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger writing to stderr, or to a rotated file when
// opts.File is set. The closer releases the file.
func New(opts config.LogOptions) (zerolog.Logger, io.Closer, error) {
	level, err := parseLevel(opts)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 50,
			MaxAge:     30,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	logger, err := newLogger(w, opts.Format, level)
	if err != nil {
		_ = closer.Close()
		return zerolog.Nop(), nil, err
	}
	return logger, closer, nil
}

func newLogger(w io.Writer, format string, level zerolog.Level) (zerolog.Logger, error) {
	switch strings.ToLower(format) {
	case "", "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stderr}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// parseLevel honors --verbose as a floor of debug and --trace as a floor of
// trace, since the hex dump is logged at trace.
func parseLevel(opts config.LogOptions) (zerolog.Level, error) {
	s := opts.Level
	if s == "" {
		s = "info"
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level: %w", err)
	}
	if opts.Verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	if opts.Trace && level > zerolog.TraceLevel {
		level = zerolog.TraceLevel
	}
	return level, nil
}
