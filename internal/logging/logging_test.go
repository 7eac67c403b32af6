package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/teeproxy/internal/config"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    config.LogOptions
		want    zerolog.Level
		wantErr bool
	}{
		{name: "default", want: zerolog.InfoLevel},
		{name: "explicit", opts: config.LogOptions{Level: "WARN"}, want: zerolog.WarnLevel},
		{name: "verbose", opts: config.LogOptions{Level: "info", Verbose: true}, want: zerolog.DebugLevel},
		{name: "verbose keeps lower", opts: config.LogOptions{Level: "trace", Verbose: true}, want: zerolog.TraceLevel},
		{name: "trace", opts: config.LogOptions{Level: "error", Trace: true}, want: zerolog.TraceLevel},
		{name: "bogus", opts: config.LogOptions{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseLevel(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLoggerFormats(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := newLogger(&buf, "json", zerolog.InfoLevel)
	require.NoError(t, err)
	logger.Debug().Msg("hidden")
	logger.Info().Str("k", "v").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)

	buf.Reset()
	logger, err = newLogger(&buf, "console", zerolog.InfoLevel)
	require.NoError(t, err)
	logger.Info().Str("k", "v").Msg("shown")
	assert.Contains(t, buf.String(), "k=v")

	_, err = newLogger(&buf, "xml", zerolog.InfoLevel)
	require.Error(t, err)
}

func TestNewWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "teeproxy.log")
	logger, closer, err := New(config.LogOptions{File: path, Format: "json"})
	require.NoError(t, err)

	logger.Info().Msg("to file")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "to file")
}
