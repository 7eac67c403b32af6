package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrHostKeyMismatch means a known host presented a different key.
var ErrHostKeyMismatch = errors.New("ssh: host key mismatch")

// HostKeyCallback verifies host keys against the known_hosts file at path,
// recording hosts it has never seen before. An empty path accepts any key.
func HostKeyCallback(path string, logger zerolog.Logger) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // Checking disabled by config.
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	_ = f.Close()

	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("known_hosts %s: %w", path, err)
	}

	var (
		mu    sync.Mutex
		added = map[string]ssh.PublicKey{}
	)
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if err == nil || !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("%w for %s: %w", ErrHostKeyMismatch, hostname, err)
		}

		host := knownhosts.Normalize(hostname)

		mu.Lock()
		defer mu.Unlock()

		// The file was loaded once; hosts learned since are tracked here.
		if prev, ok := added[host]; ok {
			if string(prev.Marshal()) != string(key.Marshal()) {
				return fmt.Errorf("%w for %s", ErrHostKeyMismatch, hostname)
			}
			return nil
		}

		out, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
		if err != nil {
			return fmt.Errorf("known_hosts: %w", err)
		}
		defer out.Close()
		if _, err := fmt.Fprintln(out, knownhosts.Line([]string{host}, key)); err != nil {
			return fmt.Errorf("known_hosts: %w", err)
		}
		added[host] = key

		logger.Info().Str("host", hostname).Str("file", path).Str("key_type", key.Type()).Msg("learned ssh host key")
		return nil
	}, nil
}
