package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

func mustGenerateKey(t *testing.T) ssh.Signer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

var testAddr = &net.TCPAddr{IP: net.ParseIP("192.0.2.1"), Port: 22}

func TestHostKeyCallbackEmptyPathAcceptsAnything(t *testing.T) {
	t.Parallel()

	cb, err := HostKeyCallback("", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := cb("example.com:22", testAddr, mustGenerateKey(t).PublicKey()); err != nil {
		t.Fatalf("expected any key to be accepted: %v", err)
	}
}

func TestHostKeyCallbackCreatesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "known_hosts")
	if _, err := HostKeyCallback(path, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode: got %o want 600", info.Mode().Perm())
	}
}

func TestHostKeyCallbackTrustOnFirstUse(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "known_hosts")
	key := mustGenerateKey(t)
	other := mustGenerateKey(t)

	cb, err := HostKeyCallback(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := cb("192.0.2.1:22", testAddr, key.PublicKey()); err != nil {
		t.Fatalf("first use: %v", err)
	}
	// Same process, same host, new key.
	if err := cb("192.0.2.1:22", testAddr, other.PublicKey()); !errors.Is(err, ErrHostKeyMismatch) {
		t.Fatalf("expected ErrHostKeyMismatch, got %v", err)
	}

	data, err := os.ReadFile(path) //nolint:gosec // Test path.
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "192.0.2.1") {
		t.Fatalf("host not recorded: %s", data)
	}

	reloaded, err := HostKeyCallback(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := reloaded("192.0.2.1:22", testAddr, key.PublicKey()); err != nil {
		t.Fatalf("recorded key rejected: %v", err)
	}
	if err := reloaded("192.0.2.1:22", testAddr, other.PublicKey()); !errors.Is(err, ErrHostKeyMismatch) {
		t.Fatalf("expected ErrHostKeyMismatch after reload, got %v", err)
	}
}

func TestHostKeyCallbackExistingEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "known_hosts")
	k1 := mustGenerateKey(t)
	k2 := mustGenerateKey(t)

	var b strings.Builder
	for host, k := range map[string]ssh.Signer{"192.0.2.1": k1, "192.0.2.2": k2} {
		b.WriteString(host + " " + k.PublicKey().Type() + " " + base64.StdEncoding.EncodeToString(k.PublicKey().Marshal()) + "\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	cb, err := HostKeyCallback(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := cb("192.0.2.1:22", testAddr, k1.PublicKey()); err != nil {
		t.Fatalf("host1: %v", err)
	}
	addr2 := &net.TCPAddr{IP: net.ParseIP("192.0.2.2"), Port: 22}
	if err := cb("192.0.2.2:22", addr2, k2.PublicKey()); err != nil {
		t.Fatalf("host2: %v", err)
	}
}
