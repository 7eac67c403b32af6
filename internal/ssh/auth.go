package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentKeyPath selects the running SSH agent instead of a key file.
const AgentKeyPath = "agent"

// ErrNoAuth is returned when neither a password nor a key was configured.
var ErrNoAuth = errors.New("ssh: no password or key configured")

// Credentials describe how to authenticate to an SSH server.
type Credentials struct {
	User     string
	Password string

	// KeyPath is an OpenSSH private key file, AgentKeyPath, or empty.
	KeyPath string
}

// AuthMethods builds the methods offered to the server. Keys are offered
// before the password.
func (c Credentials) AuthMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	switch c.KeyPath {
	case "":
	case AgentKeyPath:
		signers, err := agentSigners()
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeysCallback(signers))
	default:
		signer, err := readKey(c.KeyPath)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}
	if len(methods) == 0 {
		return nil, ErrNoAuth
	}
	return methods, nil
}

// agentSigners returns a callback backed by the agent at SSH_AUTH_SOCK. The
// agent connection stays open for the life of the process.
func agentSigners() (func() ([]ssh.Signer, error), error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("ssh agent: SSH_AUTH_SOCK not set")
	}

	c, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("ssh agent: %w", err)
	}
	return agent.NewClient(c).Signers, nil
}

func readKey(path string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("ssh key %s: %w", path, err)
	}
	return signer, nil
}

// AgentAvailable reports whether SSH_AUTH_SOCK points at a socket.
func AgentAvailable() bool {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return false
	}
	fi, err := os.Stat(socket)
	return err == nil && fi.Mode()&os.ModeSocket != 0
}
