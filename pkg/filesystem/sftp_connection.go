package filesystem

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

// SFTPConnection holds an active SSH connection and its primary SFTP session.
type SFTPConnection struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
	wire       *deadlineConn
	host       string
	port       int
	user       string
}

// Connect establishes an SSH connection and opens an SFTP session.
// Password and private-key credentials are tried first; when neither is
// supplied the SSH agent and default keys under ~/.ssh are used.
// timeout bounds the dial and handshake; ioTimeout bounds each read while an
// operation is in flight.
func Connect(ctx context.Context, host string, port int, auth Auth, timeout, ioTimeout time.Duration) (*SFTPConnection, error) {
	if auth.Username == "" {
		return nil, pkgerrors.Newf(pkgerrors.KindNoCredentials, "connect", host, "SFTP requires a username")
	}

	authMethods, err := sshAuthMethods(auth)
	if err != nil {
		return nil, err
	}

	if len(authMethods) == 0 {
		return nil, pkgerrors.Newf(pkgerrors.KindNoCredentials, "connect", host,
			"no SSH authentication methods available (tried password, key, SSH agent and default keys)")
	}

	config := &ssh.ClientConfig{
		User:            auth.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // Host key pinning is not configured for media shares
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}

	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SSH connection failed: %w", err)
	}

	// The handshake has no context; bound it with a deadline instead.
	_ = tcpConn.SetDeadline(time.Now().Add(timeout))

	wire := newGuardedConn(tcpConn, ioTimeout)

	sshConn, chans, reqs, err := ssh.NewClientConn(wire, addr, config)
	if err != nil {
		_ = tcpConn.Close()
		return nil, fmt.Errorf("SSH connection failed: %w", err)
	}

	_ = tcpConn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(sshConn, chans, reqs)

	end := wire.begin()
	sftpClient, err := sftp.NewClient(sshClient)
	end()

	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("SFTP session creation failed: %w", err)
	}

	return &SFTPConnection{
		sshClient:  sshClient,
		sftpClient: sftpClient,
		wire:       wire,
		host:       host,
		port:       port,
		user:       auth.Username,
	}, nil
}

// Close closes the SFTP session and SSH connection.
func (c *SFTPConnection) Close() error {
	var firstErr error

	if c.sftpClient != nil {
		if err := c.sftpClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.sshClient != nil {
		if err := c.sshClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Client returns the primary SFTP session.
func (c *SFTPConnection) Client() *sftp.Client {
	return c.sftpClient
}

// Expired reports whether an I/O deadline fired on the connection.
func (c *SFTPConnection) Expired() bool {
	return c.wire.Expired()
}

// SSHClient returns the underlying SSH connection.
func (c *SFTPConnection) SSHClient() *ssh.Client {
	return c.sshClient
}

// sshAuthMethods returns SSH authentication methods in priority order:
// 1. Explicit private key (with passphrase when given)
// 2. Explicit password (plus keyboard-interactive with the same answer)
// 3. SSH agent and default keys, only when nothing explicit was supplied
func sshAuthMethods(auth Auth) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if len(auth.PrivateKey) > 0 {
		signer, err := parsePrivateKey(auth.PrivateKey, auth.Passphrase)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.KindAuthenticationFailed, "parse key", "", err)
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if auth.Password != "" {
		password := auth.Password
		authMethods = append(authMethods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}

				return answers, nil
			}),
		)
	}

	if len(authMethods) > 0 {
		return authMethods, nil
	}

	if agentAuth := trySSHAgent(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	authMethods = append(authMethods, tryDefaultSSHKeys()...)

	return authMethods, nil
}

func parsePrivateKey(key []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to parse encrypted private key: %w", err)
		}

		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return signer, nil
}

// trySSHAgent attempts to connect to the SSH agent.
func trySSHAgent() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}

	agentClient := agent.NewClient(conn)

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// tryDefaultSSHKeys loads unencrypted keys from default locations.
func tryDefaultSSHKeys() []ssh.AuthMethod {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	sshDir := filepath.Join(homeDir, ".ssh")

	keyFiles := []string{
		filepath.Join(sshDir, "id_ed25519"),
		filepath.Join(sshDir, "id_rsa"),
		filepath.Join(sshDir, "id_ecdsa"),
	}

	var authMethods []ssh.AuthMethod

	for _, keyPath := range keyFiles {
		keyData, err := os.ReadFile(keyPath) // #nosec G304 - fixed key locations
		if err != nil {
			continue
		}

		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			// Encrypted default keys need a passphrase we do not have
			continue
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	return authMethods
}
