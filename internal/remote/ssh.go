package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/shsh-webssh/internal/domain"
	cryptossh "golang.org/x/crypto/ssh"
)

// ErrHostKeyMismatch is returned when a pinned fingerprint does not match.
var ErrHostKeyMismatch = errors.New("ssh: host key fingerprint mismatch")

// SSHConnector dials SSH hosts. Credentials are consumed during Dial and are
// not kept after the handshake.
type SSHConnector struct {
	DialTimeout time.Duration
}

// Dial opens an authenticated SSH client connection.
func (c *SSHConnector) Dial(ctx context.Context, host domain.HostConfig) (Link, error) {
	authMethod, err := authMethodFromConfig(host)
	if err != nil {
		return nil, fmt.Errorf("ssh: auth config: %w", err)
	}

	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	clientCfg := &cryptossh.ClientConfig{
		User:            host.User,
		Auth:            []cryptossh.AuthMethod{authMethod},
		HostKeyCallback: hostKeyCallback(host.Fingerprint),
		Timeout:         timeout,
	}

	port := host.Port
	if port == 0 {
		port = domain.DefaultSSHPort
	}
	addr := net.JoinHostPort(host.Host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh: dial %s: %w", addr, err)
	}

	// The handshake does not take a context; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	sshConn, chans, reqs, err := cryptossh.NewClientConn(conn, addr, clientCfg)
	if !stop() {
		if err == nil {
			_ = sshConn.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh: handshake %s: %w", addr, err)
	}
	return &sshLink{client: cryptossh.NewClient(sshConn, chans, reqs), shell: host.Shell}, nil
}

// hostKeyCallback pins the server key when a SHA256 fingerprint is configured.
func hostKeyCallback(fingerprint string) cryptossh.HostKeyCallback {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return cryptossh.InsecureIgnoreHostKey() //nolint:gosec // unpinned hosts are trusted on first use
	}
	if !strings.HasPrefix(fingerprint, "SHA256:") {
		fingerprint = "SHA256:" + fingerprint
	}
	return func(_ string, _ net.Addr, key cryptossh.PublicKey) error {
		if got := cryptossh.FingerprintSHA256(key); got != fingerprint {
			return fmt.Errorf("%w: got %s", ErrHostKeyMismatch, got)
		}
		return nil
	}
}

// authMethodFromConfig builds the SSH auth method from the host config.
func authMethodFromConfig(host domain.HostConfig) (cryptossh.AuthMethod, error) {
	switch host.AuthType {
	case domain.AuthPrivateKey:
		var (
			signer cryptossh.Signer
			err    error
		)
		if host.Passphrase != "" {
			signer, err = cryptossh.ParsePrivateKeyWithPassphrase([]byte(host.Secret), []byte(host.Passphrase))
		} else {
			signer, err = cryptossh.ParsePrivateKey([]byte(host.Secret))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return cryptossh.PublicKeys(signer), nil
	case domain.AuthPassword, "":
		return cryptossh.Password(host.Secret), nil
	default:
		return nil, fmt.Errorf("unsupported auth_type: %q", host.AuthType)
	}
}

type sshLink struct {
	client *cryptossh.Client
	shell  string
}

func (l *sshLink) OpenShell(_ context.Context, cols, rows int) (Shell, error) {
	sess, err := l.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh: new session: %w", err)
	}

	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("ssh: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("ssh: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("ssh: stdout pipe: %w", err)
	}

	// sess.Shell asks the server for the login shell; Start with a path runs
	// the configured one instead.
	if l.shell != "" {
		if err := sess.Start(l.shell); err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("ssh: start shell %q: %w", l.shell, err)
		}
	} else if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("ssh: start login shell: %w", err)
	}

	return &sshShell{session: sess, stdin: stdin, stdout: stdout}, nil
}

func (l *sshLink) Close() error {
	return l.client.Close()
}

type sshShell struct {
	session *cryptossh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex
}

func (s *sshShell) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sshShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *sshShell) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.WindowChange(rows, cols)
}

func (s *sshShell) Wait() error {
	return s.session.Wait()
}

func (s *sshShell) Close() error {
	_ = s.stdin.Close()
	err := s.session.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

var (
	_ Connector = (*SSHConnector)(nil)
	_ Shell     = (*sshShell)(nil)
)
