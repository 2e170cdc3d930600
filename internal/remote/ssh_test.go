package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/ashureev/shsh-webssh/internal/domain"
)

func newSigner(t *testing.T) (cryptossh.Signer, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := cryptossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer, priv
}

func encodeKey(t *testing.T, priv ed25519.PrivateKey, passphrase string) string {
	t.Helper()
	var (
		block *pem.Block
		err   error
	)
	if passphrase == "" {
		block, err = cryptossh.MarshalPrivateKey(priv, "")
	} else {
		block, err = cryptossh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	if err != nil {
		t.Fatal(err)
	}
	return string(pem.EncodeToMemory(block))
}

func TestHostKeyCallback(t *testing.T) {
	signer, _ := newSigner(t)
	other, _ := newSigner(t)
	key := signer.PublicKey()
	fp := cryptossh.FingerprintSHA256(key)
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 22}

	tests := []struct {
		name        string
		fingerprint string
		key         cryptossh.PublicKey
		wantErr     bool
	}{
		{"unpinned accepts any key", "", other.PublicKey(), false},
		{"pinned match", fp, key, false},
		{"pinned match without prefix", strings.TrimPrefix(fp, "SHA256:"), key, false},
		{"pinned match with whitespace", "  " + fp + "\n", key, false},
		{"pinned mismatch", fp, other.PublicKey(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hostKeyCallback(tt.fingerprint)("example.com:22", addr, tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrHostKeyMismatch) {
					t.Fatalf("expected ErrHostKeyMismatch, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAuthMethodFromConfig(t *testing.T) {
	_, priv := newSigner(t)
	plainKey := encodeKey(t, priv, "")
	lockedKey := encodeKey(t, priv, "open-sesame")

	tests := []struct {
		name    string
		host    domain.HostConfig
		wantErr bool
	}{
		{"password", domain.HostConfig{AuthType: domain.AuthPassword, Secret: "hunter2"}, false},
		{"default is password", domain.HostConfig{Secret: "hunter2"}, false},
		{"private key", domain.HostConfig{AuthType: domain.AuthPrivateKey, Secret: plainKey}, false},
		{"encrypted key with passphrase", domain.HostConfig{AuthType: domain.AuthPrivateKey, Secret: lockedKey, Passphrase: "open-sesame"}, false},
		{"encrypted key with wrong passphrase", domain.HostConfig{AuthType: domain.AuthPrivateKey, Secret: lockedKey, Passphrase: "nope"}, true},
		{"encrypted key without passphrase", domain.HostConfig{AuthType: domain.AuthPrivateKey, Secret: lockedKey}, true},
		{"garbage key", domain.HostConfig{AuthType: domain.AuthPrivateKey, Secret: "not a key"}, true},
		{"unknown auth type", domain.HostConfig{AuthType: "kerberos", Secret: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := authMethodFromConfig(tt.host)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil || m == nil {
				t.Fatalf("expected auth method, got %v (%v)", m, err)
			}
		})
	}
}

// startSSHServer runs an SSH server on loopback that accepts ops/hunter2 and
// echoes shell input back as output.
func startSSHServer(t *testing.T) (int, cryptossh.PublicKey) {
	t.Helper()
	hostSigner, _ := newSigner(t)
	cfg := &cryptossh.ServerConfig{
		PasswordCallback: func(c cryptossh.ConnMetadata, pass []byte) (*cryptossh.Permissions, error) {
			if c.User() == "ops" && string(pass) == "hunter2" {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, cfg)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, hostSigner.PublicKey()
}

func serveSSH(nc net.Conn, cfg *cryptossh.ServerConfig) {
	conn, chans, reqs, err := cryptossh.NewServerConn(nc, cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go cryptossh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(cryptossh.UnknownChannelType, "session only")
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range creqs {
				switch req.Type {
				case "pty-req", "window-change":
					if req.WantReply {
						_ = req.Reply(true, nil)
					}
				case "shell":
					_ = req.Reply(true, nil)
					go func() {
						_, _ = io.Copy(ch, ch)
						_, _ = ch.SendRequest("exit-status", false, cryptossh.Marshal(struct{ Status uint32 }{0}))
						_ = ch.Close()
					}()
				default:
					if req.WantReply {
						_ = req.Reply(false, nil)
					}
				}
			}
		}()
	}
}

func TestSSHConnectorDialAndShell(t *testing.T) {
	port, hostKey := startSSHServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := domain.HostConfig{
		Kind:        domain.HostSSH,
		Host:        "127.0.0.1",
		Port:        port,
		User:        "ops",
		AuthType:    domain.AuthPassword,
		Secret:      "hunter2",
		Fingerprint: cryptossh.FingerprintSHA256(hostKey),
	}
	c := &SSHConnector{DialTimeout: 2 * time.Second}
	link, err := c.Dial(ctx, host)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer link.Close()

	sh, err := link.OpenShell(ctx, 80, 24)
	if err != nil {
		t.Fatalf("open shell: %v", err)
	}
	if _, err := sh.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, len("hello\n"))
		_, _ = io.ReadFull(sh, buf)
		got <- string(buf)
	}()
	select {
	case s := <-got:
		if s != "hello\n" {
			t.Fatalf("expected echo, got %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no output from remote shell")
	}

	if err := sh.Resize(120, 40); err != nil {
		t.Fatalf("resize: %v", err)
	}
	_ = sh.Close()
}

func TestSSHConnectorRejects(t *testing.T) {
	port, _ := startSSHServer(t)
	other, _ := newSigner(t)
	base := domain.HostConfig{
		Kind: domain.HostSSH, Host: "127.0.0.1", Port: port,
		User: "ops", AuthType: domain.AuthPassword, Secret: "hunter2",
	}

	wrongPassword := base
	wrongPassword.Secret = "letmein"
	wrongKey := base
	wrongKey.Fingerprint = cryptossh.FingerprintSHA256(other.PublicKey())

	tests := []struct {
		name string
		host domain.HostConfig
		want string
	}{
		{"wrong password", wrongPassword, "unable to authenticate"},
		{"pinned key mismatch", wrongKey, "fingerprint mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			link, err := (&SSHConnector{DialTimeout: 2 * time.Second}).Dial(ctx, tt.host)
			if err == nil {
				_ = link.Close()
				t.Fatal("expected dial to fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in error, got %v", tt.want, err)
			}
		})
	}
}

func TestSSHConnectorHonoursContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	// Accept but never speak SSH, so the handshake blocks.
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				_, _ = io.Copy(io.Discard, nc)
				_ = nc.Close()
			}()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	host := domain.HostConfig{
		Kind: domain.HostSSH, Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port,
		User: "ops", AuthType: domain.AuthPassword, Secret: "x",
	}
	start := time.Now()
	if _, err := (&SSHConnector{DialTimeout: 5 * time.Second}).Dial(ctx, host); err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("dial ignored context cancellation")
	}
}
