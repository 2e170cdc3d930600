package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/ashureev/shsh-webssh/internal/domain"
	"github.com/creack/pty"
)

// LocalConnector spawns shells on the server in a PTY.
type LocalConnector struct {
	// Shell is used when the host config does not name one.
	Shell string
}

// Dial validates the shell path; nothing is started until OpenShell.
func (c *LocalConnector) Dial(_ context.Context, host domain.HostConfig) (Link, error) {
	shell := host.Shell
	if shell == "" {
		shell = c.Shell
	}
	if shell == "" {
		return nil, errors.New("local: no shell configured")
	}
	path, err := exec.LookPath(shell)
	if err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}
	return &localLink{shell: path}, nil
}

type localLink struct {
	shell string
}

func (l *localLink) OpenShell(_ context.Context, cols, rows int) (Shell, error) {
	cmd := exec.Command(l.shell, "-l")
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("local: start %s: %w", l.shell, err)
	}
	return &localShell{cmd: cmd, ptmx: ptmx}, nil
}

func (l *localLink) Close() error { return nil }

type localShell struct {
	cmd  *exec.Cmd
	ptmx *os.File

	waitOnce sync.Once
	waitErr  error
}

func (s *localShell) Read(p []byte) (int, error)  { return s.ptmx.Read(p) }
func (s *localShell) Write(p []byte) (int, error) { return s.ptmx.Write(p) }

func (s *localShell) Resize(cols, rows int) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (s *localShell) Wait() error {
	s.waitOnce.Do(func() { s.waitErr = s.cmd.Wait() })
	return s.waitErr
}

// Close kills the shell and reaps it so no zombie is left behind.
func (s *localShell) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.ptmx.Close()
	_ = s.Wait()
	return err
}

var (
	_ Connector = (*LocalConnector)(nil)
	_ Shell     = (*localShell)(nil)
)
