package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ashureev/shsh-webssh/internal/container"
	"github.com/ashureev/shsh-webssh/internal/domain"
)

// DockerConnector attaches shells to running containers with docker exec.
type DockerConnector struct {
	Manager container.Manager
	// User runs the exec as this user when the host config does not name one.
	User string
}

// Dial checks that the container is running.
func (c *DockerConnector) Dial(ctx context.Context, host domain.HostConfig) (Link, error) {
	if host.ContainerID == "" {
		return nil, errors.New("docker: container id is required")
	}
	running, err := c.Manager.IsRunning(ctx, host.ContainerID)
	if err != nil {
		return nil, fmt.Errorf("docker: %w", err)
	}
	if !running {
		return nil, fmt.Errorf("docker: %s: %w", host.ContainerID, container.ErrNotRunning)
	}
	user := host.User
	if user == "" {
		user = c.User
	}
	return &dockerLink{mgr: c.Manager, containerID: host.ContainerID, user: user, shell: host.Shell}, nil
}

type dockerLink struct {
	mgr         container.Manager
	containerID string
	user        string
	shell       string
}

func (l *dockerLink) OpenShell(ctx context.Context, cols, rows int) (Shell, error) {
	execID, stream, err := l.mgr.CreateExecSession(ctx, l.containerID, container.ExecOptions{
		Shell: l.shell,
		User:  l.user,
		Cols:  uint(cols),
		Rows:  uint(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("docker: %w", err)
	}
	return &dockerShell{mgr: l.mgr, execID: execID, stream: stream, done: make(chan struct{})}, nil
}

// Close is a no-op: a docker link holds no connection of its own.
func (l *dockerLink) Close() error { return nil }

type dockerShell struct {
	mgr    container.Manager
	execID string
	stream io.ReadWriteCloser

	done     chan struct{}
	doneOnce sync.Once
}

func (s *dockerShell) Read(p []byte) (int, error) {
	n, err := s.stream.Read(p)
	if err != nil {
		s.doneOnce.Do(func() { close(s.done) })
	}
	return n, err
}

func (s *dockerShell) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

func (s *dockerShell) Resize(cols, rows int) error {
	return s.mgr.ResizeExecSession(context.Background(), s.execID, uint(cols), uint(rows))
}

// Wait blocks until the exec stream ends and reports a non-zero exit code.
func (s *dockerShell) Wait() error {
	<-s.done
	code, running, err := s.mgr.ExecExitCode(context.Background(), s.execID)
	if err != nil {
		return err
	}
	if !running && code != 0 {
		return fmt.Errorf("docker: exec exited with status %d", code)
	}
	return nil
}

func (s *dockerShell) Close() error {
	s.doneOnce.Do(func() { close(s.done) })
	return s.stream.Close()
}

var (
	_ Connector = (*DockerConnector)(nil)
	_ Shell     = (*dockerShell)(nil)
)
