// Package container attaches interactive shells to running Docker containers.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const (
	defaultShell = "/bin/sh"
	defaultCols  = 80
	defaultRows  = 24
)

// ErrNotRunning is returned when an exec targets a stopped or missing container.
var ErrNotRunning = errors.New("container is not running")

// ExecOptions describes the shell to start inside a container.
type ExecOptions struct {
	Shell string
	User  string
	Cols  uint
	Rows  uint
	Env   []string
}

// Summary describes a running container that can be used as a host.
type Summary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
	State string `json:"state"`
}

// Manager defines the Docker operations the docker connector needs.
type Manager interface {
	// IsRunning checks if a container is currently running.
	IsRunning(ctx context.Context, containerID string) (bool, error)

	// CreateExecSession starts an interactive TTY exec in a running container.
	CreateExecSession(ctx context.Context, containerID string, opts ExecOptions) (string, io.ReadWriteCloser, error)

	// ResizeExecSession resizes a running exec session.
	ResizeExecSession(ctx context.Context, execID string, cols, rows uint) error

	// ExecExitCode reports the exit code of an exec once it has stopped.
	ExecExitCode(ctx context.Context, execID string) (code int, running bool, err error)

	// ListRunning returns running containers sorted by name.
	ListRunning(ctx context.Context) ([]Summary, error)

	// Close releases the Docker client.
	Close() error
}

// DockerManager implements Manager using the Docker API.
type DockerManager struct {
	cli *client.Client
}

// NewDockerManager creates a Docker client from the environment.
func NewDockerManager() (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized", "host", cli.DaemonHost())
	return &DockerManager{cli: cli}, nil
}

// IsRunning checks if a container is currently running.
func (m *DockerManager) IsRunning(ctx context.Context, containerID string) (bool, error) {
	inspect, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// CreateExecSession starts an interactive TTY exec in a running container.
func (m *DockerManager) CreateExecSession(ctx context.Context, containerID string, opts ExecOptions) (string, io.ReadWriteCloser, error) {
	running, err := m.IsRunning(ctx, containerID)
	if err != nil {
		return "", nil, err
	}
	if !running {
		return "", nil, fmt.Errorf("%s: %w", containerID, ErrNotRunning)
	}

	shell := opts.Shell
	if shell == "" {
		shell = defaultShell
	}
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 || rows == 0 {
		cols, rows = defaultCols, defaultRows
	}

	execConfig := container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		Cmd:          []string{shell},
		User:         opts.User,
		Env:          append([]string{"TERM=xterm-256color"}, opts.Env...),
		ConsoleSize:  &[2]uint{rows, cols},
	}

	resp, err := m.cli.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", nil, fmt.Errorf("%s: %w", containerID, ErrNotRunning)
		}
		return "", nil, fmt.Errorf("create exec session in container %s: %w", containerID, err)
	}

	attachResp, err := m.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{
		Tty:         true,
		ConsoleSize: &[2]uint{rows, cols},
	})
	if err != nil {
		return "", nil, fmt.Errorf("attach to exec session %s: %w", resp.ID, err)
	}

	slog.Info("Exec session created", "exec_id", resp.ID, "container_id", containerID, "shell", shell)
	return resp.ID, attachResp.Conn, nil
}

// ResizeExecSession resizes a running exec session.
func (m *DockerManager) ResizeExecSession(ctx context.Context, execID string, cols, rows uint) error {
	if err := m.cli.ContainerExecResize(ctx, execID, container.ResizeOptions{
		Height: rows,
		Width:  cols,
	}); err != nil {
		return fmt.Errorf("resize exec session %s to %dx%d: %w", execID, cols, rows, err)
	}
	return nil
}

// ExecExitCode reports the exit code of an exec once it has stopped.
func (m *DockerManager) ExecExitCode(ctx context.Context, execID string) (int, bool, error) {
	inspect, err := m.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("inspect exec %s: %w", execID, err)
	}
	return inspect.ExitCode, inspect.Running, nil
}

// ListRunning returns running containers sorted by name.
func (m *DockerManager) ListRunning(ctx context.Context) ([]Summary, error) {
	list, err := m.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	out := make([]Summary, 0, len(list))
	for _, c := range list {
		name := c.ID
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, Summary{
			ID:    c.ID,
			Name:  name,
			Image: c.Image,
			State: string(c.State),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close releases the Docker client.
func (m *DockerManager) Close() error {
	return m.cli.Close()
}
