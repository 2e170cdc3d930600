// Package remote implements the terminal session provider: it opens remote
// shells over SSH, docker exec or a local PTY and binds them to terminal
// surfaces.
//
// Supported connectors:
//   - SSHConnector: SSH PTY relay for configured hosts
//   - DockerConnector: docker exec PTY relay into a running container
//   - LocalConnector: a shell on the server itself, disabled by default
package remote

import (
	"context"
	"errors"
	"io"

	"github.com/ashureev/shsh-webssh/internal/domain"
)

// ErrUnsupportedKind is returned for host kinds with no enabled connector.
var ErrUnsupportedKind = errors.New("no connector for host kind")

// Shell is one interactive remote shell. Read returns remote output, Write
// sends keyboard input.
type Shell interface {
	io.ReadWriteCloser
	// Resize changes the remote PTY dimensions.
	Resize(cols, rows int) error
	// Wait blocks until the remote shell exits and returns its exit error.
	Wait() error
}

// Link is an authenticated connection to a host that can open shells.
type Link interface {
	OpenShell(ctx context.Context, cols, rows int) (Shell, error)
	Close() error
}

// Connector opens links to hosts of one kind.
// Implementations must be safe for concurrent use.
type Connector interface {
	Dial(ctx context.Context, host domain.HostConfig) (Link, error)
}
