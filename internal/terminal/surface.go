package terminal

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/shsh-webssh/internal/domain"
)

// ErrContainerClosed is returned when attaching to a container that is no
// longer live.
var ErrContainerClosed = errors.New("container is not live")

// Container is a mount point for a surface, the server-side counterpart of
// the DOM node a terminal is rendered into. Output written to an attached
// anchor is rendered by the container.
type Container interface {
	ID() string
	// Live reports whether the container can still accept an anchor.
	Live() bool
	Attach(a *Anchor) error
	Detach(a *Anchor)
	Render(p []byte) error
	// Size returns the visible grid; zero means unknown.
	Size() (cols, rows int)
}

// Surface is the rendering and interaction object bound to one remote
// session. Implementations may additionally expose any of the optional
// teardown hooks in teardown.go.
type Surface interface {
	Focus()
	Clear()
	// Refresh re-renders retained output into the current container.
	Refresh()
	// Write feeds user input to the session behind the surface.
	Write(p []byte) error
	// Anchor returns the reparentable node, or nil if it cannot be located.
	Anchor() *Anchor
	// ResizeAddon returns the addon that maps container size to rows/cols,
	// or nil if the surface cannot be resized.
	ResizeAddon() ResizeAddon
}

// ResizeAddon recomputes rows/cols when the container changes size.
type ResizeAddon interface {
	Fit() error
	Dispose() error
}

// Options are passed to the provider when a surface is created.
type Options struct {
	Cols           int
	Rows           int
	ScrollbackSize int
	// OnExit is called once when the remote shell behind the surface ends.
	OnExit func(err error)
}

// Provider creates remote sessions and binds surfaces to them.
type Provider interface {
	CreateSession(ctx context.Context, host domain.HostConfig) (string, error)
	CreateTerminal(ctx context.Context, sessionID string, c Container, opts Options) (Surface, error)
	CloseSession(ctx context.Context, sessionID string) error
	ReleaseResources(ctx context.Context, sessionID string) error
}

// Resolver maps a connection id to its host configuration. A nil config with
// a nil error means the connection is unknown.
type Resolver interface {
	Resolve(ctx context.Context, connectionID string) (*domain.HostConfig, error)
	Unregister(connectionID string)
}

// Anchor is a node that can be moved between containers without touching
// the session behind it. The zero value is detached.
type Anchor struct {
	mu     sync.Mutex
	parent Container
}

// NewAnchor returns a detached anchor.
func NewAnchor() *Anchor {
	return &Anchor{}
}

// Parent returns the current container, or nil when detached.
func (a *Anchor) Parent() Container {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.parent
}

// Attached reports whether the anchor currently has a parent.
func (a *Anchor) Attached() bool {
	return a.Parent() != nil
}

// MoveTo detaches the anchor from its previous parent and attaches it to c.
func (a *Anchor) MoveTo(c Container) error {
	if c == nil {
		return ErrContainerClosed
	}
	a.mu.Lock()
	old := a.parent
	a.mu.Unlock()
	if old == c {
		return nil
	}
	if old != nil {
		old.Detach(a)
	}
	if err := c.Attach(a); err != nil {
		a.mu.Lock()
		if a.parent == old {
			a.parent = nil
		}
		a.mu.Unlock()
		return err
	}
	a.mu.Lock()
	a.parent = c
	a.mu.Unlock()
	return nil
}

// Remove detaches the anchor from whatever parent it has.
func (a *Anchor) Remove() {
	a.mu.Lock()
	old := a.parent
	a.parent = nil
	a.mu.Unlock()
	if old != nil {
		old.Detach(a)
	}
}

// Orphan clears the parent without calling back into it. Containers call
// this when they close so they can drop anchors while holding their own lock.
func (a *Anchor) Orphan(c Container) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.parent == c {
		a.parent = nil
	}
}

// Write renders p into the current parent. Output is dropped while detached.
func (a *Anchor) Write(p []byte) (int, error) {
	parent := a.Parent()
	if parent == nil {
		return len(p), nil
	}
	if err := parent.Render(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
