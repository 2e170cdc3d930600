// Package tabs owns the ordered tab list of a workspace and decides when a
// terminal connection is no longer referenced by any tab.
package tabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/shsh-webssh/internal/domain"
	"github.com/ashureev/shsh-webssh/internal/terminal"
)

// DefaultDisconnectTimeout bounds how long CloseTab waits for a disconnect
// before forcing the provider to release the remote session.
const DefaultDisconnectTimeout = 5 * time.Second

var (
	ErrIndexOutOfRange = errors.New("tab index out of range")
	ErrInvalidTab      = errors.New("invalid tab")
)

// Terminals is the slice of the terminal registry the coordinator drives.
type Terminals interface {
	Init(ctx context.Context, connectionID string, c terminal.Container) (bool, error)
	Disconnect(ctx context.Context, connectionID string) bool
	Exists(connectionID string) bool
	RemoteSessionID(connectionID string) string
	PublishStatus(connectionID string)
}

// Sessions tracks aliases and the active session id.
type Sessions interface {
	Alias(workingID, catalogID string)
	SetActive(connectionID string)
}

// Releaser is the provider's forced cleanup path.
type Releaser interface {
	ReleaseResources(ctx context.Context, sessionID string) error
}

// Options configures a Coordinator.
type Options struct {
	DisconnectTimeout time.Duration
	// Parking holds surfaces of tabs opened without a visible container.
	Parking terminal.Container
	Logger  *slog.Logger
}

// Coordinator keeps the tab list and an explicit reference count per
// connection id. Safe for concurrent use.
type Coordinator struct {
	terminals Terminals
	sessions  Sessions
	releaser  Releaser
	timeout   time.Duration
	parking   terminal.Container
	logger    *slog.Logger

	mu     sync.Mutex
	tabs   []domain.Tab
	active int
	refs   map[string]int
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(terminals Terminals, sessions Sessions, releaser Releaser, opts Options) *Coordinator {
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		terminals: terminals,
		sessions:  sessions,
		releaser:  releaser,
		timeout:   opts.DisconnectTimeout,
		parking:   opts.Parking,
		logger:    opts.Logger,
		active:    -1,
		refs:      make(map[string]int),
	}
}

// OpenTerminalTab appends a terminal tab for connectionID, makes it active
// and initializes its terminal inside c. A nil c parks the surface until a
// viewer mounts it. ok reports whether the terminal is ready; the tab stays
// open either way so the UI can show an error state. err is returned only
// for invalid arguments, in which case no tab is added.
func (c *Coordinator) OpenTerminalTab(ctx context.Context, connectionID, title string, container terminal.Container) (int, bool, error) {
	if connectionID == "" {
		return -1, false, terminal.ErrEmptyConnectionID
	}
	if container == nil {
		container = c.parking
	}
	if title == "" {
		title = connectionID
	}

	idx := c.add(domain.Tab{
		Title: title,
		Type:  domain.TabTerminal,
		Path:  "/terminal/" + connectionID,
		Data:  domain.TabData{ConnectionID: connectionID},
	})

	ok, err := c.terminals.Init(ctx, connectionID, container)
	if err != nil {
		c.remove(connectionID, idx)
		return -1, false, err
	}
	return idx, ok, nil
}

// OpenNewSession opens another terminal against the catalog entry
// catalogID under a fresh working id, so the new tab gets its own remote
// session instead of sharing the existing one.
func (c *Coordinator) OpenNewSession(ctx context.Context, catalogID, title string, container terminal.Container) (string, int, bool, error) {
	if catalogID == "" {
		return "", -1, false, terminal.ErrEmptyConnectionID
	}
	workingID := catalogID + "-" + uuid.NewString()[:8]
	c.sessions.Alias(workingID, catalogID)
	idx, ok, err := c.OpenTerminalTab(ctx, workingID, title, container)
	return workingID, idx, ok, err
}

// OpenTab appends a non-terminal tab. Tabs carrying a connection id count
// as references to it.
func (c *Coordinator) OpenTab(tab domain.Tab) (int, error) {
	if !tab.Type.Valid() || tab.Type == domain.TabTerminal {
		return -1, fmt.Errorf("%w: type %q", ErrInvalidTab, tab.Type)
	}
	return c.add(tab), nil
}

func (c *Coordinator) add(tab domain.Tab) int {
	c.mu.Lock()
	c.tabs = append(c.tabs, tab)
	idx := len(c.tabs) - 1
	if id := tab.ConnectionID(); id != "" {
		c.refs[id]++
	}
	c.active = idx
	c.mu.Unlock()
	c.sessions.SetActive(tab.ConnectionID())
	return idx
}

// remove rolls back OpenTerminalTab. The tab may have shifted if another
// tab closed in the meantime.
func (c *Coordinator) remove(id string, idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < len(c.tabs) && c.tabs[idx].ConnectionID() == id {
		c.removeLocked(idx)
		return
	}
	for i := len(c.tabs) - 1; i >= 0; i-- {
		if c.tabs[i].ConnectionID() == id && c.tabs[i].Type == domain.TabTerminal {
			c.removeLocked(i)
			return
		}
	}
}

func (c *Coordinator) removeLocked(index int) domain.Tab {
	tab := c.tabs[index]
	c.tabs = append(c.tabs[:index], c.tabs[index+1:]...)
	if id := tab.ConnectionID(); id != "" {
		c.refs[id]--
		if c.refs[id] <= 0 {
			delete(c.refs, id)
		}
	}
	switch {
	case len(c.tabs) == 0:
		c.active = -1
	case index < c.active:
		c.active--
	case c.active >= len(c.tabs):
		c.active = len(c.tabs) - 1
	}
	return tab
}

// CloseTab removes the tab at index. When it was the last tab referencing
// a connection with a live terminal, the terminal is disconnected under a
// timeout guard; otherwise a status refresh is published so dependent
// panels re-read the shared state.
func (c *Coordinator) CloseTab(ctx context.Context, index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.tabs) {
		c.mu.Unlock()
		return ErrIndexOutOfRange
	}
	tab := c.removeLocked(index)
	id := tab.ConnectionID()
	remaining := c.refs[id]
	var active string
	if c.active >= 0 {
		active = c.tabs[c.active].ConnectionID()
	}
	c.mu.Unlock()

	c.sessions.SetActive(active)

	if id == "" {
		return nil
	}
	if remaining > 0 {
		c.logger.Debug("connection still referenced", "connection_id", id, "refs", remaining)
		c.terminals.PublishStatus(id)
		return nil
	}
	if tab.Type != domain.TabTerminal && !c.terminals.Exists(id) {
		return nil
	}
	c.disconnect(ctx, id)
	return nil
}

// disconnect waits up to the timeout for the registry. If the deadline
// passes, the provider's release runs alongside the still running
// disconnect.
func (c *Coordinator) disconnect(ctx context.Context, id string) {
	remoteID := c.terminals.RemoteSessionID(id)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.terminals.Disconnect(context.WithoutCancel(ctx), id)
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	c.logger.Warn("disconnect timed out, forcing release", "connection_id", id, "session_id", remoteID, "timeout", c.timeout)
	if remoteID == "" || c.releaser == nil {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.releaser.ReleaseResources(releaseCtx, remoteID); err != nil {
		c.logger.Error("forced release failed", "connection_id", id, "session_id", remoteID, "error", err)
	}
}

// Activate makes the tab at index active.
func (c *Coordinator) Activate(index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.tabs) {
		c.mu.Unlock()
		return ErrIndexOutOfRange
	}
	c.active = index
	id := c.tabs[index].ConnectionID()
	c.mu.Unlock()
	c.sessions.SetActive(id)
	return nil
}

// Move reorders a tab. The active tab stays active.
func (c *Coordinator) Move(from, to int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.tabs)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrIndexOutOfRange
	}
	if from == to {
		return nil
	}
	tab := c.tabs[from]
	c.tabs = append(c.tabs[:from], c.tabs[from+1:]...)
	c.tabs = append(c.tabs[:to], append([]domain.Tab{tab}, c.tabs[to:]...)...)

	switch {
	case c.active == from:
		c.active = to
	case from < c.active && to >= c.active:
		c.active--
	case from > c.active && to <= c.active:
		c.active++
	}
	return nil
}

// Tabs returns a copy of the tab list.
func (c *Coordinator) Tabs() []domain.Tab {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Tab(nil), c.tabs...)
}

// ActiveIndex returns the active tab index, or -1 with no tabs.
func (c *Coordinator) ActiveIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// RefCount returns how many open tabs reference id.
func (c *Coordinator) RefCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[id]
}

// CloseAll closes every tab, last first.
func (c *Coordinator) CloseAll(ctx context.Context) {
	for {
		c.mu.Lock()
		n := len(c.tabs)
		c.mu.Unlock()
		if n == 0 {
			return
		}
		if err := c.CloseTab(ctx, n-1); err != nil {
			// Another caller closed it first.
			continue
		}
	}
}
