// Package workspace builds and tracks the per-identity terminal workspace:
// the session registry, terminal registry, tab coordinator and event bus
// wired to each other.
package workspace

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/shsh-webssh/internal/catalog"
	"github.com/ashureev/shsh-webssh/internal/events"
	"github.com/ashureev/shsh-webssh/internal/identity"
	"github.com/ashureev/shsh-webssh/internal/session"
	"github.com/ashureev/shsh-webssh/internal/tabs"
	"github.com/ashureev/shsh-webssh/internal/terminal"
)

// ErrNoUser is returned when a request carries no identity.
var ErrNoUser = errors.New("no user identity")

// Workspace is everything one browser identity owns.
type Workspace struct {
	UserID    string
	Events    *events.Bus
	Sessions  *session.Registry
	Terminals *terminal.Registry
	Tabs      *tabs.Coordinator
	Catalog   *catalog.Selector

	parking    *terminal.Headless
	loggedIn   atomic.Bool
	lastActive atomic.Int64
	closeOnce  sync.Once
}

// LoggedIn reports whether the owner has claimed an account.
func (w *Workspace) LoggedIn() bool { return w.loggedIn.Load() }

// SetLoggedIn switches which catalog new sessions resolve against.
func (w *Workspace) SetLoggedIn(v bool) { w.loggedIn.Store(v) }

// Parking is the offscreen container surfaces live in while no viewer
// shows them.
func (w *Workspace) Parking() terminal.Container { return w.parking }

// LastActive returns when the workspace was last touched.
func (w *Workspace) LastActive() time.Time {
	return time.Unix(0, w.lastActive.Load())
}

func (w *Workspace) touch(now time.Time) {
	w.lastActive.Store(now.UnixNano())
}

// close closes every tab, then disconnects whatever terminals are left
// (e.g. ones mounted by a viewer without a tab).
func (w *Workspace) close(ctx context.Context) {
	w.closeOnce.Do(func() {
		w.Tabs.CloseAll(ctx)
		w.Terminals.DisconnectAll(ctx)
		w.parking.Close()
		w.Events.Close()
	})
}

// Options configures a Manager.
type Options struct {
	Provider    terminal.Provider
	Connections catalog.ConnectionStore
	Sealer      catalog.SecretSealer
	// Local holds the per-identity catalogs used while not logged in.
	Local             *catalog.LocalDir
	ScrollbackBytes   int
	DisconnectTimeout time.Duration
	// OnClose runs after a workspace has been torn down.
	OnClose func(userID string)
	Logger  *slog.Logger
}

// Manager lazily creates one workspace per user.
type Manager struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewManager creates a manager.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		opts:       opts,
		logger:     opts.Logger,
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
}

// Get returns the user's workspace, creating it on first use, and records
// the current login state.
func (m *Manager) Get(userID string, loggedIn bool) *Workspace {
	m.mu.Lock()
	w, ok := m.workspaces[userID]
	if !ok {
		w = m.build(userID)
		m.workspaces[userID] = w
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Info("workspace created", "user_id", userID)
	}
	w.SetLoggedIn(loggedIn)
	w.touch(m.now())
	return w
}

func (m *Manager) build(userID string) *Workspace {
	logger := m.logger.With("user_id", userID)
	w := &Workspace{
		UserID:  userID,
		Events:  events.NewBus(logger),
		parking: terminal.NewHeadless(),
	}
	w.Catalog = &catalog.Selector{
		Account:  catalog.NewAccount(m.opts.Connections, m.opts.Sealer, userID),
		LoggedIn: w.LoggedIn,
	}
	if m.opts.Local != nil {
		w.Catalog.Local = m.opts.Local.For(userID)
	}
	w.Sessions = session.NewRegistry(w.Catalog, logger)
	w.Terminals = terminal.NewRegistry(m.opts.Provider, w.Sessions, w.Events, m.opts.ScrollbackBytes, logger)
	w.Tabs = tabs.NewCoordinator(w.Terminals, w.Sessions, m.opts.Provider, tabs.Options{
		DisconnectTimeout: m.opts.DisconnectTimeout,
		Parking:           w.parking,
		Logger:            logger,
	})
	return w
}

// Lookup returns an existing workspace without creating one.
func (m *Manager) Lookup(userID string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workspaces[userID]
	return w, ok
}

// TerminalRegistry returns the terminal registry of the user in ctx.
func (m *Manager) TerminalRegistry(ctx context.Context, userID string) (*terminal.Registry, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	return m.Get(userID, identity.LoggedInFromContext(ctx)).Terminals, nil
}

// Touch marks the user's workspace as active. Unknown users are ignored.
func (m *Manager) Touch(userID string) {
	if w, ok := m.Lookup(userID); ok {
		w.touch(m.now())
	}
}

// Close tears down the user's workspace and reports whether one existed.
func (m *Manager) Close(ctx context.Context, userID string) bool {
	m.mu.Lock()
	w, ok := m.workspaces[userID]
	delete(m.workspaces, userID)
	m.mu.Unlock()
	if !ok {
		return false
	}

	w.close(ctx)
	if m.opts.Local != nil {
		m.opts.Local.Forget(userID)
	}
	m.logger.Info("workspace closed", "user_id", userID)
	if m.opts.OnClose != nil {
		m.opts.OnClose(userID)
	}
	return true
}

// CloseAll tears down every workspace.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, id := range m.UserIDs() {
		m.Close(ctx, id)
	}
}

// UserIDs returns the users with a live workspace, sorted.
func (m *Manager) UserIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.workspaces))
	for id := range m.workspaces {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// IdleSince reports whether the user's workspace exists and has not been
// touched since cutoff.
func (m *Manager) IdleSince(userID string, cutoff time.Time) bool {
	w, ok := m.Lookup(userID)
	return ok && w.LastActive().Before(cutoff)
}
