package terminal

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/shsh-webssh/internal/events"
)

// Precondition errors. These are the only failures Init returns as errors;
// everything else is reported through the boolean result and events.
var (
	ErrEmptyConnectionID = errors.New("connection id is required")
	ErrNilContainer      = errors.New("container is required")
)

const (
	defaultCols = 80
	defaultRows = 24
)

type entry struct {
	surface  Surface
	remoteID string
	addon    ResizeAddon
	host     string
}

func (e *entry) live() bool {
	return e != nil && e.surface != nil && e.remoteID != ""
}

// EntryInfo is a read-only view of one terminal entry.
type EntryInfo struct {
	ConnectionID    string `json:"connectionId"`
	Status          Status `json:"status"`
	RemoteSessionID string `json:"remoteSessionId,omitempty"`
	Host            string `json:"host,omitempty"`
}

// Registry owns one terminal entry per connection id: the surface, the
// remote session behind it and its resize addon. It is the only component
// that creates or releases those resources.
type Registry struct {
	provider   Provider
	sessions   Resolver
	locks      *StateTracker
	bus        events.Publisher
	logger     *slog.Logger
	scrollback int

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates a registry. A nil bus discards events.
func NewRegistry(provider Provider, sessions Resolver, bus events.Publisher, scrollback int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.Discard{}
	}
	return &Registry{
		provider:   provider,
		sessions:   sessions,
		locks:      NewStateTracker(),
		bus:        bus,
		logger:     logger,
		scrollback: scrollback,
		entries:    make(map[string]*entry),
	}
}

// Init mounts the terminal for connectionID into c. An existing Ready entry
// is reattached without creating a new remote session. It returns false
// without touching the provider when an initialization for the same id is
// already in flight.
func (r *Registry) Init(ctx context.Context, connectionID string, c Container) (bool, error) {
	if err := checkArgs(connectionID, c); err != nil {
		return false, err
	}
	if r.IsReady(connectionID) {
		return r.Reattach(connectionID, c), nil
	}
	if !r.locks.TryAcquire(connectionID) {
		if r.locks.State(connectionID) == StatusReady {
			return r.Reattach(connectionID, c), nil
		}
		r.logger.Debug("Terminal initialization already in progress",
			"connection_id", connectionID, "status", r.locks.State(connectionID))
		return false, nil
	}
	return r.initialize(ctx, connectionID, c), nil
}

// Reconnect replaces the session behind a Ready or Error entry with a new
// one. This is the only path from Ready back to Initializing.
func (r *Registry) Reconnect(ctx context.Context, connectionID string, c Container) (bool, error) {
	if err := checkArgs(connectionID, c); err != nil {
		return false, err
	}
	if !r.locks.Reacquire(connectionID) {
		return r.Init(ctx, connectionID, c)
	}
	return r.initialize(ctx, connectionID, c), nil
}

func checkArgs(connectionID string, c Container) error {
	if connectionID == "" {
		return ErrEmptyConnectionID
	}
	if c == nil {
		return ErrNilContainer
	}
	if !c.Live() {
		return ErrContainerClosed
	}
	return nil
}

// initialize runs with the lock held for connectionID.
func (r *Registry) initialize(ctx context.Context, connectionID string, c Container) (ok bool) {
	outcome := StatusError
	var (
		remoteID string
		exit     exitLatch
	)

	r.mu.Lock()
	stale := r.entries[connectionID]
	r.entries[connectionID] = &entry{}
	r.mu.Unlock()

	defer func() {
		if outcome != StatusReady {
			r.mu.Lock()
			r.entries[connectionID] = &entry{}
			r.mu.Unlock()
		}
		r.locks.Release(connectionID, outcome)
		r.publishStatus(connectionID, outcome)
		// The shell may have exited before the entry was Ready, when the
		// exit callback could not fail it yet.
		if outcome == StatusReady {
			if exited, exitErr := exit.get(); exited {
				r.handleExit(connectionID, remoteID, exitErr)
				ok = false
			}
		}
		if r.locks.TakeDisposeRequest(connectionID) {
			r.logger.Info("Disposing terminal disconnected during initialization", "connection_id", connectionID)
			r.Disconnect(context.WithoutCancel(ctx), connectionID)
			ok = false
		}
	}()

	if stale.live() {
		r.releaseEntry(ctx, connectionID, stale)
	}

	host, err := r.sessions.Resolve(ctx, connectionID)
	if err != nil {
		r.logger.Warn("Failed to resolve connection", "connection_id", connectionID, "error", err)
		return false
	}
	if host == nil {
		r.logger.Warn("Unknown connection", "connection_id", connectionID)
		return false
	}
	r.bus.Publish(events.Connecting(connectionID, host.Label()))

	err = safeCall(func() error {
		var err error
		remoteID, err = r.provider.CreateSession(ctx, *host)
		return err
	})
	if err == nil && remoteID == "" {
		err = errors.New("provider returned an empty session id")
	}
	if err != nil {
		r.logger.Warn("Failed to create remote session", "connection_id", connectionID, "host", host.Label(), "error", err)
		return false
	}

	cols, rows := c.Size()
	if cols <= 0 || rows <= 0 {
		cols, rows = defaultCols, defaultRows
	}
	opts := Options{
		Cols:           cols,
		Rows:           rows,
		ScrollbackSize: r.scrollback,
		OnExit: func(err error) {
			exit.set(err)
			r.handleExit(connectionID, remoteID, err)
		},
	}

	var surface Surface
	err = safeCall(func() error {
		var err error
		surface, err = r.provider.CreateTerminal(ctx, remoteID, c, opts)
		return err
	})
	if err == nil && surface == nil {
		err = errors.New("provider returned no surface")
	}
	if err != nil {
		r.logger.Warn("Failed to create terminal surface", "connection_id", connectionID, "session_id", remoteID, "error", err)
		r.closeRemote(ctx, connectionID, remoteID)
		r.releaseRemote(ctx, connectionID, remoteID)
		return false
	}

	e := &entry{surface: surface, remoteID: remoteID, host: host.Label()}
	_ = safeCall(func() error {
		e.addon = surface.ResizeAddon()
		return nil
	})

	r.mu.Lock()
	r.entries[connectionID] = e
	r.mu.Unlock()
	outcome = StatusReady

	r.fitEntry(connectionID, e)
	r.logger.Info("Terminal ready", "connection_id", connectionID, "session_id", remoteID, "host", e.host)
	return true
}

// Reattach moves an existing surface into c and refits it. When the
// surface's anchor cannot be located or moved, the surface is cleared and
// refreshed in place instead; the remote session is kept either way.
func (r *Registry) Reattach(connectionID string, c Container) bool {
	if c == nil || !r.IsReady(connectionID) {
		return false
	}
	e := r.get(connectionID)
	if !e.live() {
		return false
	}

	var anchor *Anchor
	_ = safeCall(func() error {
		anchor = e.surface.Anchor()
		return nil
	})
	moved := false
	if anchor != nil {
		if err := safeCall(func() error { return anchor.MoveTo(c) }); err != nil {
			r.logger.Debug("Failed to move terminal anchor", "connection_id", connectionID, "container", c.ID(), "error", err)
		} else {
			moved = true
		}
	}
	if !moved {
		r.logger.Debug("Terminal anchor unavailable, refreshing in place", "connection_id", connectionID)
		r.guard(connectionID, "clear", func() error { e.surface.Clear(); return nil })
	}

	r.fitEntry(connectionID, e)
	r.guard(connectionID, "refresh", func() error { e.surface.Refresh(); return nil })
	r.publishStatus(connectionID, StatusReady)
	return true
}

// Fit recomputes rows and cols for a Ready entry. Failures are logged only.
func (r *Registry) Fit(connectionID string) {
	if !r.IsReady(connectionID) {
		return
	}
	r.fitEntry(connectionID, r.get(connectionID))
}

func (r *Registry) fitEntry(connectionID string, e *entry) {
	if e == nil || e.addon == nil {
		return
	}
	if err := safeCall(e.addon.Fit); err != nil {
		r.logger.Debug("Failed to fit terminal", "connection_id", connectionID, "error", err)
	}
}

// Send writes data to the session behind connectionID. It is a no-op when
// there is no such entry.
func (r *Registry) Send(connectionID string, data []byte) error {
	e := r.get(connectionID)
	if !e.live() {
		return nil
	}
	return safeCall(func() error { return e.surface.Write(data) })
}

// Clear clears the surface for connectionID, if any.
func (r *Registry) Clear(connectionID string) {
	if e := r.get(connectionID); e.live() {
		r.guard(connectionID, "clear", func() error { e.surface.Clear(); return nil })
	}
}

// Focus focuses the surface for connectionID, if any.
func (r *Registry) Focus(connectionID string) {
	if e := r.get(connectionID); e.live() {
		r.guard(connectionID, "focus", func() error { e.surface.Focus(); return nil })
	}
}

// Disconnect releases everything owned for connectionID. It is idempotent
// and reports whether the entry is gone afterwards. Sub-step failures are
// logged and never stop the remaining steps. Disconnecting an entry that is
// still initializing is deferred until the initialization finishes.
func (r *Registry) Disconnect(ctx context.Context, connectionID string) bool {
	if connectionID == "" {
		return true
	}

	e, ok, pending := r.claim(connectionID)
	if pending {
		return false
	}

	if ok {
		r.releaseEntry(ctx, connectionID, e)
	}

	r.mu.Lock()
	delete(r.entries, connectionID)
	r.mu.Unlock()

	_ = safeCall(func() error {
		r.sessions.Unregister(connectionID)
		return nil
	})
	r.locks.Forget(connectionID)

	r.mu.Lock()
	if _, still := r.entries[connectionID]; still {
		r.logger.Warn("Terminal entry survived teardown, removing", "connection_id", connectionID)
		delete(r.entries, connectionID)
	}
	r.mu.Unlock()

	if ok {
		r.bus.Publish(events.Destroyed(connectionID))
		r.publishStatus(connectionID, StatusDisposed)
		r.logger.Info("Terminal disconnected", "connection_id", connectionID)
	}
	return !r.Exists(connectionID)
}

// claim marks the entry for connectionID as Disposed and returns it. When
// the entry cannot be claimed yet, pending is true: either an initialization
// is in flight and will dispose the entry itself, or another disconnect owns
// it.
func (r *Registry) claim(connectionID string) (e *entry, ok, pending bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		e, ok = r.entries[connectionID]
		if !ok {
			return nil, false, false
		}
		switch r.locks.State(connectionID) {
		case StatusInitializing:
			if r.locks.RequestDispose(connectionID) {
				r.logger.Debug("Deferring disconnect until initialization finishes", "connection_id", connectionID)
				return e, true, true
			}
			// Initialization finished in between; look again.
			continue
		case StatusDisposed:
			r.logger.Debug("Disconnect already in progress", "connection_id", connectionID)
			return e, true, true
		}
		r.locks.MarkDisposed(connectionID)
		return e, true, false
	}
}

// releaseEntry closes the remote session, tears down the surface and the
// addon, then asks the provider to release server-side resources.
func (r *Registry) releaseEntry(ctx context.Context, connectionID string, e *entry) {
	if e.remoteID != "" {
		r.closeRemote(ctx, connectionID, e.remoteID)
	}
	if e.surface != nil {
		teardown(r.logger, "surface", connectionID, e.surface)
	}
	if e.addon != nil {
		teardown(r.logger, "addon", connectionID, e.addon)
	}
	if e.remoteID != "" {
		r.releaseRemote(ctx, connectionID, e.remoteID)
	}
}

func (r *Registry) closeRemote(ctx context.Context, connectionID, remoteID string) {
	if err := safeCall(func() error { return r.provider.CloseSession(ctx, remoteID) }); err != nil {
		r.logger.Warn("Failed to close remote session", "connection_id", connectionID, "session_id", remoteID, "error", err)
	}
}

func (r *Registry) releaseRemote(ctx context.Context, connectionID, remoteID string) {
	if err := safeCall(func() error { return r.provider.ReleaseResources(ctx, remoteID) }); err != nil {
		r.logger.Warn("Failed to release remote resources", "connection_id", connectionID, "session_id", remoteID, "error", err)
	}
}

// DisconnectAll disconnects every entry and reports how many remain.
func (r *Registry) DisconnectAll(ctx context.Context) int {
	for _, id := range r.IDs() {
		r.Disconnect(ctx, id)
	}
	return len(r.IDs())
}

// exitLatch records a shell exit seen while initialization still holds
// the lock.
type exitLatch struct {
	mu   sync.Mutex
	done bool
	err  error
}

func (l *exitLatch) set(err error) {
	l.mu.Lock()
	l.done, l.err = true, err
	l.mu.Unlock()
}

func (l *exitLatch) get() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done, l.err
}

// handleExit moves the entry to Error when its remote shell ends. Resources
// stay owned by the entry until it is disconnected or reconnected.
func (r *Registry) handleExit(connectionID, remoteID string, err error) {
	if e := r.get(connectionID); e == nil || e.remoteID != remoteID {
		return
	}
	if !r.locks.Fail(connectionID) {
		return
	}
	if err != nil {
		r.logger.Info("Remote session ended", "connection_id", connectionID, "session_id", remoteID, "error", err)
	} else {
		r.logger.Info("Remote session ended", "connection_id", connectionID, "session_id", remoteID)
	}
	r.publishStatus(connectionID, StatusError)
}

// Status returns the lifecycle state of connectionID.
func (r *Registry) Status(connectionID string) Status {
	return r.locks.State(connectionID)
}

// IsReady reports whether connectionID has a Ready entry.
func (r *Registry) IsReady(connectionID string) bool {
	return r.Exists(connectionID) && r.locks.State(connectionID) == StatusReady
}

// IsBusy reports whether an initialization is in flight for connectionID.
func (r *Registry) IsBusy(connectionID string) bool {
	return r.locks.IsBusy(connectionID)
}

// Exists reports whether an entry is recorded for connectionID.
func (r *Registry) Exists(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[connectionID]
	return ok
}

// RemoteSessionID returns the provider's session id for connectionID.
func (r *Registry) RemoteSessionID(connectionID string) string {
	if e := r.get(connectionID); e != nil {
		return e.remoteID
	}
	return ""
}

// IDs returns every recorded connection id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshot describes every recorded entry, sorted by connection id.
func (r *Registry) Snapshot() []EntryInfo {
	ids := r.IDs()
	out := make([]EntryInfo, 0, len(ids))
	for _, id := range ids {
		e := r.get(id)
		if e == nil {
			continue
		}
		out = append(out, EntryInfo{
			ConnectionID:    id,
			Status:          r.Status(id),
			RemoteSessionID: e.remoteID,
			Host:            e.host,
		})
	}
	return out
}

// PublishStatus re-announces the current status of connectionID.
func (r *Registry) PublishStatus(connectionID string) {
	r.publishStatus(connectionID, r.Status(connectionID))
}

func (r *Registry) publishStatus(connectionID string, s Status) {
	r.bus.Publish(events.StatusUpdate(connectionID, s.String()))
}

func (r *Registry) get(connectionID string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[connectionID]
}

func (r *Registry) guard(connectionID, op string, fn func() error) {
	if err := safeCall(fn); err != nil {
		r.logger.Debug("Terminal operation failed", "connection_id", connectionID, "op", op, "error", err)
	}
}
