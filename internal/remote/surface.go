package remote

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shsh-webssh/internal/terminal"
)

const (
	relayBufferSize = 32 * 1024
	maxDimension    = 500
	disposeWait     = 2 * time.Second

	// clearScreen homes the cursor and erases the screen and scrollback.
	clearScreen = "\x1b[H\x1b[2J\x1b[3J"
)

var (
	errSurfaceClosed = errors.New("surface is closed")
	errAddonDisposed = errors.New("resize addon is disposed")
)

// Surface binds one remote shell to a reparentable anchor. Remote output is
// kept in a scrollback ring and rendered into whatever container the anchor
// is attached to; output produced while detached is only kept in scrollback.
type Surface struct {
	sessionID  string
	anchor     *terminal.Anchor
	scrollback *Scrollback
	addon      *FitAddon
	done       chan struct{}
	logger     *slog.Logger

	mu        sync.Mutex
	shell     Shell
	onExit    func(error)
	closed    bool
	focusedAt time.Time
}

func newSurface(sessionID string, sh Shell, opts terminal.Options, logger *slog.Logger) *Surface {
	s := &Surface{
		sessionID:  sessionID,
		anchor:     terminal.NewAnchor(),
		scrollback: NewScrollback(opts.ScrollbackSize),
		done:       make(chan struct{}),
		logger:     logger,
		shell:      sh,
		onExit:     opts.OnExit,
	}
	s.addon = &FitAddon{surface: s}
	return s
}

func (s *Surface) start() {
	go s.relay()
}

// relay copies remote output until the shell ends.
func (s *Surface) relay() {
	defer close(s.done)

	sh := s.currentShell()
	buf := make([]byte, relayBufferSize)
	for {
		n, err := sh.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			_, _ = s.scrollback.Write(chunk)
			if _, werr := s.anchor.Write(chunk); werr != nil {
				s.logger.Debug("Failed to render terminal output", "session_id", s.sessionID, "error", werr)
			}
		}
		if err != nil {
			break
		}
	}

	exitErr := sh.Wait()

	s.mu.Lock()
	closed, onExit := s.closed, s.onExit
	s.mu.Unlock()
	if closed {
		return
	}
	s.logger.Info("Remote shell exited", "session_id", s.sessionID, "error", exitErr)
	if onExit != nil {
		onExit(exitErr)
	}
}

func (s *Surface) currentShell() Shell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shell
}

// Focus records that the surface has input focus.
func (s *Surface) Focus() {
	s.mu.Lock()
	s.focusedAt = time.Now()
	s.mu.Unlock()
}

// FocusedAt returns when the surface last received focus.
func (s *Surface) FocusedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focusedAt
}

// Clear drops the scrollback and clears the mounted screen.
func (s *Surface) Clear() {
	s.scrollback.Reset()
	_, _ = s.anchor.Write([]byte(clearScreen))
}

// Refresh redraws the mounted screen from scrollback.
func (s *Surface) Refresh() {
	data := s.scrollback.Bytes()
	out := make([]byte, 0, len(clearScreen)+len(data))
	out = append(out, clearScreen...)
	out = append(out, data...)
	_, _ = s.anchor.Write(out)
}

// Write sends keyboard input to the remote shell.
func (s *Surface) Write(p []byte) error {
	s.mu.Lock()
	sh, closed := s.shell, s.closed
	s.mu.Unlock()
	if closed || sh == nil {
		return errSurfaceClosed
	}
	_, err := sh.Write(p)
	return err
}

// Anchor implements terminal.Surface.
func (s *Surface) Anchor() *terminal.Anchor { return s.anchor }

// ResizeAddon implements terminal.Surface.
func (s *Surface) ResizeAddon() terminal.ResizeAddon {
	if s.addon == nil {
		return nil
	}
	return s.addon
}

// Scrollback returns the retained output.
func (s *Surface) Scrollback() []byte { return s.scrollback.Bytes() }

// Dispose closes the shell and waits briefly for the relay to stop. It is
// safe to call more than once.
func (s *Surface) Dispose() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sh := s.shell
	s.mu.Unlock()

	var err error
	if sh != nil {
		err = sh.Close()
	}
	select {
	case <-s.done:
	case <-time.After(disposeWait):
		s.logger.Warn("Terminal relay did not stop", "session_id", s.sessionID)
	}
	return err
}

// ClearListeners drops the exit callback.
func (s *Surface) ClearListeners() {
	s.mu.Lock()
	s.onExit = nil
	s.mu.Unlock()
}

// ReleaseAddons disposes the resize addon.
func (s *Surface) ReleaseAddons() {
	if s.addon != nil {
		_ = s.addon.Dispose()
	}
}

// DropReferences releases the shell and scrollback for collection.
func (s *Surface) DropReferences() {
	s.mu.Lock()
	s.shell = nil
	s.mu.Unlock()
	s.scrollback.Reset()
}

// FitAddon maps the mounted container's grid onto the remote PTY.
type FitAddon struct {
	surface *Surface

	mu       sync.Mutex
	disposed bool
	cols     int
	rows     int
}

// Fit resizes the remote PTY to the container size, clamped to 500x500.
// It does nothing while the surface is detached or the size is unchanged.
func (a *FitAddon) Fit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed {
		return errAddonDisposed
	}
	parent := a.surface.anchor.Parent()
	if parent == nil {
		return nil
	}
	cols, rows := parent.Size()
	cols, rows = clamp(cols), clamp(rows)
	if cols == a.cols && rows == a.rows {
		return nil
	}
	sh := a.surface.currentShell()
	if sh == nil {
		return errSurfaceClosed
	}
	if err := sh.Resize(cols, rows); err != nil {
		return err
	}
	a.cols, a.rows = cols, rows
	return nil
}

// Size returns the last applied grid.
func (a *FitAddon) Size() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cols, a.rows
}

// Dispose stops further resizing. It is safe to call more than once.
func (a *FitAddon) Dispose() error {
	a.mu.Lock()
	a.disposed = true
	a.mu.Unlock()
	return nil
}

func clamp(v int) int {
	return max(1, min(v, maxDimension))
}

var (
	_ terminal.Surface     = (*Surface)(nil)
	_ terminal.ResizeAddon = (*FitAddon)(nil)
)
