package terminal

import (
	"sync"

	"github.com/google/uuid"
)

// Headless is an offscreen container. A terminal tab opened before any
// browser pane is visible is mounted here, and its output is discarded until
// a viewer reattaches it.
type Headless struct {
	id string

	mu      sync.Mutex
	closed  bool
	anchors map[*Anchor]struct{}
	cols    int
	rows    int
}

// NewHeadless creates a live offscreen container with a default 80x24 grid.
func NewHeadless() *Headless {
	return &Headless{
		id:      "headless-" + uuid.NewString(),
		anchors: make(map[*Anchor]struct{}),
		cols:    defaultCols,
		rows:    defaultRows,
	}
}

// ID implements Container.
func (h *Headless) ID() string { return h.id }

// Live implements Container.
func (h *Headless) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

// Attach implements Container.
func (h *Headless) Attach(a *Anchor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrContainerClosed
	}
	h.anchors[a] = struct{}{}
	return nil
}

// Detach implements Container.
func (h *Headless) Detach(a *Anchor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.anchors, a)
}

// Contains reports whether a is mounted here.
func (h *Headless) Contains(a *Anchor) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.anchors[a]
	return ok
}

// Render implements Container.
func (h *Headless) Render([]byte) error { return nil }

// Size implements Container.
func (h *Headless) Size() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cols, h.rows
}

// Close marks the container dead and orphans its anchors.
func (h *Headless) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for a := range h.anchors {
		a.Orphan(h)
	}
	clear(h.anchors)
}
