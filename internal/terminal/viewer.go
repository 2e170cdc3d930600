package terminal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const viewerQueueSize = 256

// frameWriter is the write half of a websocket connection.
type frameWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Viewer is a browser pane: a Container backed by a websocket. Rendered
// output is queued and written by a background goroutine so a slow browser
// never blocks the remote session's relay. When the queue is full the
// oldest frame is dropped.
type Viewer struct {
	id     string
	conn   frameWriter
	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	anchors map[*Anchor]struct{}
	cols    int
	rows    int
}

// NewViewer starts a viewer writing to conn.
func NewViewer(conn frameWriter, cols, rows int, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &Viewer{
		id:      "viewer-" + uuid.NewString(),
		conn:    conn,
		out:     make(chan []byte, viewerQueueSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		anchors: make(map[*Anchor]struct{}),
	}
	v.SetSize(cols, rows)
	v.wg.Add(1)
	go v.processOutput()
	return v
}

// ID implements Container.
func (v *Viewer) ID() string { return v.id }

// Done is closed once the viewer has been closed.
func (v *Viewer) Done() <-chan struct{} { return v.ctx.Done() }

// Live implements Container.
func (v *Viewer) Live() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.closed
}

// Attach implements Container.
func (v *Viewer) Attach(a *Anchor) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrContainerClosed
	}
	v.anchors[a] = struct{}{}
	return nil
}

// Detach implements Container.
func (v *Viewer) Detach(a *Anchor) {
	v.mu.Lock()
	_, had := v.anchors[a]
	delete(v.anchors, a)
	v.mu.Unlock()
	if had {
		v.SendJSON(map[string]string{"type": "detached"})
	}
}

// Size implements Container.
func (v *Viewer) Size() (int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cols, v.rows
}

// SetSize records the browser's grid. Non-positive values fall back to 80x24.
func (v *Viewer) SetSize(cols, rows int) {
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}
	v.mu.Lock()
	v.cols, v.rows = cols, rows
	v.mu.Unlock()
}

// Render implements Container. It never blocks on the network.
func (v *Viewer) Render(p []byte) error {
	if !v.Live() {
		return ErrContainerClosed
	}
	data := make([]byte, len(p))
	copy(data, p)

	select {
	case v.out <- data:
		return nil
	case <-v.ctx.Done():
		return nil
	default:
	}

	v.logger.Debug("Viewer queue full, dropping oldest frame", "viewer", v.id, "queue_len", len(v.out))
	select {
	case <-v.out:
	default:
	}
	select {
	case v.out <- data:
	case <-v.ctx.Done():
	default:
		v.logger.Warn("Failed to queue viewer frame", "viewer", v.id)
	}
	return nil
}

// SendJSON writes a control message to the browser immediately.
func (v *Viewer) SendJSON(msg any) {
	if v.ctx.Err() != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		v.logger.Debug("Failed to marshal viewer message", "error", err)
		return
	}
	if err := v.conn.Write(v.ctx, websocket.MessageText, data); err != nil && v.ctx.Err() == nil {
		v.logger.Debug("Failed to send viewer message", "viewer", v.id, "error", err)
	}
}

func (v *Viewer) processOutput() {
	defer v.wg.Done()
	for {
		select {
		case <-v.ctx.Done():
			return
		case data := <-v.out:
			start := time.Now()
			if err := v.conn.Write(v.ctx, websocket.MessageBinary, data); err != nil {
				if v.ctx.Err() == nil {
					v.logger.Debug("WebSocket write error", "viewer", v.id, "error", err)
				}
				continue
			}
			if d := time.Since(start); d > 100*time.Millisecond {
				v.logger.Debug("Slow viewer write", "viewer", v.id, "duration_ms", d.Milliseconds())
			}
		}
	}
}

// Close stops the writer and orphans any mounted anchor. The sessions
// behind those anchors are left running.
func (v *Viewer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	for a := range v.anchors {
		a.Orphan(v)
	}
	clear(v.anchors)
	v.mu.Unlock()

	v.cancel()

	done := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		v.logger.Warn("Viewer writer shutdown timeout", "viewer", v.id)
	}

	drained := 0
	for {
		select {
		case <-v.out:
			drained++
		default:
			if drained > 0 {
				v.logger.Debug("Dropped undelivered viewer frames", "viewer", v.id, "count", drained)
			}
			return nil
		}
	}
}

// ViewerStats describes a viewer's outbound frame queue.
type ViewerStats struct {
	ID            string `json:"id"`
	QueueLen      int    `json:"queueLen"`
	QueueCapacity int    `json:"queueCapacity"`
}

// Stats returns queue statistics.
func (v *Viewer) Stats() ViewerStats {
	return ViewerStats{ID: v.id, QueueLen: len(v.out), QueueCapacity: cap(v.out)}
}
