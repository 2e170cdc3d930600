package terminal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type recordingConn struct {
	mu     sync.Mutex
	binary [][]byte
	text   []string
}

func (c *recordingConn) Write(_ context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if typ == websocket.MessageBinary {
		c.binary = append(c.binary, append([]byte(nil), p...))
	} else {
		c.text = append(c.text, string(p))
	}
	return nil
}

func (c *recordingConn) frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.binary)
}

func (c *recordingConn) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.text...)
}

func TestViewerRendersAsync(t *testing.T) {
	conn := &recordingConn{}
	v := NewViewer(conn, 0, 0, nil)
	defer v.Close()

	if cols, rows := v.Size(); cols != 80 || rows != 24 {
		t.Fatalf("expected default size, got %dx%d", cols, rows)
	}

	anchor := NewAnchor()
	if err := anchor.MoveTo(v); err != nil {
		t.Fatal(err)
	}
	if _, err := anchor.Write([]byte("$ ")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for conn.frames() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if conn.frames() != 1 {
		t.Fatalf("expected one frame, got %d", conn.frames())
	}
	if st := v.Stats(); st.ID != v.ID() || st.QueueLen != 0 || st.QueueCapacity == 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestViewerCloseOrphansAnchor(t *testing.T) {
	conn := &recordingConn{}
	v := NewViewer(conn, 100, 30, nil)
	anchor := NewAnchor()
	_ = anchor.MoveTo(v)

	if err := v.Close(); err != nil {
		t.Fatal(err)
	}
	if anchor.Attached() || v.Live() {
		t.Fatal("closed viewer should drop its anchors")
	}
	if err := v.Render([]byte("late")); err == nil {
		t.Fatal("render after close should fail")
	}
	if err := v.Close(); err != nil {
		t.Fatal("second close should be a no-op")
	}
}

func TestViewerDetachNotifies(t *testing.T) {
	conn := &recordingConn{}
	a := NewViewer(conn, 0, 0, nil)
	b := NewViewer(&recordingConn{}, 0, 0, nil)
	defer a.Close()
	defer b.Close()

	anchor := NewAnchor()
	_ = anchor.MoveTo(a)
	_ = anchor.MoveTo(b)

	texts := conn.texts()
	if len(texts) != 1 || texts[0] != `{"type":"detached"}` {
		t.Fatalf("expected detached notice, got %v", texts)
	}
}

func TestViewerSetReplacesViewer(t *testing.T) {
	set := NewViewerSet()
	oldConn := &recordingConn{}
	first := NewViewer(oldConn, 0, 0, nil)
	second := NewViewer(&recordingConn{}, 0, 0, nil)
	defer first.Close()
	defer second.Close()

	set.Register("u", "c", first)
	set.Register("u", "c", second)
	if set.Get("u", "c") != second {
		t.Fatal("expected second viewer to be active")
	}
	if texts := oldConn.texts(); len(texts) != 1 || texts[0] != `{"type":"replaced"}` {
		t.Fatalf("expected replaced notice, got %v", texts)
	}

	// A stale unregister must not remove the newer viewer.
	set.Unregister("u", "c", first)
	if set.Get("u", "c") != second {
		t.Fatal("stale unregister removed the active viewer")
	}
	set.Unregister("u", "c", second)
	if set.Count("u") != 0 {
		t.Fatal("expected no viewers")
	}
}
