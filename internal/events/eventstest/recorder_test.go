package eventstest

import (
	"testing"

	"github.com/ashureev/shsh-webssh/internal/events"
)

func TestRecorderCount(t *testing.T) {
	var r Recorder
	r.Publish(events.Connecting("x", "root@h:22"))
	r.Publish(events.StatusUpdate("x", "ready"))
	r.Publish(events.StatusUpdate("x", "error"))
	if got := r.Count(events.TerminalStatusUpdate, "x"); got != 2 {
		t.Fatalf("expected 2 status updates, got %d", got)
	}
	if got := len(r.Events()); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
}
