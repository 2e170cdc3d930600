package events

import (
	"testing"
	"time"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(StatusUpdate("conn-1", "ready"))

	select {
	case got := <-ch:
		if got.Type != TerminalStatusUpdate {
			t.Fatalf("expected status update, got %v", got.Type)
		}
		if got.ConnectionID != "conn-1" || got.Status != "ready" {
			t.Fatalf("unexpected payload: %+v", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
	if bus.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", bus.Subscribers())
	}
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := NewBus(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		bus.Publish(Destroyed("a"))
		bus.Publish(Destroyed("b"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("publish blocked on full channel")
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe()
	bus.Close()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
	bus.Publish(StatusUpdate("a", "ready"))

	late, _ := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscribing to a closed bus should return a closed channel")
	}
}
