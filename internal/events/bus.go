// Package events provides the typed notification channel a workspace uses to
// tell monitoring panels and tab titles about terminal lifecycle changes.
package events

import (
	"log/slog"
	"sync"
)

// Type names an event. The values match the names the browser listens for.
type Type string

const (
	// TerminalStatusUpdate carries the current status of a connection.
	TerminalStatusUpdate Type = "terminal-status-update"
	// TerminalDestroyed is published once a terminal entry has been torn down.
	TerminalDestroyed Type = "terminal:destroyed"
	// SSHConnecting is published before a remote session is created.
	SSHConnecting Type = "ssh-connecting"
)

// Event is a single notification. Only the fields relevant to Type are set.
type Event struct {
	Type         Type   `json:"type"`
	ConnectionID string `json:"connectionId"`
	Status       string `json:"status,omitempty"`
	Host         string `json:"host,omitempty"`
}

// StatusUpdate builds a terminal-status-update event.
func StatusUpdate(connectionID, status string) Event {
	return Event{Type: TerminalStatusUpdate, ConnectionID: connectionID, Status: status}
}

// Destroyed builds a terminal:destroyed event.
func Destroyed(connectionID string) Event {
	return Event{Type: TerminalDestroyed, ConnectionID: connectionID}
}

// Connecting builds an ssh-connecting event.
func Connecting(connectionID, host string) Event {
	return Event{Type: SSHConnecting, ConnectionID: connectionID, Host: host}
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}

const defaultDepth = 256

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose queue is full misses the event.
type Bus struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
	depth  int
	logger *slog.Logger
}

// NewBus constructs a Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[chan Event]struct{}),
		depth:  defaultDepth,
		logger: logger,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel func.
// Cancel closes the channel and is safe to call more than once. Subscribing
// to a closed bus returns an already closed channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	b.logger.Debug("event subscriber added", "subscribers", count)

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish implements Publisher.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.Debug("events dropped", "type", event.Type, "connection_id", event.ConnectionID, "count", dropped)
	}
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
