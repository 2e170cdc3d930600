// Package eventstest provides an in-memory events.Publisher for tests.
package eventstest

import (
	"sync"

	"github.com/ashureev/shsh-webssh/internal/events"
)

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

// Publish implements events.Publisher.
func (r *Recorder) Publish(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many recorded events have the given type and connection.
func (r *Recorder) Count(typ events.Type, connectionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ && e.ConnectionID == connectionID {
			n++
		}
	}
	return n
}

var _ events.Publisher = (*Recorder)(nil)
