package terminal

import "sync"

// StateTracker is the per-connection state machine plus the init lock.
//
//	Uninitialized -> Initializing -> {Ready, Error}
//	Error -> Initializing
//	Ready -> Initializing        (Reacquire only)
//	{Ready, Error} -> Disposed   (terminal until Forget)
//
// A connection is locked exactly while it is Initializing.
type StateTracker struct {
	mu     sync.Mutex
	states map[string]*lockState
}

type lockState struct {
	status           Status
	disposeRequested bool
}

// NewStateTracker creates an empty tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{states: make(map[string]*lockState)}
}

// TryAcquire locks id for initialization. It returns false and leaves the
// state unchanged unless id is Uninitialized or Error.
func (t *StateTracker) TryAcquire(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[id]
	if st == nil {
		t.states[id] = &lockState{status: StatusInitializing}
		return true
	}
	switch st.status {
	case StatusUninitialized, StatusError:
		st.status = StatusInitializing
		st.disposeRequested = false
		return true
	}
	return false
}

// Reacquire is the explicit re-init path: it locks a Ready or Error id.
func (t *StateTracker) Reacquire(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[id]
	if st == nil {
		return false
	}
	switch st.status {
	case StatusReady, StatusError:
		st.status = StatusInitializing
		st.disposeRequested = false
		return true
	}
	return false
}

// Release ends an initialization with outcome Ready or Error and clears the
// lock. Any other outcome is recorded as Error. Releasing an id that is not
// Initializing is a no-op.
func (t *StateTracker) Release(id string, outcome Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[id]
	if st == nil || st.status != StatusInitializing {
		return
	}
	if outcome != StatusReady {
		outcome = StatusError
	}
	st.status = outcome
}

// IsBusy reports whether an initialization is in flight for id.
func (t *StateTracker) IsBusy(id string) bool {
	return t.State(id) == StatusInitializing
}

// State returns the tracked status of id.
func (t *StateTracker) State(id string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.states[id]; st != nil {
		return st.status
	}
	return StatusUninitialized
}

// Fail moves a Ready id to Error, e.g. when the remote shell exits.
func (t *StateTracker) Fail(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[id]
	if st == nil || st.status != StatusReady {
		return false
	}
	st.status = StatusError
	return true
}

// MarkDisposed moves a Ready or Error id to Disposed.
func (t *StateTracker) MarkDisposed(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[id]
	if st == nil {
		return false
	}
	switch st.status {
	case StatusReady, StatusError:
		st.status = StatusDisposed
		return true
	}
	return false
}

// Forget drops everything known about id so it starts over as
// Uninitialized. An id that is Initializing keeps its lock.
func (t *StateTracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.states[id]; st != nil && st.status == StatusInitializing {
		return
	}
	delete(t.states, id)
}

// RequestDispose records that id should be torn down as soon as its
// in-flight initialization finishes. It returns false if id is not busy.
func (t *StateTracker) RequestDispose(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[id]
	if st == nil || st.status != StatusInitializing {
		return false
	}
	st.disposeRequested = true
	return true
}

// TakeDisposeRequest reports and clears a pending dispose request.
func (t *StateTracker) TakeDisposeRequest(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[id]
	if st == nil || !st.disposeRequested {
		return false
	}
	st.disposeRequested = false
	return true
}
