package remote

import "sync"

const defaultScrollbackSize = 64 * 1024

// Scrollback is a fixed-size ring of terminal output. When full, the oldest
// bytes are overwritten, so commands like `yes` cannot grow it without bound.
type Scrollback struct {
	mu   sync.RWMutex
	buf  []byte
	head int // next write position
	n    int // bytes held
}

// NewScrollback creates a ring of the given size; non-positive means 64KiB.
func NewScrollback(size int) *Scrollback {
	if size <= 0 {
		size = defaultScrollbackSize
	}
	return &Scrollback{buf: make([]byte, size)}
}

// Write implements io.Writer and never fails.
func (s *Scrollback) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := len(p)
	size := len(s.buf)
	if len(p) >= size {
		p = p[len(p)-size:]
		copy(s.buf, p)
		s.head = 0
		s.n = size
		return written, nil
	}
	k := copy(s.buf[s.head:], p)
	if k < len(p) {
		copy(s.buf, p[k:])
	}
	s.head = (s.head + len(p)) % size
	s.n = min(s.n+len(p), size)
	return written, nil
}

// Bytes returns the retained output, oldest first.
func (s *Scrollback) Bytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]byte, s.n)
	start := (s.head - s.n + len(s.buf)) % len(s.buf)
	k := copy(out, s.buf[start:min(start+s.n, len(s.buf))])
	copy(out[k:], s.buf[:s.n-k])
	return out
}

// Len returns the number of retained bytes.
func (s *Scrollback) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

// Reset drops all retained output.
func (s *Scrollback) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = 0
	s.n = 0
}

// Capacity returns the ring size.
func (s *Scrollback) Capacity() int {
	return len(s.buf)
}
