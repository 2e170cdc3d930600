package terminal

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/ashureev/shsh-webssh/internal/domain"
)

type fakeResolver struct {
	mu           sync.Mutex
	hosts        map[string]*domain.HostConfig
	unregistered []string
}

func newFakeResolver(ids ...string) *fakeResolver {
	r := &fakeResolver{hosts: make(map[string]*domain.HostConfig)}
	for _, id := range ids {
		r.hosts[id] = &domain.HostConfig{ID: id, Kind: domain.HostSSH, Host: "10.0.0.1", User: "root"}
	}
	return r
}

func (r *fakeResolver) Resolve(_ context.Context, id string) (*domain.HostConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hosts[id], nil
}

func (r *fakeResolver) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, id)
}

type fakeProvider struct {
	mu       sync.Mutex
	creates  int
	closes   []string
	releases []string
	next     []string

	createErr   error
	terminalErr error
	// gate, when set, blocks CreateSession until closed; entered is
	// signalled once the call is inside.
	gate    chan struct{}
	entered chan struct{}

	surfaces []*fakeSurface
	newSurf  func() *fakeSurface
	// exitEarly makes the shell exit before CreateTerminal returns.
	exitEarly error
}

func (p *fakeProvider) CreateSession(ctx context.Context, _ domain.HostConfig) (string, error) {
	p.mu.Lock()
	p.creates++
	n := p.creates
	gate, entered := p.gate, p.entered
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.createErr != nil {
		return "", p.createErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.next) > 0 {
		id := p.next[0]
		p.next = p.next[1:]
		return id, nil
	}
	return "s" + strconv.Itoa(n), nil
}

func (p *fakeProvider) CreateTerminal(_ context.Context, _ string, c Container, opts Options) (Surface, error) {
	if p.terminalErr != nil {
		return nil, p.terminalErr
	}
	s := &fakeSurface{anchor: NewAnchor(), addon: &fakeAddon{}, onExit: opts.OnExit}
	if p.newSurf != nil {
		s = p.newSurf()
		s.onExit = opts.OnExit
	}
	if s.anchor != nil {
		if err := s.anchor.MoveTo(c); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	p.surfaces = append(p.surfaces, s)
	p.mu.Unlock()
	if p.exitEarly != nil {
		opts.OnExit(p.exitEarly)
	}
	return s, nil
}

func (p *fakeProvider) CloseSession(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes = append(p.closes, id)
	return nil
}

func (p *fakeProvider) ReleaseResources(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases = append(p.releases, id)
	return nil
}

func (p *fakeProvider) createCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

func (p *fakeProvider) closed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.closes...)
}

func (p *fakeProvider) released() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.releases...)
}

type fakeSurface struct {
	mu        sync.Mutex
	anchor    *Anchor
	addon     *fakeAddon
	onExit    func(error)
	written   []byte
	clears    int
	refreshes int
	focuses   int

	disposeErr     error
	disposePanic   bool
	listenersPanic bool
	disposed       int
	destroyed      int
	dropped        bool
}

func (s *fakeSurface) Focus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focuses++
}

func (s *fakeSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
}

func (s *fakeSurface) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
}

func (s *fakeSurface) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, p...)
	return nil
}

func (s *fakeSurface) Anchor() *Anchor { return s.anchor }

func (s *fakeSurface) ResizeAddon() ResizeAddon {
	if s.addon == nil {
		return nil
	}
	return s.addon
}

func (s *fakeSurface) Dispose() error {
	s.mu.Lock()
	s.disposed++
	s.mu.Unlock()
	if s.disposePanic {
		panic("renderer internals changed")
	}
	return s.disposeErr
}

func (s *fakeSurface) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed++
	return nil
}

func (s *fakeSurface) ClearListeners() {
	if s.listenersPanic {
		panic("listener map is nil")
	}
}

func (s *fakeSurface) DropReferences() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = true
}

type fakeAddon struct {
	mu       sync.Mutex
	fits     int
	fitErr   error
	disposed int
}

func (a *fakeAddon) Fit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fits++
	return a.fitErr
}

func (a *fakeAddon) Dispose() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disposed++
	return nil
}

var errProvider = errors.New("auth failed")
