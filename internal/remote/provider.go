package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/shsh-webssh/internal/domain"
	"github.com/ashureev/shsh-webssh/internal/terminal"
	"github.com/google/uuid"
)

// ErrUnknownSession is returned for session ids the provider does not hold.
var ErrUnknownSession = errors.New("unknown remote session")

type session struct {
	id        string
	kind      domain.HostKind
	label     string
	link      Link
	surface   *Surface
	opening   bool
	closed    bool
	createdAt time.Time
}

// SessionInfo describes a live remote session.
type SessionInfo struct {
	ID        string          `json:"id"`
	Kind      domain.HostKind `json:"kind"`
	Host      string          `json:"host"`
	Attached  bool            `json:"attached"`
	Closed    bool            `json:"closed"`
	CreatedAt time.Time       `json:"createdAt"`
	FocusedAt time.Time       `json:"focusedAt,omitempty"`
}

// Provider implements terminal.Provider on top of per-kind connectors. It is
// shared by every workspace; session ids are unique across all of them.
type Provider struct {
	logger *slog.Logger

	mu         sync.Mutex
	connectors map[domain.HostKind]Connector
	sessions   map[string]*session
}

// NewProvider creates a provider with no connectors.
func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		logger:     logger,
		connectors: make(map[domain.HostKind]Connector),
		sessions:   make(map[string]*session),
	}
}

// Register enables a connector for a host kind.
func (p *Provider) Register(kind domain.HostKind, c Connector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectors[kind] = c
}

// Kinds returns the enabled host kinds.
func (p *Provider) Kinds() []domain.HostKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]domain.HostKind, 0, len(p.connectors))
	for k := range p.connectors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// CreateSession authenticates against host and returns a new session id.
func (p *Provider) CreateSession(ctx context.Context, host domain.HostConfig) (string, error) {
	p.mu.Lock()
	conn := p.connectors[host.Kind]
	p.mu.Unlock()
	if conn == nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, host.Kind)
	}

	link, err := conn.Dial(ctx, host)
	if err != nil {
		return "", err
	}

	s := &session{
		id:        uuid.NewString(),
		kind:      host.Kind,
		label:     host.Label(),
		link:      link,
		createdAt: time.Now(),
	}
	p.mu.Lock()
	p.sessions[s.id] = s
	p.mu.Unlock()

	p.logger.Info("Remote session created", "session_id", s.id, "host", s.label, "kind", s.kind)
	return s.id, nil
}

// CreateTerminal opens a shell on the session and mounts its surface in c.
func (p *Provider) CreateTerminal(ctx context.Context, sessionID string, c terminal.Container, opts terminal.Options) (terminal.Surface, error) {
	p.mu.Lock()
	s := p.sessions[sessionID]
	switch {
	case s == nil || s.closed:
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	case s.surface != nil || s.opening:
		p.mu.Unlock()
		return nil, fmt.Errorf("session %s already has a terminal", sessionID)
	}
	s.opening = true
	p.mu.Unlock()

	fail := func(err error) (terminal.Surface, error) {
		p.mu.Lock()
		s.opening = false
		p.mu.Unlock()
		return nil, err
	}

	cols, rows := clamp(opts.Cols), clamp(opts.Rows)
	sh, err := s.link.OpenShell(ctx, cols, rows)
	if err != nil {
		return fail(err)
	}

	surface := newSurface(sessionID, sh, opts, p.logger)
	if err := surface.anchor.MoveTo(c); err != nil {
		_ = sh.Close()
		return fail(fmt.Errorf("mount terminal: %w", err))
	}
	surface.addon.cols, surface.addon.rows = cols, rows

	p.mu.Lock()
	s.opening = false
	if s.closed {
		p.mu.Unlock()
		surface.anchor.Remove()
		_ = sh.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	s.surface = surface
	p.mu.Unlock()

	surface.start()
	return surface, nil
}

// CloseSession stops the shell and closes the link. Closing an unknown or
// already closed session is not an error.
func (p *Provider) CloseSession(_ context.Context, sessionID string) error {
	p.mu.Lock()
	s := p.sessions[sessionID]
	if s == nil || s.closed {
		p.mu.Unlock()
		return nil
	}
	s.closed = true
	p.mu.Unlock()

	return p.closeSession(s)
}

func (p *Provider) closeSession(s *session) error {
	var errs []error
	if s.surface != nil {
		if err := s.surface.Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("close shell: %w", err))
		}
	}
	if err := s.link.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close link: %w", err))
	}
	p.logger.Info("Remote session closed", "session_id", s.id, "host", s.label)
	return errors.Join(errs...)
}

// ReleaseResources forgets the session, closing it first if needed. It is
// idempotent and safe to call without a prior CloseSession.
func (p *Provider) ReleaseResources(_ context.Context, sessionID string) error {
	p.mu.Lock()
	s := p.sessions[sessionID]
	delete(p.sessions, sessionID)
	wasClosed := s == nil || s.closed
	if s != nil {
		s.closed = true
	}
	p.mu.Unlock()

	if wasClosed {
		return nil
	}
	p.logger.Debug("Releasing unclosed remote session", "session_id", sessionID)
	return p.closeSession(s)
}

// Sessions describes every held session, oldest first.
func (p *Provider) Sessions() []SessionInfo {
	p.mu.Lock()
	out := make([]SessionInfo, 0, len(p.sessions))
	for _, s := range p.sessions {
		info := SessionInfo{
			ID:        s.id,
			Kind:      s.kind,
			Host:      s.label,
			Closed:    s.closed,
			CreatedAt: s.createdAt,
		}
		if s.surface != nil {
			info.Attached = s.surface.anchor.Attached()
			info.FocusedAt = s.surface.FocusedAt()
		}
		out = append(out, info)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close releases every session.
func (p *Provider) Close(ctx context.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		if err := p.ReleaseResources(ctx, id); err != nil {
			p.logger.Warn("Failed to release remote session", "session_id", id, "error", err)
		}
	}
}

var _ terminal.Provider = (*Provider)(nil)
