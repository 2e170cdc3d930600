package tabs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/shsh-webssh/internal/domain"
	"github.com/ashureev/shsh-webssh/internal/terminal"
)

type fakeTerminals struct {
	mu          sync.Mutex
	inits       []string
	disconnects []string
	refreshes   []string
	live        map[string]bool
	initErr     error
	hang        chan struct{}
}

func newFakeTerminals() *fakeTerminals {
	return &fakeTerminals{live: map[string]bool{}}
}

func (f *fakeTerminals) Init(_ context.Context, id string, c terminal.Container) (bool, error) {
	if c == nil {
		return false, terminal.ErrNilContainer
	}
	if f.initErr != nil {
		return false, f.initErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits = append(f.inits, id)
	f.live[id] = true
	return true, nil
}

func (f *fakeTerminals) Disconnect(_ context.Context, id string) bool {
	if f.hang != nil {
		<-f.hang
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, id)
	delete(f.live, id)
	return true
}

func (f *fakeTerminals) Exists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[id]
}

func (f *fakeTerminals) RemoteSessionID(id string) string {
	return "remote-" + id
}

func (f *fakeTerminals) PublishStatus(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, id)
}

func (f *fakeTerminals) disconnected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnects...)
}

type fakeSessions struct {
	mu      sync.Mutex
	active  string
	aliases map[string]string
}

func (s *fakeSessions) Alias(working, catalog string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aliases == nil {
		s.aliases = map[string]string{}
	}
	s.aliases[working] = catalog
}

func (s *fakeSessions) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
}

type fakeReleaser struct {
	released chan string
}

func (r *fakeReleaser) ReleaseResources(_ context.Context, id string) error {
	r.released <- id
	return nil
}

func newCoordinator(t *testing.T, terms *fakeTerminals, opts Options) (*Coordinator, *fakeSessions) {
	t.Helper()
	if opts.Parking == nil {
		opts.Parking = terminal.NewHeadless()
	}
	sessions := &fakeSessions{}
	return NewCoordinator(terms, sessions, &fakeReleaser{released: make(chan string, 4)}, opts), sessions
}

func TestCloseTabDisconnectsOnlyLastReference(t *testing.T) {
	terms := newFakeTerminals()
	c, _ := newCoordinator(t, terms, Options{})
	ctx := context.Background()

	if _, ok, err := c.OpenTerminalTab(ctx, "X", "x", nil); err != nil || !ok {
		t.Fatalf("open: ok=%v err=%v", ok, err)
	}
	if _, err := c.OpenTab(domain.Tab{Title: "files", Type: domain.TabSFTP, Data: domain.TabData{ConnectionID: "X"}}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.OpenTerminalTab(ctx, "X", "x again", nil); err != nil {
		t.Fatal(err)
	}
	if got := c.RefCount("X"); got != 3 {
		t.Fatalf("expected 3 refs, got %d", got)
	}

	if err := c.CloseTab(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.CloseTab(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if got := terms.disconnected(); len(got) != 0 {
		t.Fatalf("disconnect must wait for the last tab, got %v", got)
	}
	if len(terms.refreshes) != 2 {
		t.Fatalf("expected a status refresh per skipped disconnect, got %v", terms.refreshes)
	}

	if err := c.CloseTab(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if got := terms.disconnected(); len(got) != 1 || got[0] != "X" {
		t.Fatalf("expected one disconnect of X, got %v", got)
	}
	if c.RefCount("X") != 0 || c.ActiveIndex() != -1 {
		t.Fatalf("expected empty coordinator, refs=%d active=%d", c.RefCount("X"), c.ActiveIndex())
	}
}

func TestClosingLastSFTPTabReleasesOrphanedTerminal(t *testing.T) {
	terms := newFakeTerminals()
	c, _ := newCoordinator(t, terms, Options{})
	ctx := context.Background()

	_, _, _ = c.OpenTerminalTab(ctx, "X", "x", nil)
	_, _ = c.OpenTab(domain.Tab{Type: domain.TabSFTP, Data: domain.TabData{ConnectionID: "X"}})

	_ = c.CloseTab(ctx, 0)
	if len(terms.disconnected()) != 0 {
		t.Fatal("sftp tab still references X")
	}
	_ = c.CloseTab(ctx, 0)
	if got := terms.disconnected(); len(got) != 1 {
		t.Fatalf("expected X to be released with its last tab, got %v", got)
	}
}

func TestCloseTabForcesReleaseOnTimeout(t *testing.T) {
	terms := newFakeTerminals()
	terms.hang = make(chan struct{})
	defer close(terms.hang)

	sessions := &fakeSessions{}
	rel := &fakeReleaser{released: make(chan string, 1)}
	c := NewCoordinator(terms, sessions, rel, Options{
		DisconnectTimeout: 20 * time.Millisecond,
		Parking:           terminal.NewHeadless(),
	})
	ctx := context.Background()
	_, _, _ = c.OpenTerminalTab(ctx, "X", "x", nil)

	start := time.Now()
	if err := c.CloseTab(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("CloseTab should not wait for a hung disconnect")
	}
	select {
	case id := <-rel.released:
		if id != "remote-X" {
			t.Fatalf("released %q", id)
		}
	default:
		t.Fatal("expected forced release")
	}
}

func TestOpenTerminalTabRollsBackOnPreconditionError(t *testing.T) {
	terms := newFakeTerminals()
	terms.initErr = terminal.ErrContainerClosed
	c, _ := newCoordinator(t, terms, Options{})

	_, _, err := c.OpenTerminalTab(context.Background(), "X", "", nil)
	if !errors.Is(err, terminal.ErrContainerClosed) {
		t.Fatalf("expected ErrContainerClosed, got %v", err)
	}
	if len(c.Tabs()) != 0 || c.RefCount("X") != 0 {
		t.Fatal("failed open must not leave a tab behind")
	}

	if _, _, err := c.OpenTerminalTab(context.Background(), "", "", nil); !errors.Is(err, terminal.ErrEmptyConnectionID) {
		t.Fatalf("expected ErrEmptyConnectionID, got %v", err)
	}
}

func TestOpenNewSessionAliasesCatalogEntry(t *testing.T) {
	terms := newFakeTerminals()
	c, sessions := newCoordinator(t, terms, Options{})

	id, idx, ok, err := c.OpenNewSession(context.Background(), "prod", "prod #2", nil)
	if err != nil || !ok || idx != 0 {
		t.Fatalf("unexpected result id=%s idx=%d ok=%v err=%v", id, idx, ok, err)
	}
	if id == "prod" || sessions.aliases[id] != "prod" {
		t.Fatalf("expected fresh working id aliased to prod, got %q (%v)", id, sessions.aliases)
	}
	if sessions.active != id {
		t.Fatalf("expected active session %q, got %q", id, sessions.active)
	}
}

func TestActivateAndMoveKeepActiveTab(t *testing.T) {
	terms := newFakeTerminals()
	c, sessions := newCoordinator(t, terms, Options{})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, _, _ = c.OpenTerminalTab(ctx, id, id, nil)
	}

	if err := c.Activate(1); err != nil {
		t.Fatal(err)
	}
	if sessions.active != "b" {
		t.Fatalf("expected active b, got %q", sessions.active)
	}
	if err := c.Move(1, 2); err != nil {
		t.Fatal(err)
	}
	if c.ActiveIndex() != 2 || c.Tabs()[2].ConnectionID() != "b" {
		t.Fatalf("active tab lost after move: %d %+v", c.ActiveIndex(), c.Tabs())
	}
	if err := c.Move(0, 2); err != nil {
		t.Fatal(err)
	}
	if c.Tabs()[c.ActiveIndex()].ConnectionID() != "b" {
		t.Fatalf("active tab lost after move: %+v", c.Tabs())
	}
	if err := c.Activate(9); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := c.Move(0, 9); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestCloseTabAdjustsActiveIndex(t *testing.T) {
	terms := newFakeTerminals()
	c, sessions := newCoordinator(t, terms, Options{})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, _, _ = c.OpenTerminalTab(ctx, id, id, nil)
	}
	_ = c.Activate(2)

	_ = c.CloseTab(ctx, 0)
	if c.ActiveIndex() != 1 || sessions.active != "c" {
		t.Fatalf("expected c to stay active, index=%d active=%q", c.ActiveIndex(), sessions.active)
	}
	_ = c.CloseTab(ctx, 1)
	if c.ActiveIndex() != 0 || sessions.active != "b" {
		t.Fatalf("expected b to become active, index=%d active=%q", c.ActiveIndex(), sessions.active)
	}
	if err := c.CloseTab(ctx, 5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestCloseAll(t *testing.T) {
	terms := newFakeTerminals()
	c, _ := newCoordinator(t, terms, Options{})
	ctx := context.Background()
	_, _, _ = c.OpenTerminalTab(ctx, "a", "", nil)
	_, _, _ = c.OpenTerminalTab(ctx, "b", "", nil)
	_, _ = c.OpenTab(domain.Tab{Type: domain.TabSettings, Title: "settings"})

	c.CloseAll(ctx)
	if len(c.Tabs()) != 0 {
		t.Fatal("expected no tabs")
	}
	if got := terms.disconnected(); len(got) != 2 {
		t.Fatalf("expected both terminals disconnected, got %v", got)
	}
}

func TestOpenTabRejectsTerminalAndUnknownTypes(t *testing.T) {
	c, _ := newCoordinator(t, newFakeTerminals(), Options{})
	if _, err := c.OpenTab(domain.Tab{Type: domain.TabTerminal}); !errors.Is(err, ErrInvalidTab) {
		t.Fatalf("expected ErrInvalidTab, got %v", err)
	}
	if _, err := c.OpenTab(domain.Tab{Type: "bogus"}); !errors.Is(err, ErrInvalidTab) {
		t.Fatalf("expected ErrInvalidTab, got %v", err)
	}
}
