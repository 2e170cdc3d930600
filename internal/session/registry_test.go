package session

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/shsh-webssh/internal/domain"
)

type mapCatalog struct {
	hosts map[string]domain.HostConfig
	calls int
	err   error
}

func (m *mapCatalog) GetConnectionByID(_ context.Context, id string) (*domain.HostConfig, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	h, ok := m.hosts[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func newCatalog() *mapCatalog {
	return &mapCatalog{hosts: map[string]domain.HostConfig{
		"prod": {ID: "prod", Name: "Production", Kind: domain.HostSSH, Host: "10.0.0.1", User: "ops"},
	}}
}

func TestResolveRegistersCatalogHit(t *testing.T) {
	cat := newCatalog()
	r := NewRegistry(cat, nil)

	h, err := r.Resolve(context.Background(), "prod")
	if err != nil || h == nil {
		t.Fatalf("expected host, got %v (%v)", h, err)
	}
	rec, ok := r.Get("prod")
	if !ok || rec.Title != "Production" || rec.OriginalConnectionID != "prod" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Second resolve is served from the record.
	if _, err := r.Resolve(context.Background(), "prod"); err != nil {
		t.Fatal(err)
	}
	if cat.calls != 1 {
		t.Fatalf("expected 1 catalog call, got %d", cat.calls)
	}
}

func TestResolveReturnsCopies(t *testing.T) {
	r := NewRegistry(newCatalog(), nil)
	h, _ := r.Resolve(context.Background(), "prod")
	h.Host = "tampered"

	again, _ := r.Resolve(context.Background(), "prod")
	if again.Host != "10.0.0.1" {
		t.Fatalf("record was mutated through a returned pointer: %q", again.Host)
	}
}

func TestResolveFollowsAlias(t *testing.T) {
	r := NewRegistry(newCatalog(), nil)
	r.Alias("work-1", "prod")

	h, err := r.Resolve(context.Background(), "work-1")
	if err != nil || h == nil || h.ID != "prod" {
		t.Fatalf("expected aliased host, got %v (%v)", h, err)
	}
	rec, _ := r.Get("work-1")
	if rec.ConnectionID != "work-1" || rec.OriginalConnectionID != "prod" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestResolveUnknownAndError(t *testing.T) {
	cat := newCatalog()
	r := NewRegistry(cat, nil)
	if h, err := r.Resolve(context.Background(), "nope"); h != nil || err != nil {
		t.Fatalf("expected nil, nil; got %v, %v", h, err)
	}

	cat.err = errors.New("disk on fire")
	if _, err := r.Resolve(context.Background(), "other"); err == nil {
		t.Fatal("expected catalog error")
	}
}

func TestUnregisterAndActive(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Record("a", "", "", domain.HostConfig{ID: "a", Name: "A"})
	r.Record("b", "", "B tab", domain.HostConfig{ID: "b"})
	r.SetActive("a")

	if got := len(r.List()); got != 2 {
		t.Fatalf("expected 2 records, got %d", got)
	}
	r.Unregister("a")
	r.Unregister("a")
	if _, ok := r.Get("a"); ok {
		t.Fatal("record should be gone")
	}
	if r.Active() != "" {
		t.Fatal("unregistering the active session should clear it")
	}
	if h, _ := r.Resolve(context.Background(), "a"); h != nil {
		t.Fatal("nil catalog should not resolve unknown ids")
	}
	if rec, _ := r.Get("b"); rec.Title != "B tab" {
		t.Fatalf("unexpected title %q", rec.Title)
	}
}
