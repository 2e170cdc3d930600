package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/shsh-webssh/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLiteStore, id string, lastSeen time.Time) {
	t.Helper()
	now := time.Now()
	if err := s.UpsertUser(context.Background(), &domain.User{
		UserID: id, Username: "anon-" + id, LastSeenAt: lastSeen, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if u, err := s.GetUser(ctx, "missing"); err != nil || u != nil {
		t.Fatalf("expected nil user, got %v, %v", u, err)
	}

	seedUser(t, s, "u1", time.Now())
	u, err := s.GetUser(ctx, "u1")
	if err != nil || u == nil {
		t.Fatalf("get user: %v", err)
	}
	if u.LoggedIn() {
		t.Fatal("new users are anonymous")
	}

	if err := s.ClaimUsername(ctx, "u1", "alice"); err != nil {
		t.Fatal(err)
	}
	u, _ = s.GetUser(ctx, "u1")
	if !u.LoggedIn() || u.Username != "alice" {
		t.Fatalf("expected alice account, got %+v", u)
	}

	seedUser(t, s, "u2", time.Now())
	if err := s.ClaimUsername(ctx, "u2", "alice"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	if err := s.ReleaseUsername(ctx, "u1", "anon-u1"); err != nil {
		t.Fatal(err)
	}
	if err := s.ClaimUsername(ctx, "u2", "alice"); err != nil {
		t.Fatalf("released name should be claimable: %v", err)
	}
}

func TestGetInactiveUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "old", time.Now().Add(-2*time.Hour))
	seedUser(t, s, "fresh", time.Now())

	users, err := s.GetInactiveUsers(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].UserID != "old" {
		t.Fatalf("expected only old user, got %+v", users)
	}
}

func TestConnectionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", time.Now())
	seedUser(t, s, "u2", time.Now())

	h := domain.HostConfig{
		ID: "web", Name: "web server", Kind: domain.HostSSH, Host: "10.0.0.5", Port: 2222,
		User: "deploy", AuthType: domain.AuthPassword, Secret: "sealed-value",
	}
	if err := s.SaveConnection(ctx, "u1", h); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConnection(ctx, "u1", "web")
	if err != nil || got == nil {
		t.Fatalf("get connection: %v", err)
	}
	if got.Host != "10.0.0.5" || got.Port != 2222 || got.Secret != "sealed-value" || got.Kind != domain.HostSSH {
		t.Fatalf("unexpected connection %+v", got)
	}
	if other, _ := s.GetConnection(ctx, "u2", "web"); other != nil {
		t.Fatal("connections must be scoped to their owner")
	}

	h.Name = "renamed"
	if err := s.SaveConnection(ctx, "u1", h); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListConnections(ctx, "u1")
	if err != nil || len(list) != 1 || list[0].Name != "renamed" {
		t.Fatalf("expected one renamed connection, got %+v (%v)", list, err)
	}

	deleted, err := s.DeleteConnection(ctx, "u1", "web")
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, _ = s.DeleteConnection(ctx, "u1", "web")
	if deleted {
		t.Fatal("second delete should report nothing deleted")
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetSetting(ctx, "k"); ok || err != nil {
		t.Fatalf("expected missing setting, got ok=%v err=%v", ok, err)
	}
	if err := s.SetSetting(ctx, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting(ctx, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.GetSetting(ctx, "k")
	if err != nil || !ok || v != "v2" {
		t.Fatalf("expected v2, got %q ok=%v err=%v", v, ok, err)
	}
}
