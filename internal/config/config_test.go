package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Terminal.DisconnectTimeout != 5*time.Second {
		t.Errorf("expected 5s disconnect timeout, got %v", cfg.Terminal.DisconnectTimeout)
	}
	if cfg.Terminal.ScrollbackBytes != 64*1024 {
		t.Errorf("expected 64KiB scrollback, got %d", cfg.Terminal.ScrollbackBytes)
	}
	if cfg.Workspace.TTL != 60*time.Minute {
		t.Errorf("expected 60m workspace ttl, got %v", cfg.Workspace.TTL)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SHSH_PORT", "9090")
	t.Setenv("SHSH_TERMINAL_DISCONNECT_TIMEOUT", "2s")
	t.Setenv("SHSH_SHELL_LOCAL_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.Terminal.DisconnectTimeout != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.Terminal.DisconnectTimeout)
	}
	if !cfg.Shell.LocalShellEnabled {
		t.Error("expected local shell enabled")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("SHSH_TERMINAL_SCROLLBACK_BYTES", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero scrollback")
	}
}

func TestIsDevelopment(t *testing.T) {
	c := &Config{FrontendURL: "http://localhost:5173"}
	if !c.IsDevelopment() {
		t.Error("localhost frontend should be development")
	}
	c.FrontendURL = "https://ssh.example.com"
	if c.IsDevelopment() {
		t.Error("public frontend should not be development")
	}
}
