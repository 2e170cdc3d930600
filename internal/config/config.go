// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces every variable, e.g. SHSH_PORT. Nested sections add
// their own segment: SHSH_TERMINAL_DISCONNECT_TIMEOUT, SHSH_WORKSPACE_TTL,
// SHSH_SHELL_DOCKER_ENABLED.
const envPrefix = "SHSH"

// Config holds all application configuration.
type Config struct {
	Port            string `envconfig:"PORT" default:"8080"`
	FrontendURL     string `envconfig:"FRONTEND_URL" default:""`
	DBPath          string `envconfig:"DB_PATH" default:"./data/webssh.db"`
	LocalCatalogDir string `envconfig:"LOCAL_CATALOG_DIR" default:"./data/catalogs"`
	SecretKey       string `envconfig:"SECRET_KEY" default:""`

	Terminal  TerminalConfig
	Workspace WorkspaceConfig
	Shell     ShellConfig
}

// TerminalConfig tunes the terminal session lifecycle.
type TerminalConfig struct {
	DisconnectTimeout time.Duration `envconfig:"DISCONNECT_TIMEOUT" default:"5s"`
	SSHDialTimeout    time.Duration `envconfig:"SSH_DIAL_TIMEOUT" default:"10s"`
	ScrollbackBytes   int           `envconfig:"SCROLLBACK_BYTES" default:"65536"`
	InitWaitTimeout   time.Duration `envconfig:"INIT_WAIT_TIMEOUT" default:"10s"`
	InitPollInterval  time.Duration `envconfig:"INIT_POLL_INTERVAL" default:"200ms"`
}

// WorkspaceConfig controls per-identity workspace lifetime.
type WorkspaceConfig struct {
	TTL           time.Duration `envconfig:"TTL" default:"60m"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
}

// ShellConfig enables the non-SSH connectors.
type ShellConfig struct {
	DockerEnabled     bool   `envconfig:"DOCKER_ENABLED" default:"false"`
	LocalShellEnabled bool   `envconfig:"LOCAL_ENABLED" default:"false"`
	LocalShell        string `envconfig:"LOCAL_PATH" default:"/bin/bash"`
	DockerUser        string `envconfig:"DOCKER_USER" default:""`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("SHSH_PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("SHSH_DB_PATH cannot be empty")
	}
	if c.LocalCatalogDir == "" {
		return fmt.Errorf("SHSH_LOCAL_CATALOG_DIR cannot be empty")
	}
	if c.Terminal.DisconnectTimeout <= 0 {
		return fmt.Errorf("SHSH_TERMINAL_DISCONNECT_TIMEOUT must be > 0")
	}
	if c.Terminal.SSHDialTimeout <= 0 {
		return fmt.Errorf("SHSH_TERMINAL_SSH_DIAL_TIMEOUT must be > 0")
	}
	if c.Terminal.ScrollbackBytes <= 0 {
		return fmt.Errorf("SHSH_TERMINAL_SCROLLBACK_BYTES must be > 0")
	}
	if c.Terminal.InitPollInterval <= 0 || c.Terminal.InitWaitTimeout < c.Terminal.InitPollInterval {
		return fmt.Errorf("SHSH_TERMINAL_INIT_WAIT_TIMEOUT must be >= SHSH_TERMINAL_INIT_POLL_INTERVAL > 0")
	}
	if c.Workspace.TTL <= 0 || c.Workspace.SweepInterval <= 0 {
		return fmt.Errorf("SHSH_WORKSPACE_TTL and SHSH_WORKSPACE_SWEEP_INTERVAL must be > 0")
	}
	if c.Shell.LocalShellEnabled && c.Shell.LocalShell == "" {
		return fmt.Errorf("SHSH_SHELL_LOCAL_PATH cannot be empty when the local shell is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
