package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// HostKind selects the transport used to reach a host.
type HostKind string

const (
	// HostSSH connects over SSH.
	HostSSH HostKind = "ssh"
	// HostDocker attaches a shell inside a running container.
	HostDocker HostKind = "docker"
	// HostLocal spawns a shell on the server itself.
	HostLocal HostKind = "local"
)

// AuthType selects how an SSH host authenticates the user.
type AuthType string

const (
	AuthPassword   AuthType = "password"
	AuthPrivateKey AuthType = "private_key"
)

// DefaultSSHPort is used when a host config leaves Port unset.
const DefaultSSHPort = 22

// HostConfig describes how to reach one remote shell.
type HostConfig struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Kind        HostKind `json:"kind" yaml:"kind"`
	Host        string   `json:"host,omitempty" yaml:"host,omitempty"`
	Port        int      `json:"port,omitempty" yaml:"port,omitempty"`
	User        string   `json:"user,omitempty" yaml:"user,omitempty"`
	AuthType    AuthType `json:"auth_type,omitempty" yaml:"auth_type,omitempty"`
	Secret      string   `json:"-" yaml:"secret,omitempty"`
	Passphrase  string   `json:"-" yaml:"passphrase,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	ContainerID string   `json:"container_id,omitempty" yaml:"container_id,omitempty"`
	Shell       string   `json:"shell,omitempty" yaml:"shell,omitempty"`
	Group       string   `json:"group,omitempty" yaml:"group,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Address returns host:port for SSH hosts.
func (h HostConfig) Address() string {
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return fmt.Sprintf("%s:%d", h.Host, port)
}

// Label is the human readable target used in notifications.
func (h HostConfig) Label() string {
	switch h.Kind {
	case HostDocker:
		return "docker:" + h.ContainerID
	case HostLocal:
		return "localhost"
	}
	if h.User != "" {
		return h.User + "@" + h.Address()
	}
	return h.Address()
}

// Validate checks that the config carries what its kind needs.
func (h HostConfig) Validate() error {
	if strings.TrimSpace(h.ID) == "" {
		return errors.New("connection id is required")
	}
	switch h.Kind {
	case HostSSH:
		if h.Host == "" {
			return errors.New("host is required")
		}
		if h.User == "" {
			return errors.New("user is required")
		}
		if h.Port < 0 || h.Port > 65535 {
			return fmt.Errorf("port %d out of range", h.Port)
		}
		switch h.AuthType {
		case AuthPassword, AuthPrivateKey:
		default:
			return fmt.Errorf("unsupported auth_type %q", h.AuthType)
		}
	case HostDocker:
		if h.ContainerID == "" {
			return errors.New("container_id is required")
		}
	case HostLocal:
	default:
		return fmt.Errorf("unsupported kind %q", h.Kind)
	}
	return nil
}
