// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/shsh-webssh/internal/domain"
)

// ErrUsernameTaken is returned when claiming a username another user owns.
var ErrUsernameTaken = errors.New("username already taken")

// Repository defines the interface for persisting users, account
// connections and settings.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// ClaimUsername turns an anonymous identity into an account.
	ClaimUsername(ctx context.Context, userID, username string) error

	// ReleaseUsername turns an account back into an anonymous identity.
	ReleaseUsername(ctx context.Context, userID, anonName string) error

	// GetInactiveUsers returns users whose last activity is older than ttl.
	GetInactiveUsers(ctx context.Context, ttl time.Duration) ([]*domain.User, error)

	// ListConnections returns a user's account connections ordered by name.
	// Secret fields hold sealed values.
	ListConnections(ctx context.Context, userID string) ([]domain.HostConfig, error)

	// GetConnection returns one account connection, or nil if absent.
	GetConnection(ctx context.Context, userID, id string) (*domain.HostConfig, error)

	// SaveConnection creates or replaces an account connection.
	SaveConnection(ctx context.Context, userID string, host domain.HostConfig) error

	// DeleteConnection removes an account connection and reports whether it existed.
	DeleteConnection(ctx context.Context, userID, id string) (bool, error)

	// GetSetting reads a key from the settings table.
	GetSetting(ctx context.Context, key string) (string, bool, error)

	// SetSetting writes a key to the settings table.
	SetSetting(ctx context.Context, key, value string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
