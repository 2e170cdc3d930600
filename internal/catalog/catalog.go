// Package catalog looks up connection configs by id.
package catalog

import (
	"context"
	"errors"

	"github.com/ashureev/shsh-webssh/internal/domain"
)

// ErrNotFound is returned by Delete when the connection does not exist.
var ErrNotFound = errors.New("connection not found")

// Catalog resolves a connection id to its host config. Unknown ids return
// nil with no error.
type Catalog interface {
	GetConnectionByID(ctx context.Context, id string) (*domain.HostConfig, error)
}

// Editable is a catalog the user can manage.
type Editable interface {
	Catalog
	List(ctx context.Context) ([]domain.HostConfig, error)
	Save(ctx context.Context, host domain.HostConfig) error
	Delete(ctx context.Context, id string) error
}

// Selector picks the account catalog for logged-in users and the local
// file for everyone else. LoggedIn is evaluated on every lookup so a
// claim or release takes effect immediately.
type Selector struct {
	Account  Editable
	Local    Editable
	LoggedIn func() bool
}

// Current returns the catalog in effect.
func (s *Selector) Current() Editable {
	if s.Account != nil && s.LoggedIn != nil && s.LoggedIn() {
		return s.Account
	}
	return s.Local
}

// GetConnectionByID resolves against the catalog in effect.
func (s *Selector) GetConnectionByID(ctx context.Context, id string) (*domain.HostConfig, error) {
	c := s.Current()
	if c == nil {
		return nil, nil
	}
	return c.GetConnectionByID(ctx, id)
}
