package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/shsh-webssh/internal/domain"
)

// ConnectionStore is the slice of the repository the account catalog uses.
type ConnectionStore interface {
	ListConnections(ctx context.Context, userID string) ([]domain.HostConfig, error)
	GetConnection(ctx context.Context, userID, id string) (*domain.HostConfig, error)
	SaveConnection(ctx context.Context, userID string, host domain.HostConfig) error
	DeleteConnection(ctx context.Context, userID, id string) (bool, error)
}

// SecretSealer seals secrets before they hit the database.
type SecretSealer interface {
	Seal(plaintext string) (string, error)
	Open(token string) (string, error)
}

// Account is the sqlite catalog of one logged-in user.
type Account struct {
	store  ConnectionStore
	sealer SecretSealer
	userID string
}

// NewAccount scopes store to userID.
func NewAccount(store ConnectionStore, sealer SecretSealer, userID string) *Account {
	return &Account{store: store, sealer: sealer, userID: userID}
}

// GetConnectionByID returns the connection with secrets opened.
func (a *Account) GetConnectionByID(ctx context.Context, id string) (*domain.HostConfig, error) {
	h, err := a.store.GetConnection(ctx, a.userID, id)
	if err != nil || h == nil {
		return nil, err
	}
	if err := a.open(h); err != nil {
		return nil, fmt.Errorf("open secrets for %s: %w", id, err)
	}
	return h, nil
}

// List returns the user's connections. Secrets are left sealed.
func (a *Account) List(ctx context.Context) ([]domain.HostConfig, error) {
	return a.store.ListConnections(ctx, a.userID)
}

// Save seals secrets and stores host.
func (a *Account) Save(ctx context.Context, host domain.HostConfig) error {
	if err := host.Validate(); err != nil {
		return err
	}
	if host.CreatedAt.IsZero() {
		host.CreatedAt = time.Now().UTC()
	}
	var err error
	if host.Secret, err = a.sealer.Seal(host.Secret); err != nil {
		return err
	}
	if host.Passphrase, err = a.sealer.Seal(host.Passphrase); err != nil {
		return err
	}
	return a.store.SaveConnection(ctx, a.userID, host)
}

// Delete removes a connection.
func (a *Account) Delete(ctx context.Context, id string) error {
	ok, err := a.store.DeleteConnection(ctx, a.userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (a *Account) open(h *domain.HostConfig) error {
	var err error
	if h.Secret, err = a.sealer.Open(h.Secret); err != nil {
		return err
	}
	h.Passphrase, err = a.sealer.Open(h.Passphrase)
	return err
}
