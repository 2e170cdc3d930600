// Package crypto seals connection secrets at rest with Fernet tokens.
package crypto

import (
	"context"
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

// SettingKey is the settings entry holding the generated key.
const SettingKey = "fernet_key"

// ErrInvalidToken is returned when a sealed value cannot be opened.
var ErrInvalidToken = errors.New("decrypt: invalid token")

// SettingStore persists the generated key.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Sealer encrypts and authenticates secrets.
type Sealer struct {
	key *fernet.Key
}

// NewSealer builds a sealer from an encoded Fernet key.
func NewSealer(encoded string) (*Sealer, error) {
	key, err := fernet.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// LoadSealer uses the configured key when set. Otherwise it reads the key
// from settings, generating and saving one on first start.
func LoadSealer(ctx context.Context, settings SettingStore, configured string) (*Sealer, error) {
	if configured != "" {
		return NewSealer(configured)
	}

	encoded, ok, err := settings.GetSetting(ctx, SettingKey)
	if err != nil {
		return nil, err
	}
	if ok {
		return NewSealer(encoded)
	}

	var k fernet.Key
	if err := k.Generate(); err != nil {
		return nil, fmt.Errorf("generate fernet key: %w", err)
	}
	if err := settings.SetSetting(ctx, SettingKey, k.Encode()); err != nil {
		return nil, fmt.Errorf("save fernet key: %w", err)
	}
	return &Sealer{key: &k}, nil
}

// Seal encrypts plaintext. The empty string stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), s.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Open decrypts a value produced by Seal. The empty string stays empty.
func (s *Sealer) Open(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{s.key})
	if msg == nil {
		return "", ErrInvalidToken
	}
	return string(msg), nil
}

// Mask hides all but the last four characters of value.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
