package crypto

import (
	"context"
	"errors"
	"testing"
)

type memSettings map[string]string

func (m memSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memSettings) SetSetting(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func TestLoadSealerGeneratesAndReusesKey(t *testing.T) {
	ctx := context.Background()
	settings := memSettings{}

	first, err := LoadSealer(ctx, settings, "")
	if err != nil {
		t.Fatal(err)
	}
	if settings[SettingKey] == "" {
		t.Fatal("expected key to be persisted")
	}
	sealed, err := first.Seal("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if sealed == "hunter2" {
		t.Fatal("secret was not sealed")
	}

	second, err := LoadSealer(ctx, settings, "")
	if err != nil {
		t.Fatal(err)
	}
	plain, err := second.Open(sealed)
	if err != nil || plain != "hunter2" {
		t.Fatalf("expected hunter2, got %q (%v)", plain, err)
	}
}

func TestSealerEmptyAndInvalid(t *testing.T) {
	s, err := LoadSealer(context.Background(), memSettings{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Seal(""); v != "" {
		t.Fatal("empty secrets stay empty")
	}
	if v, _ := s.Open(""); v != "" {
		t.Fatal("empty tokens stay empty")
	}
	if _, err := s.Open("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewSealerRejectsBadKey(t *testing.T) {
	if _, err := NewSealer("short"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMask(t *testing.T) {
	if Mask("") != "" || Mask("abc") != "****" || Mask("password") != "****word" {
		t.Fatal("unexpected mask output")
	}
}
