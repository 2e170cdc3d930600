package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/shsh-webssh/internal/domain"
)

var safeFileName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type localDocument struct {
	Connections []domain.HostConfig `yaml:"connections"`
}

// LocalDir holds one YAML catalog per anonymous identity.
type LocalDir struct {
	dir    string
	sealer SecretSealer

	mu    sync.Mutex
	files map[string]*LocalFile
}

// NewLocalDir returns catalogs rooted at dir. Secrets are sealed with
// sealer before they are written.
func NewLocalDir(dir string, sealer SecretSealer) *LocalDir {
	return &LocalDir{dir: dir, sealer: sealer, files: make(map[string]*LocalFile)}
}

// For returns the catalog owned by userID. Repeated calls return the same
// catalog so writes for one user are serialized.
func (d *LocalDir) For(userID string) *LocalFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.files[userID]; ok {
		return f
	}
	f := NewLocalFile(filepath.Join(d.dir, fileNameFor(userID)), d.sealer)
	d.files[userID] = f
	return f
}

// Forget drops the cached catalog of userID. The file stays on disk.
func (d *LocalDir) Forget(userID string) {
	d.mu.Lock()
	delete(d.files, userID)
	d.mu.Unlock()
}

func fileNameFor(userID string) string {
	if safeFileName.MatchString(userID) {
		return userID + ".yaml"
	}
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:]) + ".yaml"
}

// LocalFile is the YAML catalog of one anonymous user. The file is read
// on every lookup; secrets are stored sealed.
type LocalFile struct {
	path   string
	sealer SecretSealer
	mu     sync.Mutex
}

// NewLocalFile returns a catalog backed by path. A missing file is an
// empty catalog.
func NewLocalFile(path string, sealer SecretSealer) *LocalFile {
	return &LocalFile{path: path, sealer: sealer}
}

// GetConnectionByID returns a copy of the matching entry with secrets
// opened.
func (l *LocalFile) GetConnectionByID(_ context.Context, id string) (*domain.HostConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	for _, h := range doc.Connections {
		if h.ID != id {
			continue
		}
		if h.Secret, err = l.sealer.Open(h.Secret); err != nil {
			return nil, fmt.Errorf("open secrets for %s: %w", id, err)
		}
		if h.Passphrase, err = l.sealer.Open(h.Passphrase); err != nil {
			return nil, fmt.Errorf("open secrets for %s: %w", id, err)
		}
		return &h, nil
	}
	return nil, nil
}

// List returns all entries ordered by name. Secrets are left sealed.
func (l *LocalFile) List(_ context.Context) ([]domain.HostConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	out := append([]domain.HostConfig(nil), doc.Connections...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save seals secrets and adds or replaces an entry.
func (l *LocalFile) Save(_ context.Context, host domain.HostConfig) error {
	if err := host.Validate(); err != nil {
		return err
	}
	if host.CreatedAt.IsZero() {
		host.CreatedAt = time.Now().UTC()
	}
	var err error
	if host.Secret, err = l.sealer.Seal(host.Secret); err != nil {
		return err
	}
	if host.Passphrase, err = l.sealer.Seal(host.Passphrase); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range doc.Connections {
		if doc.Connections[i].ID == host.ID {
			doc.Connections[i] = host
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Connections = append(doc.Connections, host)
	}
	return l.write(doc)
}

// Delete removes an entry.
func (l *LocalFile) Delete(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return err
	}
	for i := range doc.Connections {
		if doc.Connections[i].ID == id {
			doc.Connections = append(doc.Connections[:i], doc.Connections[i+1:]...)
			return l.write(doc)
		}
	}
	return ErrNotFound
}

func (l *LocalFile) load() (*localDocument, error) {
	doc := &localDocument{}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local catalog: %w", err)
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse local catalog %s: %w", l.path, err)
	}
	return doc, nil
}

// write replaces the file atomically.
func (l *LocalFile) write(doc *localDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode local catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write local catalog: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace local catalog: %w", err)
	}
	return nil
}
