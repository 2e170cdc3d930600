// Package session keeps the identity of every terminal the workspace has
// opened: which host config it was created from and which catalog entry
// it came from.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/shsh-webssh/internal/catalog"
	"github.com/ashureev/shsh-webssh/internal/domain"
)

// Record describes one working connection id. Host is a private copy.
type Record struct {
	ConnectionID         string            `json:"connectionId"`
	OriginalConnectionID string            `json:"originalConnectionId"`
	Host                 domain.HostConfig `json:"host"`
	Title                string            `json:"title"`
	CreatedAt            time.Time         `json:"createdAt"`
}

// Registry maps working connection ids to records. Safe for concurrent use.
type Registry struct {
	catalog catalog.Catalog
	logger  *slog.Logger

	mu      sync.RWMutex
	records map[string]Record
	aliases map[string]string
	active  string
}

// NewRegistry creates a registry resolving unknown ids through c.
func NewRegistry(c catalog.Catalog, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		catalog: c,
		logger:  logger,
		records: make(map[string]Record),
		aliases: make(map[string]string),
	}
}

// Alias makes workingID resolve to the catalog entry catalogID. Used when
// the same saved connection is opened more than once.
func (r *Registry) Alias(workingID, catalogID string) {
	r.mu.Lock()
	r.aliases[workingID] = catalogID
	r.mu.Unlock()
}

// Record registers a host config under id, replacing any previous record.
func (r *Registry) Record(id, originalID, title string, host domain.HostConfig) Record {
	if originalID == "" {
		originalID = id
	}
	if title == "" {
		title = host.Name
	}
	rec := Record{
		ConnectionID:         id,
		OriginalConnectionID: originalID,
		Host:                 host,
		Title:                title,
		CreatedAt:            time.Now().UTC(),
	}
	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
	return rec
}

// Resolve returns the host config for id. A registered record wins;
// otherwise the catalog is consulted and a hit is registered. Unknown ids
// return nil, nil.
func (r *Registry) Resolve(ctx context.Context, id string) (*domain.HostConfig, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	target := r.aliases[id]
	r.mu.RUnlock()
	if ok {
		host := rec.Host
		return &host, nil
	}

	if target == "" {
		target = id
	}
	if r.catalog == nil {
		return nil, nil
	}
	host, err := r.catalog.GetConnectionByID(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup %s: %w", target, err)
	}
	if host == nil {
		return nil, nil
	}

	r.Record(id, target, "", *host)
	r.logger.Debug("session registered", "connection_id", id, "original_id", target)
	out := *host
	return &out, nil
}

// Get returns the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// List returns every record ordered by creation time.
func (r *Registry) List() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Unregister drops the record and alias for id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.records, id)
	delete(r.aliases, id)
	if r.active == id {
		r.active = ""
	}
	r.mu.Unlock()
}

// SetActive marks id as the session the user is looking at.
func (r *Registry) SetActive(id string) {
	r.mu.Lock()
	r.active = id
	r.mu.Unlock()
}

// Active returns the active id, or "".
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}
