// Package api provides HTTP handlers for the web SSH API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-webssh/internal/config"
	"github.com/ashureev/shsh-webssh/internal/container"
	"github.com/ashureev/shsh-webssh/internal/domain"
	"github.com/ashureev/shsh-webssh/internal/identity"
	"github.com/ashureev/shsh-webssh/internal/remote"
	"github.com/ashureev/shsh-webssh/internal/terminal"
	"github.com/ashureev/shsh-webssh/internal/workspace"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Users is the slice of the repository the API needs.
type Users interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ClaimUsername(ctx context.Context, userID, username string) error
	ReleaseUsername(ctx context.Context, userID, anonName string) error
	Ping(ctx context.Context) error
}

// Remotes reports what the remote session provider supports and holds.
type Remotes interface {
	Kinds() []domain.HostKind
	Sessions() []remote.SessionInfo
}

// Handler serves the JSON API of one server.
type Handler struct {
	users      Users
	workspaces *workspace.Manager
	viewers    *terminal.ViewerSet
	containers container.Manager
	remotes    Remotes
	cfg        *config.Config
}

// NewHandler creates a new Handler. containers may be nil when the docker
// connector is disabled.
func NewHandler(users Users, workspaces *workspace.Manager, viewers *terminal.ViewerSet, containers container.Manager, remotes Remotes, cfg *config.Config) *Handler {
	return &Handler{
		users:      users,
		workspaces: workspaces,
		viewers:    viewers,
		containers: containers,
		remotes:    remotes,
		cfg:        cfg,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Put("/me", h.UpdateMe)
		r.Get("/config", h.GetConfig)
		r.Get("/events", h.Events)
		r.Get("/containers", h.ListContainers)

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", h.ListConnections)
			r.Post("/", h.SaveConnection)
			r.Get("/{id}", h.GetConnection)
			r.Delete("/{id}", h.DeleteConnection)
		})

		r.Route("/tabs", func(r chi.Router) {
			r.Get("/", h.ListTabs)
			r.Post("/", h.OpenTab)
			r.Post("/move", h.MoveTab)
			r.Delete("/{index}", h.CloseTab)
			r.Post("/{index}/activate", h.ActivateTab)
		})

		r.Route("/terminals", func(r chi.Router) {
			r.Get("/", h.ListTerminals)
			r.Get("/{id}", h.GetTerminal)
			r.Delete("/{id}", h.DisconnectTerminal)
			r.Post("/{id}/reconnect", h.ReconnectTerminal)
		})
	})
	r.Get("/health", h.Health)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// workspace returns the caller's workspace. It writes a 401 and returns nil
// when the request has no identity.
func (h *Handler) workspace(w http.ResponseWriter, r *http.Request) *workspace.Workspace {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	return h.workspaces.Get(user.UserID, user.LoggedIn())
}
