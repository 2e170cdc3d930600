package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/shsh-webssh/internal/catalog"
	"github.com/ashureev/shsh-webssh/internal/domain"
)

// connectionView is a host config as the browser sees it. Secrets never
// leave the server.
type connectionView struct {
	domain.HostConfig
	HasSecret bool   `json:"has_secret"`
	Source    string `json:"source"`
}

func viewOf(h domain.HostConfig, loggedIn bool) connectionView {
	source := "local"
	if loggedIn {
		source = "account"
	}
	return connectionView{HostConfig: h, HasSecret: h.Secret != "", Source: source}
}

// connectionRequest carries the secret fields HostConfig hides from JSON.
type connectionRequest struct {
	domain.HostConfig
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// ListConnections lists the catalog in effect for the caller.
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	list, err := ws.Catalog.Current().List(r.Context())
	if err != nil {
		slog.Error("Failed to list connections", "error", err, "user_id", ws.UserID)
		Error(w, http.StatusInternalServerError, "failed to list connections")
		return
	}
	out := make([]connectionView, 0, len(list))
	for _, c := range list {
		out = append(out, viewOf(c, ws.LoggedIn()))
	}
	JSON(w, http.StatusOK, out)
}

// GetConnection returns one connection.
func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	c, err := ws.Catalog.GetConnectionByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		slog.Error("Failed to get connection", "error", err, "user_id", ws.UserID)
		Error(w, http.StatusInternalServerError, "failed to get connection")
		return
	}
	if c == nil {
		Error(w, http.StatusNotFound, "connection not found")
		return
	}
	JSON(w, http.StatusOK, viewOf(*c, ws.LoggedIn()))
}

// SaveConnection creates or replaces a connection. Open terminals are not
// affected; they keep the config they were created from.
func (h *Handler) SaveConnection(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	var req connectionRequest
	if !decode(w, r, &req) {
		return
	}
	host := req.HostConfig
	host.Secret, host.Passphrase = req.Secret, req.Passphrase
	if strings.TrimSpace(host.ID) == "" {
		host.ID = uuid.NewString()
	}
	if host.Name == "" {
		host.Name = host.Label()
	}

	if err := host.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := ws.Catalog.Current().Save(r.Context(), host); err != nil {
		slog.Error("Failed to save connection", "error", err, "user_id", ws.UserID)
		Error(w, http.StatusInternalServerError, "failed to save connection")
		return
	}
	JSON(w, http.StatusCreated, viewOf(host, ws.LoggedIn()))
}

// DeleteConnection removes a connection from the catalog.
func (h *Handler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	err := ws.Catalog.Current().Delete(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		Error(w, http.StatusNotFound, "connection not found")
	case err != nil:
		slog.Error("Failed to delete connection", "error", err, "user_id", ws.UserID)
		Error(w, http.StatusInternalServerError, "failed to delete connection")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
