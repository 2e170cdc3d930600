package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/shsh-webssh/internal/identity"
	"github.com/ashureev/shsh-webssh/internal/store"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,31}$`)

type meResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	LoggedIn bool   `json:"logged_in"`
	Tabs     int    `json:"tabs"`
	Viewers  int    `json:"viewers"`
}

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	resp := meResponse{UserID: user.UserID, Username: user.Username, LoggedIn: user.LoggedIn()}
	if ws, ok := h.workspaces.Lookup(userID); ok {
		resp.Tabs = len(ws.Tabs.Tabs())
	}
	if h.viewers != nil {
		resp.Viewers = h.viewers.Count(userID)
	}
	JSON(w, http.StatusOK, resp)
}

// UpdateMe claims an account name, or releases it when the name is empty.
// Only the catalog lookups that follow are affected; open terminals keep
// the host config they were created from.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if !decode(w, r, &req) {
		return
	}
	name := strings.ToLower(strings.TrimSpace(req.Username))

	ctx := r.Context()
	loggedIn := name != ""
	if loggedIn {
		if !usernamePattern.MatchString(name) {
			Error(w, http.StatusBadRequest, "username must be 3-32 characters of a-z, 0-9, '-' or '_'")
			return
		}
		if err := h.users.ClaimUsername(ctx, userID, name); err != nil {
			if errors.Is(err, store.ErrUsernameTaken) {
				Error(w, http.StatusConflict, "username already taken")
				return
			}
			slog.Error("Failed to claim username", "error", err, "user_id", userID)
			Error(w, http.StatusInternalServerError, "failed to update user")
			return
		}
	} else if err := h.users.ReleaseUsername(ctx, userID, identity.DeriveUsername(userID)); err != nil {
		slog.Error("Failed to release username", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	if ws, ok := h.workspaces.Lookup(userID); ok {
		ws.SetLoggedIn(loggedIn)
	}
	slog.Info("User identity updated", "user_id", userID, "logged_in", loggedIn)
	h.GetMe(w, r)
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"kinds": h.remotes.Kinds(),
	}
	if h.cfg != nil {
		resp["disconnect_timeout_ms"] = h.cfg.Terminal.DisconnectTimeout.Milliseconds()
		resp["init_wait_timeout_ms"] = h.cfg.Terminal.InitWaitTimeout.Milliseconds()
		resp["workspace_ttl_seconds"] = int64(h.cfg.Workspace.TTL.Seconds())
	}
	JSON(w, http.StatusOK, resp)
}

// ListContainers lists running containers for docker connections.
func (h *Handler) ListContainers(w http.ResponseWriter, r *http.Request) {
	if h.containers == nil {
		Error(w, http.StatusNotFound, "docker connector disabled")
		return
	}
	list, err := h.containers.ListRunning(r.Context())
	if err != nil {
		slog.Error("Failed to list containers", "error", err)
		Error(w, http.StatusBadGateway, "failed to list containers")
		return
	}
	JSON(w, http.StatusOK, list)
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status, code := "healthy", http.StatusOK
	if err := h.users.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status, code = "degraded", http.StatusServiceUnavailable
	}
	sessions := h.remotes.Sessions()
	attached := 0
	for _, s := range sessions {
		if s.Attached {
			attached++
		}
	}
	JSON(w, code, map[string]any{
		"status":     status,
		"checks":     checks,
		"workspaces": len(h.workspaces.UserIDs()),
		"remote_sessions": map[string]int{
			"open":     len(sessions),
			"attached": attached,
		},
	})
}
