package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-webssh/internal/domain"
	"github.com/ashureev/shsh-webssh/internal/tabs"
	"github.com/ashureev/shsh-webssh/internal/terminal"
	"github.com/ashureev/shsh-webssh/internal/workspace"
)

type tabView struct {
	Index  int             `json:"index"`
	Tab    domain.Tab      `json:"tab"`
	Refs   int             `json:"refs"`
	Status terminal.Status `json:"status,omitempty"`
}

type tabsResponse struct {
	Tabs        []tabView `json:"tabs"`
	ActiveIndex int       `json:"activeIndex"`
}

func tabsOf(ws *workspace.Workspace) tabsResponse {
	list := ws.Tabs.Tabs()
	out := tabsResponse{Tabs: make([]tabView, 0, len(list)), ActiveIndex: ws.Tabs.ActiveIndex()}
	for i, t := range list {
		v := tabView{Index: i, Tab: t}
		if id := t.ConnectionID(); id != "" {
			v.Refs = ws.Tabs.RefCount(id)
			v.Status = ws.Terminals.Status(id)
		}
		out.Tabs = append(out.Tabs, v)
	}
	return out
}

// ListTabs returns the ordered tab list.
func (h *Handler) ListTabs(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	JSON(w, http.StatusOK, tabsOf(ws))
}

type openTabRequest struct {
	Type         domain.TabType `json:"type"`
	Title        string         `json:"title"`
	Path         string         `json:"path"`
	ConnectionID string         `json:"connectionId"`
	// NewSession opens another remote session against the same catalog
	// entry instead of sharing the existing one.
	NewSession bool `json:"newSession"`
}

// OpenTab opens a tab. Terminal tabs start their session right away in
// the workspace's parking container; a viewer mounts it later.
func (h *Handler) OpenTab(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	var req openTabRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = domain.TabTerminal
	}

	if req.Type != domain.TabTerminal {
		idx, err := ws.Tabs.OpenTab(domain.Tab{
			Title: req.Title,
			Type:  req.Type,
			Path:  req.Path,
			Data:  domain.TabData{ConnectionID: req.ConnectionID},
		})
		if err != nil {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		JSON(w, http.StatusCreated, map[string]any{"index": idx, "tabs": tabsOf(ws)})
		return
	}

	connectionID := req.ConnectionID
	var (
		idx int
		ok  bool
		err error
	)
	if req.NewSession {
		connectionID, idx, ok, err = ws.Tabs.OpenNewSession(r.Context(), req.ConnectionID, req.Title, nil)
	} else {
		idx, ok, err = ws.Tabs.OpenTerminalTab(r.Context(), connectionID, req.Title, nil)
	}
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		slog.Info("Terminal tab opened without a ready terminal", "user_id", ws.UserID, "connection_id", connectionID, "status", ws.Terminals.Status(connectionID))
	}
	JSON(w, http.StatusCreated, map[string]any{
		"index":        idx,
		"connectionId": connectionID,
		"ready":        ok,
		"status":       ws.Terminals.Status(connectionID),
		"tabs":         tabsOf(ws),
	})
}

func tabIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid tab index")
		return 0, false
	}
	return idx, true
}

func tabError(w http.ResponseWriter, err error) {
	if errors.Is(err, tabs.ErrIndexOutOfRange) {
		Error(w, http.StatusNotFound, err.Error())
		return
	}
	Error(w, http.StatusInternalServerError, err.Error())
}

// CloseTab closes a tab, disconnecting its terminal when no other tab
// references it.
func (h *Handler) CloseTab(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	idx, ok := tabIndex(w, r)
	if !ok {
		return
	}
	if err := ws.Tabs.CloseTab(r.Context(), idx); err != nil {
		tabError(w, err)
		return
	}
	JSON(w, http.StatusOK, tabsOf(ws))
}

// ActivateTab switches the active tab.
func (h *Handler) ActivateTab(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	idx, ok := tabIndex(w, r)
	if !ok {
		return
	}
	if err := ws.Tabs.Activate(idx); err != nil {
		tabError(w, err)
		return
	}
	JSON(w, http.StatusOK, tabsOf(ws))
}

// MoveTab reorders a tab.
func (h *Handler) MoveTab(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := ws.Tabs.Move(req.From, req.To); err != nil {
		tabError(w, err)
		return
	}
	JSON(w, http.StatusOK, tabsOf(ws))
}
