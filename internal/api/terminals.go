package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-webssh/internal/session"
	"github.com/ashureev/shsh-webssh/internal/terminal"
)

type terminalView struct {
	terminal.EntryInfo
	Refs    int                   `json:"refs"`
	Viewing bool                  `json:"viewing"`
	Viewer  *terminal.ViewerStats `json:"viewer,omitempty"`
	Session *session.Record       `json:"session,omitempty"`
}

// ListTerminals describes every terminal entry of the workspace.
func (h *Handler) ListTerminals(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	snap := ws.Terminals.Snapshot()
	out := make([]terminalView, 0, len(snap))
	for _, e := range snap {
		out = append(out, h.terminalView(ws.UserID, e, ws.Tabs.RefCount(e.ConnectionID), nil))
	}
	JSON(w, http.StatusOK, map[string]any{
		"terminals": out,
		"active":    ws.Sessions.Active(),
	})
}

func (h *Handler) terminalView(userID string, e terminal.EntryInfo, refs int, rec *session.Record) terminalView {
	v := terminalView{EntryInfo: e, Refs: refs, Session: rec}
	if h.viewers == nil {
		return v
	}
	if viewer := h.viewers.Get(userID, e.ConnectionID); viewer != nil {
		stats := viewer.Stats()
		v.Viewing, v.Viewer = true, &stats
	}
	return v
}

// GetTerminal returns one terminal entry with its session record.
func (h *Handler) GetTerminal(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	id := chi.URLParam(r, "id")
	if !ws.Terminals.Exists(id) {
		Error(w, http.StatusNotFound, "terminal not found")
		return
	}
	e := terminal.EntryInfo{
		ConnectionID:    id,
		Status:          ws.Terminals.Status(id),
		RemoteSessionID: ws.Terminals.RemoteSessionID(id),
	}
	var rec *session.Record
	if got, ok := ws.Sessions.Get(id); ok {
		rec = &got
		e.Host = got.Host.Label()
	}
	JSON(w, http.StatusOK, h.terminalView(ws.UserID, e, ws.Tabs.RefCount(id), rec))
}

// DisconnectTerminal tears a terminal down regardless of the tabs that
// reference it. The tabs stay open and show the disposed state.
func (h *Handler) DisconnectTerminal(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	id := chi.URLParam(r, "id")
	clean := ws.Terminals.Disconnect(r.Context(), id)
	JSON(w, http.StatusOK, map[string]any{
		"connectionId": id,
		"disconnected": clean,
		"status":       ws.Terminals.Status(id),
	})
}

// ReconnectTerminal rebuilds the remote session of a terminal, mounting it
// in the open viewer when there is one.
func (h *Handler) ReconnectTerminal(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	id := chi.URLParam(r, "id")

	var c terminal.Container = ws.Parking()
	if h.viewers != nil {
		if v := h.viewers.Get(ws.UserID, id); v != nil {
			c = v
		}
	}

	ok, err := ws.Terminals.Reconnect(r.Context(), id, c)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, terminal.ErrEmptyConnectionID) || errors.Is(err, terminal.ErrNilContainer) || errors.Is(err, terminal.ErrContainerClosed) {
			status = http.StatusBadRequest
		}
		Error(w, status, err.Error())
		return
	}
	code := http.StatusOK
	if !ok && ws.Terminals.IsBusy(id) {
		code = http.StatusConflict
	}
	JSON(w, code, map[string]any{
		"connectionId":    id,
		"ready":           ok,
		"status":          ws.Terminals.Status(id),
		"remoteSessionId": ws.Terminals.RemoteSessionID(id),
	})
}
