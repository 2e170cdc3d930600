package terminal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/shsh-webssh/internal/identity"
	"github.com/coder/websocket"
)

// RegistrySource hands out the terminal registry that belongs to a user.
type RegistrySource interface {
	TerminalRegistry(ctx context.Context, userID string) (*Registry, error)
}

// LastSeenRecorder records user activity.
type LastSeenRecorder interface {
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// WebSocketHandler mounts a user's terminal into a browser pane.
//
//	GET /ws/terminal?connection_id=<id>&cols=<n>&rows=<n>
//
// Closing the socket unmounts the terminal but keeps its remote session;
// sessions are released only when the last tab referencing them closes.
type WebSocketHandler struct {
	source        RegistrySource
	seen          LastSeenRecorder
	viewers       *ViewerSet
	allowedOrigin string
	isDev         bool
	initWait      time.Duration
	initPoll      time.Duration
	logger        *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(source RegistrySource, seen LastSeenRecorder, viewers *ViewerSet, allowedOrigin string, isDev bool, initWait, initPoll time.Duration) *WebSocketHandler {
	if initPoll <= 0 {
		initPoll = 200 * time.Millisecond
	}
	return &WebSocketHandler{
		source:        source,
		seen:          seen,
		viewers:       viewers,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		initWait:      initWait,
		initPoll:      initPoll,
		logger:        slog.Default(),
	}
}

// wsMessage represents WebSocket message structure.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Cols    int    `json:"cols,omitempty"`
	Rows    int    `json:"rows,omitempty"`
}

type statusMessage struct {
	Type            string `json:"type"`
	ConnectionID    string `json:"connectionId"`
	Status          Status `json:"status"`
	RemoteSessionID string `json:"remoteSessionId,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	connectionID := r.URL.Query().Get("connection_id")
	h.logger.Info("WebSocket connection request", "user_id", userID, "connection_id", connectionID, "ip", identity.IPFromRequest(r))

	if connectionID == "" {
		http.Error(w, "connection_id is required", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	registry, err := h.source.TerminalRegistry(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load workspace", "error", err, "user_id", userID)
		http.Error(w, "workspace unavailable", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "viewer closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	cols, _ := strconv.Atoi(r.URL.Query().Get("cols"))
	rows, _ := strconv.Atoi(r.URL.Query().Get("rows"))
	viewer := NewViewer(ws, cols, rows, h.logger)
	defer func() {
		if closeErr := viewer.Close(); closeErr != nil {
			h.logger.Debug("Failed to close viewer", "error", closeErr, "user_id", userID)
		}
	}()

	h.viewers.Register(userID, connectionID, viewer)
	defer h.viewers.Unregister(userID, connectionID, viewer)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// A viewer closed elsewhere, e.g. when its workspace is swept, ends
	// the read loop.
	go func() {
		select {
		case <-viewer.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	h.mount(ctx, registry, connectionID, viewer)
	h.inputLoop(ctx, ws, registry, viewer, userID, connectionID)
	h.logger.Info("Terminal viewer ended", "user_id", userID, "connection_id", connectionID)
}

// mount initializes or reattaches the terminal. A busy connection is polled
// until it settles or the wait expires; callers are never queued.
func (h *WebSocketHandler) mount(ctx context.Context, registry *Registry, connectionID string, viewer *Viewer) {
	deadline := time.Now().Add(h.initWait)
	for {
		ok, err := registry.Init(ctx, connectionID, viewer)
		if err != nil {
			h.logger.Warn("Terminal init rejected", "connection_id", connectionID, "error", err)
			viewer.SendJSON(map[string]string{"type": "error", "error": err.Error()})
			return
		}
		if ok || !registry.IsBusy(connectionID) || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(h.initPoll):
		}
	}
	h.sendStatus(registry, connectionID, viewer)
}

func (h *WebSocketHandler) sendStatus(registry *Registry, connectionID string, viewer *Viewer) {
	viewer.SendJSON(statusMessage{
		Type:            "status",
		ConnectionID:    connectionID,
		Status:          registry.Status(connectionID),
		RemoteSessionID: registry.RemoteSessionID(connectionID),
	})
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, registry *Registry, viewer *Viewer, userID, connectionID string) {
	lastTouch := time.Time{}
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID, "connection_id", connectionID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// Fallback to raw data.
			msg = wsMessage{Type: "data", Content: string(message)}
		}

		switch msg.Type {
		case "data":
			if err := registry.Send(connectionID, []byte(msg.Content)); err != nil {
				h.logger.Debug("Terminal input write error", "connection_id", connectionID, "error", err)
			}
		case "resize":
			viewer.SetSize(msg.Cols, msg.Rows)
			registry.Fit(connectionID)
		case "clear":
			registry.Clear(connectionID)
		case "focus":
			registry.Focus(connectionID)
		case "reconnect":
			if _, err := registry.Reconnect(ctx, connectionID, viewer); err != nil {
				viewer.SendJSON(map[string]string{"type": "error", "error": err.Error()})
				continue
			}
			h.sendStatus(registry, connectionID, viewer)
		case "status":
			h.sendStatus(registry, connectionID, viewer)
		case "ping":
			viewer.SendJSON(map[string]string{"type": "pong"})
		}

		if time.Since(lastTouch) > 30*time.Second {
			lastTouch = time.Now()
			go h.touch(userID)
		}
	}
}

func (h *WebSocketHandler) touch(userID string) {
	if h.seen == nil {
		return
	}
	updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.seen.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
		h.logger.Warn("Failed to update last seen", "error", err)
	}
}
