package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/haeun-dev/suneung-tutor/internal/records"
)

// HandleChatStream handles GET /api/chat/{subjectID}/ws. It streams the full
// ordered message list: once on connect, then after every append.
func (h *Handler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subjectFromRequest(w, r)
	if !ok {
		return
	}

	ws, ok := h.acceptWebSocket(w, r)
	if !ok {
		return
	}
	defer closeWebSocket(ws)

	// CloseRead cancels the context when the client goes away.
	ctx := ws.CloseRead(r.Context())

	session := h.sessions.Session(subject.ID)
	for history := range session.Watch(ctx) {
		if err := writeJSON(ctx, ws, history); err != nil {
			slog.Debug("chat stream write failed", "subject_id", subject.ID, "error", err)
			return
		}
	}
}

// HandleRecordStream handles GET /api/records/ws. It streams collection
// snapshots in display order with derived statistics, reflecting every
// committed write including those from other instances.
func (h *Handler) HandleRecordStream(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.acceptWebSocket(w, r)
	if !ok {
		return
	}
	defer closeWebSocket(ws)

	ctx := ws.CloseRead(r.Context())

	for snapshot := range h.store.Observe(ctx) {
		payload := recordsResponse{
			Records: records.SortForDisplay(snapshot),
			Stats:   records.Statistics(snapshot),
			Periods: records.ExamPeriods(),
		}
		if err := writeJSON(ctx, ws, payload); err != nil {
			slog.Debug("record stream write failed", "error", err)
			return
		}
	}
}

func (h *Handler) acceptWebSocket(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return nil, false
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return nil, false
	}
	return ws, true
}

// checkOrigin validates the Origin header against the configured frontend.
// Development mode allows any origin.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return h.allowedOrigin != "" && strings.HasPrefix(origin, h.allowedOrigin)
}

func closeWebSocket(ws *websocket.Conn) {
	if err := ws.Close(websocket.StatusNormalClosure, "stream ended"); err != nil {
		slog.Debug("Failed to close websocket", "error", err)
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, b)
}
