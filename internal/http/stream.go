package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

// handleEvents streams the tenant's connection events as server-sent events.
// A terminal event is written and then the stream ends. The client going
// away releases the subscription only; the connection attempt continues.
func (h *ConnectionHandler) handleEvents(w http.ResponseWriter, r *http.Request, t *store.TenantData) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := h.mgr.Subscribe(r.Context(), t.ID)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("http.event_marshal_failed", "tenant", t.ID, "type", ev.Type, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
			if ev.Terminal() {
				return
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleWS carries the same event stream as WebSocket text frames.
func (h *ConnectionHandler) handleWS(w http.ResponseWriter, r *http.Request, t *store.TenantData) {
	sub, err := h.mgr.Subscribe(r.Context(), t.ID)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	defer sub.Close()

	opts := &websocket.AcceptOptions{OriginPatterns: h.allowedOrigins}
	if len(h.allowedOrigins) == 0 {
		opts.InsecureSkipVerify = true // no whitelist configured = allow all
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Warn("http.ws_accept_failed", "tenant", t.ID, "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := writeFrame(ctx, conn, data); err != nil {
				return
			}
			if ev.Terminal() {
				conn.Close(websocket.StatusNormalClosure, ev.Type)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.heartbeat)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
