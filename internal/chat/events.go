package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chat-backend/internal/auth"
)

// Events streams the caller's events as server-sent events until the client
// goes away. A comment line is sent periodically to keep proxies from timing
// the stream out.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	rc := http.NewResponseController(w)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events, unsubscribe := h.hub.Subscribe(claims.UserID)
	defer unsubscribe()

	h.logger.Info("event_stream_opened", map[string]any{"user_id": claims.UserID})
	defer h.logger.Info("event_stream_closed", map[string]any{"user_id": claims.UserID})

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}

		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("event_encode_failed", map[string]any{"type": ev.Type, "error": err.Error()})
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
		}

		if err := rc.Flush(); err != nil {
			return
		}
	}
}
