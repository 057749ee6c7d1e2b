package hud

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// writeTimeout bounds a single snapshot write to a stream subscriber.
const writeTimeout = 5 * time.Second

// Handler serves the HUD state. Create instances with [NewHandler].
type Handler struct {
	store   *Store
	origins []string
	log     *slog.Logger
}

// NewHandler returns a Handler for store. origins lists the host patterns
// allowed to open the WebSocket stream in addition to same-origin requests.
func NewHandler(store *Store, origins ...string) *Handler {
	return &Handler{store: store, origins: origins, log: slog.Default()}
}

// Register adds the HUD routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", h.State)
	mux.HandleFunc("GET /api/state/stream", h.Stream)
	mux.HandleFunc("DELETE /api/content", h.ClearContent)
}

// State writes the current snapshot as JSON.
func (h *Handler) State(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(h.store.Snapshot()); err != nil {
		h.log.Warn("hud: encode state", "err", err)
	}
}

// ClearContent closes the content panel.
func (h *Handler) ClearContent(w http.ResponseWriter, _ *http.Request) {
	h.store.ClearContent()
	w.WriteHeader(http.StatusNoContent)
}

// Stream upgrades to a WebSocket and pushes a JSON snapshot after every
// change until the client disconnects. Client messages are ignored.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Debug("hud: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	updates, cancel := h.store.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case snap := <-updates:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, snap)
			wcancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					h.log.Debug("hud: stream write", "err", err)
				}
				return
			}
		}
	}
}
