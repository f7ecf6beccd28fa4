package handlers

import (
	"log/slog"
	"net/http"

	"waste-container-tracking-system/api/internal/realtime"
	"waste-container-tracking-system/shared/authx"
	"waste-container-tracking-system/shared/logx"
)

// WSHandler upgrades clients into a per-center broadcast room.
type WSHandler struct {
	Hub     *realtime.Hub
	Centers centerStore
	Logger  logx.Logger
}

func (h *WSHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleConnect)
	mux.HandleFunc("GET /ws/centers/{id}", h.handleSubscribe)
}

// handleConnect upgrades without joining a room; clients pick centers with
// join:center and leave:center frames.
func (h *WSHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleVisitor); !ok {
		return
	}
	if err := h.Hub.ServeWS(w, r, ""); err != nil {
		h.Logger.Warn(r.Context(), "ws_upgrade_failed", "websocket upgrade failed",
			slog.String("error", err.Error()),
		)
	}
}

func (h *WSHandler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, authx.RoleVisitor); !ok {
		return
	}
	centerID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.Centers.GetCenterByID(r.Context(), centerID); err != nil {
		writeRepoError(w, r, err, "center not found")
		return
	}
	if err := h.Hub.ServeWS(w, r, centerID.String()); err != nil {
		// ServeWS already wrote the handshake failure response.
		h.Logger.Warn(r.Context(), "ws_upgrade_failed", "websocket upgrade failed",
			slog.String("center_id", centerID.String()),
			slog.String("error", err.Error()),
		)
	}
}
