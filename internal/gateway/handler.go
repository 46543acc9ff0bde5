package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// Handler exposes the WebSocket upgrade and stats endpoints.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleConnect upgrades an HTTP request to a chat WebSocket. The user_id
// query parameter is the authenticated identifier handed to us by the outer
// auth layer; the relay trusts it as-is.
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if err := h.hub.Upgrade(w, r, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to upgrade WebSocket connection")
		return
	}
}

// Stats reports connection counts for the stats endpoint.
func (h *Handler) Stats() map[string]interface{} {
	return h.hub.Stats()
}
