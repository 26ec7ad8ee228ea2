package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for workspace streams.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleWorkspaceConnection handles WebSocket connections for one workspace.
func (h *WebSocketHandler) HandleWorkspaceConnection(w http.ResponseWriter, r *http.Request) {
	workspaceIDStr := r.URL.Query().Get("workspace_id")
	if workspaceIDStr == "" {
		http.Error(w, "workspace_id is required", http.StatusBadRequest)
		return
	}

	workspaceID, err := uuid.Parse(workspaceIDStr)
	if err != nil {
		http.Error(w, "invalid workspace_id format", http.StatusBadRequest)
		return
	}

	// In production this comes from the session token, not a query param.
	identityID := r.URL.Query().Get("identity_id")
	if identityID == "" {
		identityID = "anonymous"
	}

	if err := h.connectionManager.UpgradeConnection(w, r, identityID, workspaceID); err != nil {
		log.Error().
			Err(err).
			Str("workspace_id", workspaceID.String()).
			Str("identity_id", identityID).
			Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/workspace", h.HandleWorkspaceConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
