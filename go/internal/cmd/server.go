package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

func setupServer(cfg *Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	services.WebSocket.RegisterRoutes(mux)
	registerWorkspaceRoutes(mux, services)
	setupHealthCheck(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: c.Handler(mux),
	}
}

// registerWorkspaceRoutes exposes the read-side listing clients use to pick a
// workspace before opening their socket.
func registerWorkspaceRoutes(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/api/workspaces", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		kingdom, err := strconv.Atoi(r.URL.Query().Get("kingdom"))
		if err != nil {
			http.Error(w, "kingdom query parameter is required", http.StatusBadRequest)
			return
		}

		workspaces, err := services.Workspaces.ListWorkspaces(r.Context(), kingdom)
		if err != nil {
			log.Error().Err(err).Int("kingdom", kingdom).Msg("list workspaces")
			http.Error(w, "failed to list workspaces", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(workspaces); err != nil {
			log.Error().Err(err).Msg("encode workspace list")
		}
	})
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
