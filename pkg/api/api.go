package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/aegis/pkg/storage"
)

// Server exposes the operational HTTP surface: health checks (/healthz),
// Prometheus metrics (/metrics), and read-only decision history
// (/api/v1/decisions, /api/v1/status).
type Server struct {
	store    *storage.Store
	registry *prometheus.Registry
	srv      *http.Server
}

// NewServer creates the API server. The store may be nil, in which case the
// history endpoints report storage as unavailable.
func NewServer(port string, store *storage.Store, registry *prometheus.Registry) *Server {
	s := &Server{
		store:    store,
		registry: registry,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/v1/decisions", s.decisionsHandler)
	mux.HandleFunc("/api/v1/status", s.statusHandler)

	s.srv = &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() {
	log.Info().Msgf("API server starting on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("API server failed to start")
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// decisionsHandler returns recent decisions, newest first. Query params:
// since (RFC3339, default one hour ago) and limit (default 100).
func (s *Server) decisionsHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	since := time.Now().Add(-time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid 'since' timestamp", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	results, err := s.store.QueryRange(r.Context(), since, time.Now().Add(time.Minute), 100)
	if err != nil {
		log.Error().Err(err).Msg("Decision history query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"since":     since,
		"decisions": results,
	})
}

// statusHandler reports aggregate decision counts by action.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	counts, err := s.store.CountByAction(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Status aggregation failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"decisions_by_action": counts,
	})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode API response")
	}
}
