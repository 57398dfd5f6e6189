package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/watchdog/internal/history"
)

const maxRunsLimit = 200

// Server serves the watchdog's HTTP surface: the Prometheus scrape
// endpoint, the read-only status API and the live WebSocket stream.
type Server struct {
	store    *history.Store
	wsServer *WebSocketServer
	registry *prometheus.Registry
	logger   *slog.Logger
}

// NewServer creates the HTTP server.
func NewServer(store *history.Store, wsServer *WebSocketServer, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, wsServer: wsServer, registry: registry, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/runs", s.handleRuns)
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	mux.HandleFunc("/health", s.handleHealth)

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return mux
}

// handleStatus returns the latest sealed outcome of every flow.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	statuses, err := s.store.LatestStatuses(r.Context())
	if err != nil {
		s.logger.Error("failed to load flow statuses", "error", err)
		s.writeJSONError(w, "Failed to load statuses: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if statuses == nil {
		statuses = []history.FlowStatus{}
	}

	s.writeJSON(w, map[string]any{"flows": statuses, "generatedAt": time.Now().UTC()})
}

// handleRuns returns the recent runs of one flow, newest first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flow := r.URL.Query().Get("flow")
	if flow == "" {
		s.writeJSONError(w, "flow query parameter is required", http.StatusBadRequest)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	runs, err := s.store.RecentRuns(r.Context(), flow, limit)
	if err != nil {
		s.logger.Error("failed to load flow runs", "flow", flow, "error", err)
		s.writeJSONError(w, "Failed to load runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}

	s.writeJSON(w, map[string]any{"flow": flow, "runs": runs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
