package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/config"
	"github.com/brahmalabs/baman-engine/pkg/services"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string          `json:"status"`
	Version     string          `json:"version"`
	Service     string          `json:"service"`
	GoVersion   string          `json:"go_version"`
	Hostname    string          `json:"hostname"`
	Environment string          `json:"environment"`
	Backend     string          `json:"backend"`
	Bookmarks   string          `json:"bookmarks"`
	Digestion   DigestionStatus `json:"digestion"`
}

// DigestionStatus summarises the digestion orchestrator for /ping.
type DigestionStatus struct {
	Concurrency   int `json:"concurrency"`
	ActiveBatches int `json:"active_batches"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg       *config.Config
	digestion *services.DigestionService
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. digestion may be nil.
func NewHealthHandler(cfg *config.Config, digestion *services.DigestionService, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, digestion: digestion, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping reports version, environment and the state of the engine's moving parts.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "baman-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
		Backend:     h.cfg.Backend.BaseURL,
		Bookmarks:   "memory",
		Digestion:   DigestionStatus{Concurrency: max(h.cfg.Digestion.Concurrency, 1)},
	}
	if h.cfg.Database.Enabled {
		response.Bookmarks = "postgres"
	}
	if h.digestion != nil {
		response.Digestion.ActiveBatches = h.digestion.ActiveBatches()
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
