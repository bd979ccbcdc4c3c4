package handlers

import (
	"log"
	"net/http"
	"time"

	"support-agent/internal/repositories"
	"support-agent/internal/services"
)

// HealthHandler reports service and dependency health
type HealthHandler struct {
	sessions  repositories.SessionRepository
	retriever *services.RetrievalService
	logger    *log.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(sessions repositories.SessionRepository, retriever *services.RetrievalService, logger *log.Logger) *HealthHandler {
	return &HealthHandler{
		sessions:  sessions,
		retriever: retriever,
		logger:    logger,
	}
}

// HealthResponse is the health endpoint body
type HealthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Timestamp    string            `json:"timestamp"`
}

// Health checks the service and its backing stores
// @Summary Health check
// @Description Report service health including Redis and the knowledge store
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{
		"redis":    "ok",
		"chromadb": "ok",
	}
	status := http.StatusOK

	if err := h.sessions.Ping(r.Context()); err != nil {
		h.logger.Printf("Redis health check failed: %v", err)
		deps["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := h.retriever.Ping(r.Context()); err != nil {
		h.logger.Printf("ChromaDB health check failed: %v", err)
		deps["chromadb"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}

	_ = writeJSON(w, status, HealthResponse{
		Status:       overall,
		Dependencies: deps,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats returns runtime counters
// @Summary Runtime statistics
// @Description Retrieval cache counters and live session count
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/stats [get]
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"retrieval_cache": h.retriever.CacheStats(),
	}

	if ids, err := h.sessions.ListSessionIDs(r.Context()); err == nil {
		stats["active_sessions"] = len(ids)
	} else {
		h.logger.Printf("Session count failed: %v", err)
	}

	_ = writeJSON(w, http.StatusOK, stats)
}
