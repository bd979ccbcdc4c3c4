package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"support-agent/internal/models"
	"support-agent/internal/repositories"
	"support-agent/internal/services"
)

// KnowledgeHandler handles HTTP requests for knowledge base management
type KnowledgeHandler struct {
	knowledge *services.KnowledgeService
	retriever *services.RetrievalService
	logger    *log.Logger
}

// NewKnowledgeHandler creates a new knowledge handler
func NewKnowledgeHandler(knowledge *services.KnowledgeService, retriever *services.RetrievalService, logger *log.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		knowledge: knowledge,
		retriever: retriever,
		logger:    logger,
	}
}

// IngestResponse reports the outcome of a document ingestion
type IngestResponse struct {
	Source     string `json:"source"`
	ChunkCount int    `json:"chunk_count"`
	Status     string `json:"status"`
}

// IngestDocument chunks, embeds and stores a knowledge document
// @Summary Ingest a knowledge document
// @Description Split a source document into chunks, embed them and index them for retrieval
// @Tags knowledge
// @Accept json
// @Produce json
// @Param document body models.SeedDocument true "Document"
// @Success 201 {object} IngestResponse
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/knowledge/documents [post]
func (h *KnowledgeHandler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.SeedDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	count, err := h.knowledge.IngestDocument(r.Context(), &doc)
	if err != nil {
		h.logger.Printf("Ingestion failed for %s: %v", doc.Source, err)
		sendDomainError(w, err)
		return
	}

	h.sendJSON(w, http.StatusCreated, IngestResponse{
		Source:     doc.Source,
		ChunkCount: count,
		Status:     "ingested",
	})
}

// DeleteDocument removes all chunks of a source document
// @Summary Delete a knowledge document
// @Tags knowledge
// @Produce json
// @Param source path string true "Document source name"
// @Success 200 {object} BasicResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/knowledge/documents/{source} [delete]
func (h *KnowledgeHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	if err := h.knowledge.DeleteDocument(r.Context(), source); err != nil {
		sendDomainError(w, err)
		return
	}

	h.logger.Printf("Deleted knowledge document %s", source)
	h.sendJSON(w, http.StatusOK, BasicResponse{Message: "Document deleted", Status: "success"})
}

// ListChunks returns stored chunks with optional filtering
// @Summary List knowledge chunks
// @Tags knowledge
// @Produce json
// @Param category query string false "Filter by category"
// @Param language query string false "Filter by language"
// @Param source query string false "Filter by source document"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {array} models.DocumentChunk
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/knowledge/chunks [get]
func (h *KnowledgeHandler) ListChunks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := &repositories.SearchFilters{
		Category: query.Get("category"),
		Language: query.Get("language"),
		Source:   query.Get("source"),
	}

	limit := 50
	if s := query.Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if s := query.Get("offset"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	chunks, err := h.knowledge.ListChunks(r.Context(), filters, limit, offset)
	if err != nil {
		sendDomainError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, chunks)
}

// SearchRequest is the direct knowledge search request body
type SearchRequest struct {
	Query    string `json:"query"`
	Category string `json:"category,omitempty"`
	Language string `json:"language,omitempty"`
}

// Search runs the retrieval pipeline directly against the knowledge base
// @Summary Search the knowledge base
// @Description Run the full retrieval pipeline (embedding, hybrid blend, rerank) for a query
// @Tags knowledge
// @Accept json
// @Produce json
// @Param request body SearchRequest true "Search request"
// @Success 200 {object} models.RetrievalResult
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/knowledge/search [post]
func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "Query is required")
		return
	}

	var filters *repositories.SearchFilters
	if req.Category != "" || req.Language != "" {
		filters = &repositories.SearchFilters{Category: req.Category, Language: req.Language}
	}

	result, err := h.retriever.Retrieve(r.Context(), req.Query, filters)
	if err != nil {
		h.logger.Printf("Knowledge search failed: %v", err)
		sendDomainError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, result)
}

// Stats returns knowledge base counters
// @Summary Knowledge base statistics
// @Tags knowledge
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/knowledge/stats [get]
func (h *KnowledgeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.knowledge.Stats(r.Context())
	if err != nil {
		sendDomainError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, stats)
}

func (h *KnowledgeHandler) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	if err := writeJSON(w, status, data); err != nil {
		h.logger.Printf("Failed to encode JSON: %v", err)
	}
}
