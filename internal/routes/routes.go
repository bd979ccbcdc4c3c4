package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"support-agent/internal/handlers"
)

// Handlers groups the application's HTTP handlers for route registration
type Handlers struct {
	Chat      *handlers.ChatHandler
	Stream    *handlers.StreamHandler
	Knowledge *handlers.KnowledgeHandler
	Health    *handlers.HealthHandler
}

// RegisterRoutes sets up all application routes
func RegisterRoutes(router *mux.Router, h *Handlers) {
	// Health endpoints
	router.HandleFunc("/health", h.Health.Health).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/stats", h.Health.Stats).Methods(http.MethodGet)

	// Conversation
	router.HandleFunc("/api/v1/chat/message", h.Chat.PostMessage).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/chat/stream", h.Stream.Stream).Methods(http.MethodGet)

	// Session management
	router.HandleFunc("/api/v1/sessions/{id}", h.Chat.GetSession).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/sessions/{id}", h.Chat.DeleteSession).Methods(http.MethodDelete)
	router.HandleFunc("/api/v1/sessions/{id}/resolve", h.Chat.ResolveSession).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/sessions/{id}/feedback", h.Chat.PostFeedback).Methods(http.MethodPost)

	// Knowledge base management
	router.HandleFunc("/api/v1/knowledge/documents", h.Knowledge.IngestDocument).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/knowledge/documents/{source}", h.Knowledge.DeleteDocument).Methods(http.MethodDelete)
	router.HandleFunc("/api/v1/knowledge/search", h.Knowledge.Search).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/knowledge/chunks", h.Knowledge.ListChunks).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/knowledge/stats", h.Knowledge.Stats).Methods(http.MethodGet)
}
