package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"support-agent/internal/models"
	"support-agent/internal/repositories"
	"support-agent/internal/services"
)

// ChatHandler handles HTTP requests for conversation turns and session
// management
type ChatHandler struct {
	engine   *services.ConversationEngine
	sessions repositories.SessionRepository
	logger   *log.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(engine *services.ConversationEngine, sessions repositories.SessionRepository, logger *log.Logger) *ChatHandler {
	return &ChatHandler{
		engine:   engine,
		sessions: sessions,
		logger:   logger,
	}
}

// PostMessage handles one conversation turn
// @Summary Send a chat message
// @Description Process one customer message through retrieval, generation and arbitration
// @Tags chat
// @Accept json
// @Produce json
// @Param message body services.TurnRequest true "Turn request"
// @Success 200 {object} models.AgentResponseDTO
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/chat/message [post]
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req services.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Printf("Failed to decode turn request: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.engine.HandleTurn(r.Context(), &req)
	if err != nil {
		h.logger.Printf("Turn failed for session %s: %v", req.SessionID, err)
		sendDomainError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, resp.ToDTO())
}

// GetSession returns the conversation history for a session
// @Summary Get session history
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.SessionHistoryDTO
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sessions/{id} [get]
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	session, err := h.sessions.LoadSession(r.Context(), sessionID)
	if err != nil {
		sendDomainError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, session.ToDTO())
}

// ResolveSession marks a session resolved
// @Summary Resolve a session
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} BasicResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sessions/{id}/resolve [post]
func (h *ChatHandler) ResolveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := h.sessions.UpdateStatus(r.Context(), sessionID, models.SessionResolved); err != nil {
		sendDomainError(w, err)
		return
	}

	h.logger.Printf("Session %s resolved", sessionID)
	h.sendJSON(w, http.StatusOK, BasicResponse{Message: "Session resolved", Status: "success"})
}

// DeleteSession removes a session and its history
// @Summary Delete a session
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} BasicResponse
// @Router /api/v1/sessions/{id} [delete]
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := h.sessions.DeleteSession(r.Context(), sessionID); err != nil {
		sendDomainError(w, err)
		return
	}

	h.logger.Printf("Session %s deleted", sessionID)
	h.sendJSON(w, http.StatusOK, BasicResponse{Message: "Session deleted", Status: "success"})
}

// FeedbackRequestBody carries user feedback for one assistant message
type FeedbackRequestBody struct {
	MessageID string `json:"message_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
}

// PostFeedback links feedback to an assistant message
// @Summary Submit feedback on a response
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param feedback body FeedbackRequestBody true "Feedback"
// @Success 200 {object} BasicResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sessions/{id}/feedback [post]
func (h *ChatHandler) PostFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var body FeedbackRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.MessageID == "" {
		writeError(w, http.StatusBadRequest, "message_id is required")
		return
	}
	if body.Rating < 1 || body.Rating > 5 {
		writeError(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}

	if err := h.sessions.LinkFeedback(r.Context(), sessionID, body.MessageID, body.Rating, body.Comment); err != nil {
		sendDomainError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, BasicResponse{Message: "Feedback recorded", Status: "success"})
}

func (h *ChatHandler) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	if err := writeJSON(w, status, data); err != nil {
		h.logger.Printf("Failed to encode JSON: %v", err)
	}
}
