package handlers

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"support-agent/internal/models"
	"support-agent/internal/services"
)

// StreamHandler serves conversation turns over a websocket, forwarding
// draft deltas as they arrive. One connection carries one session; turns
// on the connection are processed sequentially.
type StreamHandler struct {
	engine   *services.ConversationEngine
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(engine *services.ConversationEngine, logger *log.Logger) *StreamHandler {
	return &StreamHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// streamFrame is one server-to-client websocket message
type streamFrame struct {
	Type     string                   `json:"type"` // delta, response, error
	Content  string                   `json:"content,omitempty"`
	Response *models.AgentResponseDTO `json:"response,omitempty"`
	Message  string                   `json:"message,omitempty"`
	Status   int                      `json:"status,omitempty"`
}

// Stream upgrades the connection and serves streamed turns
// @Summary Stream a chat conversation
// @Description Websocket endpoint; each client frame is a turn request, the server streams deltas followed by the final response
// @Tags chat
// @Router /api/v1/chat/stream [get]
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req services.TurnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Printf("Websocket read failed: %v", err)
			}
			return
		}

		h.serveTurn(conn, r, &req)
	}
}

// serveTurn runs one streamed turn. Delta frames go out as the draft is
// generated; a turn that ends in clarification or escalation sends a final
// response whose content replaces the streamed text.
func (h *StreamHandler) serveTurn(conn *websocket.Conn, r *http.Request, req *services.TurnRequest) {
	resp, err := h.engine.HandleTurnStream(r.Context(), req, func(delta string) {
		if err := conn.WriteJSON(streamFrame{Type: "delta", Content: delta}); err != nil {
			h.logger.Printf("Websocket delta write failed: %v", err)
		}
	})
	if err != nil {
		status, message := domainErrorMessage(err)
		h.logger.Printf("Streamed turn failed for session %s: %v", req.SessionID, err)
		_ = conn.WriteJSON(streamFrame{Type: "error", Message: message, Status: status})
		return
	}

	dto := resp.ToDTO()
	if err := conn.WriteJSON(streamFrame{Type: "response", Response: &dto}); err != nil {
		h.logger.Printf("Websocket response write failed: %v", err)
	}
}
