package models

import (
	"time"
)

// MessageRole identifies the sender of a conversation message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// IsValid checks if the role is a known value
func (r MessageRole) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// SessionStatus represents the lifecycle state of a conversation session
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionResolved  SessionStatus = "resolved"
	SessionEscalated SessionStatus = "escalated"
	SessionExpired   SessionStatus = "expired"
)

// IsValid checks if the status is a known value
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionActive, SessionResolved, SessionEscalated, SessionExpired:
		return true
	default:
		return false
	}
}

// IsTerminal returns true when the session accepts no further automatic
// responses. Escalated sessions are released only by the ticketing side.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionEscalated || s == SessionResolved || s == SessionExpired
}

// Intent is the detected purpose of a user message
type Intent string

const (
	IntentProductInquiry   Intent = "product_inquiry"
	IntentPricing          Intent = "pricing"
	IntentBusinessHours    Intent = "business_hours"
	IntentOrderStatus      Intent = "order_status"
	IntentComplaint        Intent = "complaint"
	IntentTechnicalSupport Intent = "technical_support"
	IntentGeneralInquiry   Intent = "general_inquiry"
	IntentGreeting         Intent = "greeting"
	IntentFarewell         Intent = "farewell"
	IntentUnknown          Intent = "unknown"
)

// Message is a single entry in a conversation's ordered history
type Message struct {
	ID         string      `json:"id"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	Confidence *float64    `json:"confidence,omitempty"`

	// Feedback linked after the fact by message ID; the message content
	// itself stays immutable
	FeedbackRating  *int   `json:"feedback_rating,omitempty"`
	FeedbackComment string `json:"feedback_comment,omitempty"`
}

// Validate checks if the message is valid
func (m *Message) Validate() error {
	if m.ID == "" {
		return &ValidationError{Field: "id", Message: "message ID is required"}
	}
	if !m.Role.IsValid() {
		return &ValidationError{Field: "role", Message: "invalid role: " + string(m.Role)}
	}
	if m.Content == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	return nil
}

// ConversationSummary is the rolling summary replacing spans of raw history
// once a session grows past the summarization threshold
type ConversationSummary struct {
	Text        string   `json:"text"`
	KeyTopics   []string `json:"key_topics,omitempty"`
	ActionItems []string `json:"action_items,omitempty"`
	TokenCount  int      `json:"token_count"`

	// CoversMessages is the count of oldest messages this summary replaces.
	// Summarizing a span already covered is a no-op.
	CoversMessages int `json:"covers_messages"`
}

// Covers reports whether the summary already covers the first n messages
func (s *ConversationSummary) Covers(n int) bool {
	return s != nil && s.CoversMessages >= n
}

// ConversationSession is the unit of ongoing dialogue state. It is created on
// the first message for a session ID, mutated by every committed turn, and
// becomes eligible for deletion once the retention window elapses with no
// activity.
type ConversationSession struct {
	SessionID        string               `json:"session_id"`
	CustomerID       string               `json:"customer_id,omitempty"`
	Messages         []Message            `json:"messages"`
	Summary          *ConversationSummary `json:"summary,omitempty"`
	DetectedLanguage string               `json:"detected_language"`
	DetectedIntent   Intent               `json:"detected_intent"`
	Sentiment        float64              `json:"sentiment"` // [-1, 1], negative is unhappy
	Status           SessionStatus        `json:"status"`
	CreatedAt        time.Time            `json:"created_at"`
	LastActivityAt   time.Time            `json:"last_activity_at"`
}

// NewConversationSession creates an active session for a session ID
func NewConversationSession(sessionID, customerID string) *ConversationSession {
	now := time.Now().UTC()
	return &ConversationSession{
		SessionID:        sessionID,
		CustomerID:       customerID,
		Messages:         []Message{},
		DetectedLanguage: "en",
		DetectedIntent:   IntentUnknown,
		Status:           SessionActive,
		CreatedAt:        now,
		LastActivityAt:   now,
	}
}

// Validate checks if the session is valid
func (s *ConversationSession) Validate() error {
	if s.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session ID is required"}
	}
	if !s.Status.IsValid() {
		return &ValidationError{Field: "status", Message: "invalid status: " + string(s.Status)}
	}
	if s.Sentiment < -1 || s.Sentiment > 1 {
		return &ValidationError{Field: "sentiment", Message: "sentiment must be between -1 and 1"}
	}
	return nil
}

// MessageCount returns the number of messages in the session
func (s *ConversationSession) MessageCount() int {
	return len(s.Messages)
}

// AppendMessage appends a message and refreshes the activity timestamp
func (s *ConversationSession) AppendMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.LastActivityAt = msg.Timestamp
}

// LastUserMessage returns the most recent user message content, if any
func (s *ConversationSession) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// IdleSince returns how long the session has been without activity
func (s *ConversationSession) IdleSince(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// SessionHistoryDTO is the API view of a conversation session
type SessionHistoryDTO struct {
	SessionID        string           `json:"session_id"`
	Status           string           `json:"status"`
	Messages         []MessageDTO     `json:"messages"`
	MessageCount     int              `json:"message_count"`
	Summary          string           `json:"summary,omitempty"`
	DetectedLanguage string           `json:"detected_language"`
	DetectedIntent   string           `json:"detected_intent"`
	StartedAt        string           `json:"started_at"`
	LastActivityAt   string           `json:"last_activity_at"`
}

// MessageDTO is the API view of a message
type MessageDTO struct {
	ID         string   `json:"id"`
	Role       string   `json:"role"`
	Content    string   `json:"content"`
	Timestamp  string   `json:"timestamp"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ToDTO converts the session to its API view
func (s *ConversationSession) ToDTO() SessionHistoryDTO {
	msgs := make([]MessageDTO, len(s.Messages))
	for i, m := range s.Messages {
		msgs[i] = MessageDTO{
			ID:         m.ID,
			Role:       string(m.Role),
			Content:    m.Content,
			Timestamp:  m.Timestamp.Format(time.RFC3339),
			Confidence: m.Confidence,
		}
	}

	dto := SessionHistoryDTO{
		SessionID:        s.SessionID,
		Status:           string(s.Status),
		Messages:         msgs,
		MessageCount:     len(s.Messages),
		DetectedLanguage: s.DetectedLanguage,
		DetectedIntent:   string(s.DetectedIntent),
		StartedAt:        s.CreatedAt.Format(time.RFC3339),
		LastActivityAt:   s.LastActivityAt.Format(time.RFC3339),
	}

	if s.Summary != nil {
		dto.Summary = s.Summary.Text
	}

	return dto
}
