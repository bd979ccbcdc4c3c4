package models

import (
	"time"
)

// EscalationReason is the fixed taxonomy of reasons a turn hands off to a human
type EscalationReason string

const (
	EscalationLowConfidence     EscalationReason = "low_confidence"
	EscalationNegativeSentiment EscalationReason = "negative_sentiment"
	EscalationExplicitRequest   EscalationReason = "explicit_request"
	EscalationSensitiveTopic    EscalationReason = "sensitive_topic"
	EscalationRepeatedFailure   EscalationReason = "repeated_failure"
)

// IsValid checks if the reason is part of the taxonomy
func (r EscalationReason) IsValid() bool {
	switch r {
	case EscalationLowConfidence, EscalationNegativeSentiment, EscalationExplicitRequest,
		EscalationSensitiveTopic, EscalationRepeatedFailure:
		return true
	default:
		return false
	}
}

// Priority maps the escalation reason to a ticket priority
func (r EscalationReason) Priority() string {
	switch r {
	case EscalationNegativeSentiment, EscalationExplicitRequest:
		return "high"
	case EscalationSensitiveTopic:
		return "urgent"
	case EscalationRepeatedFailure:
		return "high"
	default:
		return "medium"
	}
}

// SourceCitation references a knowledge chunk used to ground a response.
// Citations must always be a subset of the chunks the context assembler
// actually selected for the turn.
type SourceCitation struct {
	ChunkID        string  `json:"chunk_id"`
	Source         string  `json:"source,omitempty"`
	Category       string  `json:"category,omitempty"`
	RelevanceScore float32 `json:"relevance_score"`
	Snippet        string  `json:"snippet,omitempty"`
}

// SuggestedAction is a follow-up action offered to the user
type SuggestedAction struct {
	ActionType string `json:"action_type"` // link, button, quick_reply
	Label      string `json:"label"`
	Value      string `json:"value"`
}

// AgentResponse is the immutable outcome of one turn. It is appended to the
// conversation as an assistant message; only user feedback may be linked to
// it afterwards, by message ID.
type AgentResponse struct {
	MessageID        string            `json:"message_id"`
	SessionID        string            `json:"session_id"`
	Content          string            `json:"content"`
	Confidence       float64           `json:"confidence"`
	Sources          []SourceCitation  `json:"sources"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
	QuickReplies     []string          `json:"quick_replies,omitempty"`
	RequiresFollowup bool              `json:"requires_followup"`
	Escalated        bool              `json:"escalated"`
	EscalationReason EscalationReason  `json:"escalation_reason,omitempty"`
	DetectedLanguage string            `json:"detected_language"`
	DetectedIntent   Intent            `json:"detected_intent"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	Timestamp        time.Time         `json:"timestamp"`
}

// Validate checks if the response is valid
func (r *AgentResponse) Validate() error {
	if r.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session ID is required"}
	}
	if r.Content == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return &ValidationError{Field: "confidence", Message: "confidence must be between 0 and 1"}
	}
	if r.Escalated && !r.EscalationReason.IsValid() {
		return &ValidationError{Field: "escalation_reason", Message: "escalated response requires a valid reason"}
	}
	return nil
}

// CitedChunkIDs returns the chunk IDs referenced by the response's citations
func (r *AgentResponse) CitedChunkIDs() []string {
	ids := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		ids[i] = s.ChunkID
	}
	return ids
}

// AsMessage converts the response to an assistant conversation message
func (r *AgentResponse) AsMessage() Message {
	conf := r.Confidence
	return Message{
		ID:         r.MessageID,
		Role:       RoleAssistant,
		Content:    r.Content,
		Timestamp:  r.Timestamp,
		Confidence: &conf,
	}
}

// AgentResponseDTO is the API view of an agent response
type AgentResponseDTO struct {
	MessageID        string            `json:"message_id"`
	SessionID        string            `json:"session_id"`
	Content          string            `json:"content"`
	Confidence       float64           `json:"confidence"`
	Sources          []SourceCitation  `json:"sources"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
	QuickReplies     []string          `json:"quick_replies,omitempty"`
	RequiresFollowup bool              `json:"requires_followup"`
	Escalated        bool              `json:"escalated"`
	EscalationReason string            `json:"escalation_reason,omitempty"`
	DetectedLanguage string            `json:"detected_language"`
	DetectedIntent   string            `json:"detected_intent"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	Timestamp        string            `json:"timestamp"`
}

// ToDTO converts AgentResponse to its API view
func (r *AgentResponse) ToDTO() AgentResponseDTO {
	return AgentResponseDTO{
		MessageID:        r.MessageID,
		SessionID:        r.SessionID,
		Content:          r.Content,
		Confidence:       r.Confidence,
		Sources:          r.Sources,
		SuggestedActions: r.SuggestedActions,
		QuickReplies:     r.QuickReplies,
		RequiresFollowup: r.RequiresFollowup,
		Escalated:        r.Escalated,
		EscalationReason: string(r.EscalationReason),
		DetectedLanguage: r.DetectedLanguage,
		DetectedIntent:   string(r.DetectedIntent),
		ProcessingTimeMs: r.ProcessingTimeMs,
		Timestamp:        r.Timestamp.Format(time.RFC3339),
	}
}
