package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EscalationRecord is constructed when a turn escalates. The core only
// builds and hands off the record; resolution is tracked by the external
// ticketing collaborator.
type EscalationRecord struct {
	TicketNumber string           `json:"ticket_number"`
	SessionID    string           `json:"session_id"`
	CustomerID   string           `json:"customer_id,omitempty"`
	Reason       EscalationReason `json:"reason"`
	Priority     string           `json:"priority"`
	Subject      string           `json:"subject"`
	Description  string           `json:"description"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewEscalationRecord builds a ticket-ready record from the session state.
// The subject is derived from the reason and the description from the
// conversation summary (falling back to the last user message).
func NewEscalationRecord(session *ConversationSession, reason EscalationReason) *EscalationRecord {
	description := ""
	if session.Summary != nil && session.Summary.Text != "" {
		description = session.Summary.Text
	} else if last := session.LastUserMessage(); last != "" {
		description = "Customer's last message: " + last
	}

	subject := "Escalated: " + strings.ReplaceAll(string(reason), "_", " ")
	if topic := firstTopic(session); topic != "" {
		subject += " - " + topic
	}

	return &EscalationRecord{
		TicketNumber: "TKT-" + strings.ToUpper(uuid.New().String()[:8]),
		SessionID:    session.SessionID,
		CustomerID:   session.CustomerID,
		Reason:       reason,
		Priority:     reason.Priority(),
		Subject:      subject,
		Description:  description,
		CreatedAt:    time.Now().UTC(),
	}
}

func firstTopic(session *ConversationSession) string {
	if session.Summary != nil && len(session.Summary.KeyTopics) > 0 {
		return session.Summary.KeyTopics[0]
	}
	return ""
}

// Validate checks if the record is valid
func (e *EscalationRecord) Validate() error {
	if e.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session ID is required"}
	}
	if !e.Reason.IsValid() {
		return &ValidationError{Field: "reason", Message: "invalid escalation reason: " + string(e.Reason)}
	}
	if e.Subject == "" {
		return &ValidationError{Field: "subject", Message: "subject is required"}
	}
	return nil
}
