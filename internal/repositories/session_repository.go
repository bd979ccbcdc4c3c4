package repositories

import (
	"context"
	"errors"

	"support-agent/internal/models"
)

// SessionRepository defines the interface for conversation session persistence.
// Implementations must make AppendTurn all-or-nothing: either both turn
// messages and the updated session state are persisted, or nothing is.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.ConversationSession) error
	LoadSession(ctx context.Context, sessionID string) (*models.ConversationSession, error)
	SaveSession(ctx context.Context, session *models.ConversationSession) error
	AppendTurn(ctx context.Context, session *models.ConversationSession, userMsg, assistantMsg models.Message) error
	UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
	LinkFeedback(ctx context.Context, sessionID, messageID string, rating int, comment string) error
	ListSessionIDs(ctx context.Context) ([]string, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

// ProfileRepository defines the interface for customer profile persistence
type ProfileRepository interface {
	GetProfile(ctx context.Context, customerID string) (*models.CustomerProfile, error)
	SaveProfile(ctx context.Context, profile *models.CustomerProfile) error
	ListProfileIDs(ctx context.Context) ([]string, error)
	DeleteProfile(ctx context.Context, customerID string) error
}

// SessionRepositoryError represents errors from the session repository
type SessionRepositoryError struct {
	Operation string
	SessionID string
	Err       error
	Message   string
	NotFound  bool
}

func (e *SessionRepositoryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Operation + " (" + e.SessionID + "): " + e.Err.Error()
	}
	return e.Operation + " (" + e.SessionID + "): unknown error"
}

func (e *SessionRepositoryError) Unwrap() error {
	return e.Err
}

// NewSessionRepositoryError creates a new session repository error
func NewSessionRepositoryError(operation, sessionID string, err error, message string) *SessionRepositoryError {
	return &SessionRepositoryError{
		Operation: operation,
		SessionID: sessionID,
		Err:       err,
		Message:   message,
	}
}

// SessionNotFoundError indicates the session does not exist or has expired
func SessionNotFoundError(sessionID string) error {
	return &SessionRepositoryError{
		Operation: "load_session",
		SessionID: sessionID,
		Message:   "session not found: " + sessionID,
		NotFound:  true,
	}
}

// SessionAlreadyExistsError indicates a create collided with a live session
func SessionAlreadyExistsError(sessionID string) error {
	return NewSessionRepositoryError(
		"create_session",
		sessionID,
		nil,
		"session already exists: "+sessionID,
	)
}

// SessionMessageNotFoundError indicates no message with the given ID exists in the session
func SessionMessageNotFoundError(sessionID, messageID string) error {
	return &SessionRepositoryError{
		Operation: "link_feedback",
		SessionID: sessionID,
		Message:   "message not found in session " + sessionID + ": " + messageID,
		NotFound:  true,
	}
}

// ProfileNotFoundError indicates the customer profile does not exist
func ProfileNotFoundError(customerID string) error {
	return &SessionRepositoryError{
		Operation: "get_profile",
		SessionID: customerID,
		Message:   "profile not found: " + customerID,
		NotFound:  true,
	}
}

// IsNotFound reports whether err is a repository not-found error
func IsNotFound(err error) bool {
	var sessionErr *SessionRepositoryError
	if errors.As(err, &sessionErr) {
		return sessionErr.NotFound
	}
	var knowledgeErr *KnowledgeRepositoryError
	if errors.As(err, &knowledgeErr) {
		return knowledgeErr.NotFound
	}
	return false
}
