package repositories

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"support-agent/internal/db"
	"support-agent/internal/models"
)

const (
	// Redis key prefixes for sessions
	sessionKeyPrefix = "session:"
	sessionIndexKey  = "sessions:index"
)

// RedisSessionRepository implements SessionRepository using Redis. Sessions
// are stored as JSON blobs with a sliding idle TTL; the index set tracks
// live session IDs for retention sweeps.
type RedisSessionRepository struct {
	client     *db.RedisClient
	sessionTTL time.Duration
}

// NewRedisSessionRepository creates a new Redis-based session repository
func NewRedisSessionRepository(client *db.RedisClient, sessionTTL time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{
		client:     client,
		sessionTTL: sessionTTL,
	}
}

// CreateSession creates a new session in the repository
func (r *RedisSessionRepository) CreateSession(ctx context.Context, session *models.ConversationSession) error {
	if err := session.Validate(); err != nil {
		return err
	}

	key := sessionKeyPrefix + session.SessionID
	exists, err := r.client.Exists(ctx, key)
	if err != nil {
		return NewSessionRepositoryError("create_session", session.SessionID, err, "")
	}
	if exists > 0 {
		return SessionAlreadyExistsError(session.SessionID)
	}

	return r.persist(ctx, "create_session", session)
}

// LoadSession retrieves a session by ID
func (r *RedisSessionRepository) LoadSession(ctx context.Context, sessionID string) (*models.ConversationSession, error) {
	key := sessionKeyPrefix + sessionID

	raw, err := r.client.Get(ctx, key)
	if err != nil {
		if strings.Contains(err.Error(), "key not found") {
			return nil, SessionNotFoundError(sessionID)
		}
		return nil, NewSessionRepositoryError("load_session", sessionID, err, "")
	}

	var session models.ConversationSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, NewSessionRepositoryError("load_session", sessionID, err, "failed to unmarshal session")
	}

	return &session, nil
}

// SaveSession persists the full session state and refreshes its idle TTL
func (r *RedisSessionRepository) SaveSession(ctx context.Context, session *models.ConversationSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	return r.persist(ctx, "save_session", session)
}

// AppendTurn appends a completed user/assistant exchange and persists the
// session in one write. The session object is updated in place; on error
// nothing is persisted and the in-memory appends are rolled back.
func (r *RedisSessionRepository) AppendTurn(ctx context.Context, session *models.ConversationSession, userMsg, assistantMsg models.Message) error {
	before := len(session.Messages)
	session.AppendMessage(userMsg)
	session.AppendMessage(assistantMsg)

	if err := r.persist(ctx, "append_turn", session); err != nil {
		session.Messages = session.Messages[:before]
		return err
	}
	return nil
}

// UpdateStatus transitions the session status and persists it
func (r *RedisSessionRepository) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	session, err := r.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	session.Status = status
	session.LastActivityAt = time.Now().UTC()
	return r.persist(ctx, "update_status", session)
}

// LinkFeedback attaches a user rating to an assistant message by ID.
// Responses are immutable otherwise; feedback is the only post-hoc edit.
func (r *RedisSessionRepository) LinkFeedback(ctx context.Context, sessionID, messageID string, rating int, comment string) error {
	session, err := r.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	found := false
	for i := range session.Messages {
		if session.Messages[i].ID == messageID && session.Messages[i].Role == models.RoleAssistant {
			session.Messages[i].FeedbackRating = &rating
			session.Messages[i].FeedbackComment = comment
			found = true
			break
		}
	}
	if !found {
		return SessionMessageNotFoundError(sessionID, messageID)
	}

	return r.persist(ctx, "link_feedback", session)
}

// ListSessionIDs returns all live session IDs from the index. Entries whose
// session key has already expired are pruned as a side effect.
func (r *RedisSessionRepository) ListSessionIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, sessionIndexKey)
	if err != nil {
		return nil, NewSessionRepositoryError("list_sessions", "", err, "")
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		exists, err := r.client.Exists(ctx, sessionKeyPrefix+id)
		if err != nil {
			return nil, NewSessionRepositoryError("list_sessions", id, err, "")
		}
		if exists > 0 {
			live = append(live, id)
		} else {
			_ = r.client.SRem(ctx, sessionIndexKey, id)
		}
	}

	return live, nil
}

// DeleteSession removes a session and its index entry
func (r *RedisSessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+sessionID)
	pipe.SRem(ctx, sessionIndexKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewSessionRepositoryError("delete_session", sessionID, err, "")
	}
	return nil
}

// Ping checks memory store connectivity
func (r *RedisSessionRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

func (r *RedisSessionRepository) persist(ctx context.Context, operation string, session *models.ConversationSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return NewSessionRepositoryError(operation, session.SessionID, err, "failed to marshal session")
	}

	// Session blob and index entry go in one transaction
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.SessionID, data, r.sessionTTL)
	pipe.SAdd(ctx, sessionIndexKey, session.SessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewSessionRepositoryError(operation, session.SessionID, err, "failed to execute transaction")
	}

	return nil
}
