package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"support-agent/internal/db"
	"support-agent/internal/models"
)

const (
	sessionLockPrefix       = "lock:session:"
	sessionLockPollInterval = 100 * time.Millisecond
)

// Lock expiry caps how long a crashed holder can block a session
const sessionLockExpiry = 2 * time.Minute

// Lua compare-and-delete so a holder can only release its own lock
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// SessionLocker serializes turns within a session. Acquire blocks up to
// maxWait for the lock; concurrent turns on different sessions proceed in
// parallel.
type SessionLocker interface {
	Acquire(ctx context.Context, sessionID string, maxWait time.Duration) (release func(), err error)
}

// RedisSessionLock implements SessionLocker with a SetNX advisory lock.
// Each acquisition holds a unique token so release cannot free a lock a
// later holder re-acquired after expiry.
type RedisSessionLock struct {
	client *db.RedisClient
}

// NewRedisSessionLock creates a new Redis-backed session lock
func NewRedisSessionLock(client *db.RedisClient) *RedisSessionLock {
	return &RedisSessionLock{client: client}
}

// Acquire takes the per-session lock, polling until maxWait elapses. On
// timeout it returns SessionBusyError so callers can surface a retryable
// busy signal instead of queueing unboundedly.
func (l *RedisSessionLock) Acquire(ctx context.Context, sessionID string, maxWait time.Duration) (func(), error) {
	key := sessionLockPrefix + sessionID
	token := uuid.New().String()
	deadline := time.Now().Add(maxWait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, sessionLockExpiry)
		if err != nil {
			return nil, NewSessionRepositoryError("acquire_lock", sessionID, err, "")
		}
		if ok {
			release := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_, _ = l.client.Eval(releaseCtx, releaseScript, []string{key}, token)
			}
			return release, nil
		}

		if time.Now().After(deadline) {
			return nil, &models.SessionBusyError{SessionID: sessionID, WaitedFor: maxWait}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sessionLockPollInterval):
		}
	}
}
