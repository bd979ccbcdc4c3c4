package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"support-agent/internal/repositories"
)

// RetentionWorker enforces the customer data retention window. It
// periodically sweeps stored sessions and customer profiles and deletes
// anything idle past the retention period. Redis TTLs handle the common
// expiry path; the sweep catches records whose TTLs kept sliding and
// keeps the retention promise independent of access patterns.
type RetentionWorker struct {
	*BaseWorker
	sessions  repositories.SessionRepository
	profiles  repositories.ProfileRepository
	retention time.Duration
	logger    *log.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// RetentionWorkerConfig holds the retention worker's dependencies
type RetentionWorkerConfig struct {
	WorkerConfig
	Sessions      repositories.SessionRepository
	Profiles      repositories.ProfileRepository
	RetentionDays int
	Logger        *log.Logger
}

// NewRetentionWorker creates a new retention worker
func NewRetentionWorker(cfg RetentionWorkerConfig) *RetentionWorker {
	return &RetentionWorker{
		BaseWorker: NewBaseWorker(cfg.WorkerConfig),
		sessions:   cfg.Sessions,
		profiles:   cfg.Profiles,
		retention:  time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:     cfg.Logger,
	}
}

// Start begins the periodic retention sweep
func (w *RetentionWorker) Start(ctx context.Context) error {
	if w.IsRunning() {
		return NewWorkerError(w.Name(), "start", nil, "worker already running")
	}
	if w.retention <= 0 {
		return NewWorkerError(w.Name(), "start", nil, "retention period must be positive")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.setRunning(true)

	go w.run(runCtx)

	w.logger.Printf("Retention worker started (window %s, sweep every %s)",
		w.retention, w.Config().SweepInterval)
	return nil
}

// Stop shuts the worker down, waiting up to the shutdown timeout for an
// in-flight sweep to finish
func (w *RetentionWorker) Stop(ctx context.Context) error {
	if !w.IsRunning() {
		return nil
	}
	w.cancel()

	select {
	case <-w.done:
	case <-time.After(w.Config().ShutdownTimeout):
		w.setRunning(false)
		return NewWorkerError(w.Name(), "stop", nil, "shutdown timed out")
	case <-ctx.Done():
		w.setRunning(false)
		return ctx.Err()
	}

	w.setRunning(false)
	w.logger.Printf("Retention worker stopped")
	return nil
}

func (w *RetentionWorker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.Config().SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := w.safeSweep(ctx)
			w.recordSweep(removed, err)
			if err != nil {
				w.logger.Printf("Retention sweep failed: %v", err)
			} else if removed > 0 {
				w.logger.Printf("Retention sweep removed %d records", removed)
			}
		}
	}
}

// safeSweep runs one sweep with optional panic recovery
func (w *RetentionWorker) safeSweep(ctx context.Context) (removed int, err error) {
	if w.Config().EnableRecovery {
		defer func() {
			if r := recover(); r != nil {
				err = NewWorkerError(w.Name(), "sweep", nil, fmt.Sprintf("sweep panic: %v", r))
			}
		}()
	}
	return w.Sweep(ctx)
}

// Sweep deletes all sessions and profiles idle beyond the retention
// window. Returns the number of records removed.
func (w *RetentionWorker) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	removed := 0

	sessionIDs, err := w.sessions.ListSessionIDs(ctx)
	if err != nil {
		return removed, NewWorkerError(w.Name(), "list_sessions", err, "")
	}
	for _, id := range sessionIDs {
		session, err := w.sessions.LoadSession(ctx, id)
		if err != nil {
			if repositories.IsNotFound(err) {
				continue
			}
			return removed, NewWorkerError(w.Name(), "load_session", err, "")
		}
		if session.IdleSince(now) < w.retention {
			continue
		}
		if err := w.sessions.DeleteSession(ctx, id); err != nil {
			return removed, NewWorkerError(w.Name(), "delete_session", err, "")
		}
		w.logger.Printf("Retention: deleted session %s (idle since %s)", id, session.LastActivityAt.Format(time.RFC3339))
		removed++
	}

	profileIDs, err := w.profiles.ListProfileIDs(ctx)
	if err != nil {
		return removed, NewWorkerError(w.Name(), "list_profiles", err, "")
	}
	for _, id := range profileIDs {
		profile, err := w.profiles.GetProfile(ctx, id)
		if err != nil {
			if repositories.IsNotFound(err) {
				continue
			}
			return removed, NewWorkerError(w.Name(), "get_profile", err, "")
		}
		if profile.LastInteraction.IsZero() || now.Sub(profile.LastInteraction) < w.retention {
			continue
		}
		if err := w.profiles.DeleteProfile(ctx, id); err != nil {
			return removed, NewWorkerError(w.Name(), "delete_profile", err, "")
		}
		w.logger.Printf("Retention: deleted profile %s", id)
		removed++
	}

	return removed, nil
}
