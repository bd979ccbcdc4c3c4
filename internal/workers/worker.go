package workers

import (
	"context"
	"sync"
	"time"
)

// Worker defines the interface for background workers
type Worker interface {
	// Start begins the worker's periodic processing
	Start(ctx context.Context) error

	// Stop gracefully shuts down the worker
	Stop(ctx context.Context) error

	// Name returns the worker's name
	Name() string

	// IsRunning returns whether the worker is currently running
	IsRunning() bool

	// Stats returns worker statistics
	Stats() WorkerStats
}

// WorkerStats represents statistics about a worker
type WorkerStats struct {
	WorkerName      string        `json:"worker_name"`
	SweepsCompleted int64         `json:"sweeps_completed"`
	SweepsFailed    int64         `json:"sweeps_failed"`
	ItemsRemoved    int64         `json:"items_removed"`
	LastSweepTime   time.Time     `json:"last_sweep_time,omitempty"`
	Uptime          time.Duration `json:"uptime"`
	IsRunning       bool          `json:"is_running"`
}

// WorkerConfig holds configuration for workers
type WorkerConfig struct {
	// WorkerName is a unique identifier for this worker instance
	WorkerName string

	// SweepInterval is how often the worker runs one pass
	SweepInterval time.Duration

	// ShutdownTimeout is how long to wait for graceful shutdown
	ShutdownTimeout time.Duration

	// EnableRecovery enables panic recovery around each sweep
	EnableRecovery bool
}

// DefaultWorkerConfig returns a worker configuration with sensible defaults
func DefaultWorkerConfig(workerName string) WorkerConfig {
	return WorkerConfig{
		WorkerName:      workerName,
		SweepInterval:   5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		EnableRecovery:  true,
	}
}

// BaseWorker provides common functionality for periodic workers
type BaseWorker struct {
	config  WorkerConfig
	running bool
	mu      sync.RWMutex

	// Stats tracking
	sweepsCompleted int64
	sweepsFailed    int64
	itemsRemoved    int64
	startTime       time.Time
	lastSweepTime   time.Time
	statsMu         sync.RWMutex
}

// NewBaseWorker creates a new base worker
func NewBaseWorker(config WorkerConfig) *BaseWorker {
	return &BaseWorker{
		config: config,
	}
}

// Name returns the worker's name
func (w *BaseWorker) Name() string {
	return w.config.WorkerName
}

// IsRunning returns whether the worker is currently running
func (w *BaseWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// setRunning sets the running state
func (w *BaseWorker) setRunning(running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = running
	if running {
		w.startTime = time.Now()
	}
}

// Stats returns worker statistics
func (w *BaseWorker) Stats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	var uptime time.Duration
	if !w.startTime.IsZero() {
		uptime = time.Since(w.startTime)
	}

	return WorkerStats{
		WorkerName:      w.config.WorkerName,
		SweepsCompleted: w.sweepsCompleted,
		SweepsFailed:    w.sweepsFailed,
		ItemsRemoved:    w.itemsRemoved,
		LastSweepTime:   w.lastSweepTime,
		Uptime:          uptime,
		IsRunning:       w.IsRunning(),
	}
}

// recordSweep records the outcome of one sweep pass
func (w *BaseWorker) recordSweep(removed int, err error) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	if err != nil {
		w.sweepsFailed++
	} else {
		w.sweepsCompleted++
	}
	w.itemsRemoved += int64(removed)
	w.lastSweepTime = time.Now()
}

// Config returns the worker configuration
func (w *BaseWorker) Config() WorkerConfig {
	return w.config
}

// WorkerPool manages multiple workers
type WorkerPool struct {
	workers []Worker
	mu      sync.RWMutex
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{
		workers: make([]Worker, 0),
	}
}

// AddWorker adds a worker to the pool
func (p *WorkerPool) AddWorker(worker Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = append(p.workers, worker)
}

// StartAll starts all workers in the pool
func (p *WorkerPool) StartAll(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, worker := range p.workers {
		if err := worker.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops all workers in the pool
func (p *WorkerPool) StopAll(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(p.workers))

	for _, worker := range p.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			if err := w.Stop(ctx); err != nil {
				errChan <- err
			}
		}(worker)
	}

	wg.Wait()
	close(errChan)

	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}

// GetAllStats returns statistics for all workers
func (p *WorkerPool) GetAllStats() []WorkerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]WorkerStats, 0, len(p.workers))
	for _, worker := range p.workers {
		stats = append(stats, worker.Stats())
	}
	return stats
}

// Count returns the number of workers in the pool
func (p *WorkerPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// WorkerError represents a worker-specific error
type WorkerError struct {
	WorkerName string
	Operation  string
	Err        error
	Message    string
}

func (e *WorkerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	prefix := e.WorkerName + ":" + e.Operation
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix + ": unknown error"
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// NewWorkerError creates a new worker error
func NewWorkerError(workerName, operation string, err error, message string) *WorkerError {
	return &WorkerError{
		WorkerName: workerName,
		Operation:  operation,
		Err:        err,
		Message:    message,
	}
}
