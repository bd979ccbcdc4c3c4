package models

import (
	"fmt"
	"time"
)

// ValidationError represents a field-level validation failure
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// RetrievalUnavailableError indicates the embedding or vector backend could
// not be reached. It must propagate to the caller; a silent empty result
// would let the arbiter answer ungrounded.
type RetrievalUnavailableError struct {
	Backend string
	Err     error
}

func (e *RetrievalUnavailableError) Error() string {
	if e.Err != nil {
		return "retrieval unavailable (" + e.Backend + "): " + e.Err.Error()
	}
	return "retrieval unavailable (" + e.Backend + ")"
}

func (e *RetrievalUnavailableError) Unwrap() error {
	return e.Err
}

// NewRetrievalUnavailableError creates a new retrieval unavailable error
func NewRetrievalUnavailableError(backend string, err error) *RetrievalUnavailableError {
	return &RetrievalUnavailableError{Backend: backend, Err: err}
}

// BudgetInfeasibleError indicates the configured token budget cannot fit even
// the system instructions plus the reserved response. This is a configuration
// error, not a runtime condition to truncate away.
type BudgetInfeasibleError struct {
	MaxTokens      int
	SystemTokens   int
	ReservedTokens int
}

func (e *BudgetInfeasibleError) Error() string {
	return fmt.Sprintf("token budget infeasible: system (%d) + reserved (%d) exceed max (%d)",
		e.SystemTokens, e.ReservedTokens, e.MaxTokens)
}

// SessionBusyError indicates a concurrent turn already holds the session lock
type SessionBusyError struct {
	SessionID string
	WaitedFor time.Duration
}

func (e *SessionBusyError) Error() string {
	return fmt.Sprintf("session %s busy: another turn in flight (waited %s)", e.SessionID, e.WaitedFor)
}

// SessionEscalatedError indicates the session was handed to a human and no
// further automatic responses are allowed
type SessionEscalatedError struct {
	SessionID string
}

func (e *SessionEscalatedError) Error() string {
	return "session " + e.SessionID + " escalated: awaiting human agent"
}

// ProviderError represents a failure from an external LLM or summarizer
// provider. Timeout distinguishes deadline expiry from other transport errors.
type ProviderError struct {
	Provider string
	Err      error
	Timeout  bool
}

func (e *ProviderError) Error() string {
	kind := "error"
	if e.Timeout {
		kind = "timeout"
	}
	if e.Err != nil {
		return e.Provider + " " + kind + ": " + e.Err.Error()
	}
	return e.Provider + " " + kind
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, err error, timeout bool) *ProviderError {
	return &ProviderError{Provider: provider, Err: err, Timeout: timeout}
}

// GroundingViolationError indicates a response attempted to cite a chunk that
// was not part of the assembled context. Caught internally before returning;
// never surfaced to the end user.
type GroundingViolationError struct {
	ChunkID string
}

func (e *GroundingViolationError) Error() string {
	return "grounding violation: citation references chunk outside assembled context: " + e.ChunkID
}
