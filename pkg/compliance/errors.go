package compliance

import (
	"errors"
	"fmt"
)

// InputError represents a malformed transaction or document that was rejected
// before any work was done. Nothing is written when an InputError is returned.
type InputError struct {
	Field   string // Offending field, empty for whole-input problems
	Message string // What is wrong with it
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid input [field=%s]: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid input: %s", e.Message)
}

// NewInputError creates a new InputError.
func NewInputError(field, message string) *InputError {
	return &InputError{
		Field:   field,
		Message: message,
	}
}

// RetrievalUnavailableError means the vector store could not be reached.
// Callers distinguish it from "no matches" and switch to fallback retrieval.
type RetrievalUnavailableError struct {
	Backend string // Vector store backend ("sqlite", "pgvector", etc.)
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *RetrievalUnavailableError) Error() string {
	return fmt.Sprintf("retrieval unavailable [backend=%s]: %v", e.Backend, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RetrievalUnavailableError) Unwrap() error {
	return e.Cause
}

// NewRetrievalUnavailableError creates a new RetrievalUnavailableError.
func NewRetrievalUnavailableError(backend string, cause error) *RetrievalUnavailableError {
	return &RetrievalUnavailableError{
		Backend: backend,
		Cause:   cause,
	}
}

// SynthesisUnavailableError means the reasoning service was down, timed out,
// or returned an unparseable response. Callers switch to the deterministic
// rule fallback.
type SynthesisUnavailableError struct {
	Reason string // "timeout", "parse", "circuit_open", etc.
	Cause  error  // Underlying error
}

// Error implements the error interface.
func (e *SynthesisUnavailableError) Error() string {
	return fmt.Sprintf("synthesis unavailable [reason=%s]: %v", e.Reason, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *SynthesisUnavailableError) Unwrap() error {
	return e.Cause
}

// NewSynthesisUnavailableError creates a new SynthesisUnavailableError.
func NewSynthesisUnavailableError(reason string, cause error) *SynthesisUnavailableError {
	return &SynthesisUnavailableError{
		Reason: reason,
		Cause:  cause,
	}
}

// PersistenceError means a storage write failed. The evaluation that hit it is
// surfaced as failed to the caller; no partial Decision becomes visible.
type PersistenceError struct {
	Op    string // Operation that failed ("save_decision", "save_case", etc.)
	Cause error  // Underlying error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error [op=%s]: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(op string, cause error) *PersistenceError {
	return &PersistenceError{
		Op:    op,
		Cause: cause,
	}
}

// SentinelDiffError means two policy versions could not be diffed. The change
// is recorded with magnitude UNKNOWN and no re-evaluation is enqueued.
type SentinelDiffError struct {
	DocID       string
	FromVersion int
	ToVersion   int
	Cause       error
}

// Error implements the error interface.
func (e *SentinelDiffError) Error() string {
	return fmt.Sprintf("sentinel diff error [doc_id=%s, from=v%d, to=v%d]: %v",
		e.DocID, e.FromVersion, e.ToVersion, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *SentinelDiffError) Unwrap() error {
	return e.Cause
}

// NewSentinelDiffError creates a new SentinelDiffError.
func NewSentinelDiffError(docID string, fromVersion, toVersion int, cause error) *SentinelDiffError {
	return &SentinelDiffError{
		DocID:       docID,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Cause:       cause,
	}
}

// StorageError represents an error from a storage backend.
type StorageError struct {
	Backend   string // Storage backend type ("sqlite", "memory", etc.)
	Operation string // Operation that failed ("save", "get", "list", etc.)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// NotFoundError means a record addressed by ID does not exist.
type NotFoundError struct {
	Kind string // "decision", "document", "task", etc.
	ID   string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{
		Kind: kind,
		ID:   id,
	}
}

// IsNotFound reports whether err is a NotFoundError anywhere in its chain.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
