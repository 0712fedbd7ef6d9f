package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline's error-kind taxonomy (see SPEC_FULL.md
// §8). Stages classify failures against these with errors.Is/errors.As so
// the orchestrator and queue consumer can decide retry vs DLQ vs drop
// without string matching.
var (
	ErrValidation    = errors.New("validation error")
	ErrQueueFull     = errors.New("queue full")
	ErrTransientStore = errors.New("transient store error")
	ErrPermanentStore = errors.New("permanent store error")
	ErrExtraction    = errors.New("extraction error")
	ErrAdjudication  = errors.New("adjudication error")
	ErrCancelled     = errors.New("cancelled")

	ErrEmptyContent     = errors.New("content is empty")
	ErrMissingUserID    = errors.New("userId is required")
	ErrMissingSessionID = errors.New("sessionId is required")
	ErrContentTooLarge  = errors.New("content exceeds maximum ingest size")
	ErrQueryTooShort    = errors.New("query too short")
	ErrInjection        = errors.New("request contains suspicious content")
)

// ValidationError wraps ErrValidation with the offending field and value; it
// is returned by the ingest/search request validators and never retried.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// QueueFullError wraps ErrQueueFull with the subject that was rejected.
type QueueFullError struct {
	Subject string
}

func (e *QueueFullError) Error() string       { return fmt.Sprintf("queue full: subject=%s", e.Subject) }
func (e *QueueFullError) Unwrap() error       { return ErrQueueFull }
func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

// StoreError wraps a graph/vector store failure, classified transient
// (network blip, timeout — safe to retry) or permanent (constraint
// violation, malformed query — retrying is pointless).
type StoreError struct {
	Op        string
	Transient bool
	Wrapped   error
}

func (e *StoreError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("store error (%s) during %s: %v", kind, e.Op, e.Wrapped)
}

func (e *StoreError) Unwrap() error { return e.Wrapped }

func (e *StoreError) Is(target error) bool {
	if e.Transient {
		return target == ErrTransientStore
	}
	return target == ErrPermanentStore
}

// NewTransientStoreError wraps a retryable store failure.
func NewTransientStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Transient: true, Wrapped: err}
}

// NewPermanentStoreError wraps a non-retryable store failure.
func NewPermanentStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Transient: false, Wrapped: err}
}

// ExtractionError wraps a ModelClient triple-extraction failure.
type ExtractionError struct {
	EpisodeUUID string
	Wrapped     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for episode %s: %v", e.EpisodeUUID, e.Wrapped)
}
func (e *ExtractionError) Unwrap() error       { return e.Wrapped }
func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// AdjudicationError wraps a ModelClient contradiction/dedup adjudication
// failure raised by the Resolver or Invalidator.
type AdjudicationError struct {
	StatementUUID string
	Wrapped       error
}

func (e *AdjudicationError) Error() string {
	return fmt.Sprintf("adjudication failed for statement %s: %v", e.StatementUUID, e.Wrapped)
}
func (e *AdjudicationError) Unwrap() error       { return e.Wrapped }
func (e *AdjudicationError) Is(target error) bool { return target == ErrAdjudication }

// CancelledError wraps a context-cancellation that aborted an in-flight
// pipeline stage.
type CancelledError struct {
	Stage string
}

func (e *CancelledError) Error() string        { return fmt.Sprintf("cancelled during stage %s", e.Stage) }
func (e *CancelledError) Unwrap() error        { return ErrCancelled }
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// IsRetryable reports whether err should be retried by the queue consumer:
// transient store errors and queue-full are retryable; validation,
// permanent store, and cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrTransientStore), errors.Is(err, ErrQueueFull):
		return true
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPermanentStore), errors.Is(err, ErrCancelled):
		return false
	}
	return true
}
