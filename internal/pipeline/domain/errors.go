package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in storage
	ErrJobNotFound = errors.New("job not found")

	// ErrTaskNotFound is returned when a task cannot be found in storage
	ErrTaskNotFound = errors.New("task not found")

	// ErrQueueItemNotFound is returned when a queue item cannot be found
	ErrQueueItemNotFound = errors.New("queue item not found")

	// ErrEntryNotFound is returned when an error log entry cannot be found
	ErrEntryNotFound = errors.New("error log entry not found")

	// ErrInvalidStateTransition is returned when a task transition request
	// does not match the legal transition table. The task is left unchanged.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrDuplicateEnqueue is returned when a task already has an active
	// (pending or processing) queue item. The existing item is untouched.
	ErrDuplicateEnqueue = errors.New("task already has an active queue item")

	// ErrInvalidJobState is returned when a control operation is not legal
	// for the job's current status
	ErrInvalidJobState = errors.New("operation not allowed in current job state")

	// ErrJobInProgress is returned when deleting a job that has not reached
	// a terminal status
	ErrJobInProgress = errors.New("job is still in progress")
)

// FailureKind classifies a delivery failure for the retry policy.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailureRateLimit FailureKind = "rate_limit"
	FailurePermanent FailureKind = "permanent"
)

// Retryable reports whether the retry policy may schedule another attempt.
func (k FailureKind) Retryable() bool {
	return k == FailureTransient || k == FailureRateLimit
}

// DeliveryError is a classified transport failure.
type DeliveryError struct {
	Kind   FailureKind
	Reason string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed (%s): %s", e.Kind, e.Reason)
}

// NewDeliveryError creates a classified delivery error.
func NewDeliveryError(kind FailureKind, reason string) *DeliveryError {
	return &DeliveryError{Kind: kind, Reason: reason}
}

// GenerationError wraps a content engine failure. Generation failures are
// not retried: they bypass the retry policy and fail the task directly.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return "content generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerationError creates a new generation error.
func NewGenerationError(err error) error {
	return &GenerationError{Err: err}
}
