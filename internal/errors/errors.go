// Package errors provides the error vocabulary for krenk: sentinel errors
// for each failure class of a pipeline run, domain error types that carry
// worker/run context, and classification helpers used by the engine to
// decide whether a failure is locally recoverable.
//
// The failure classes map to how a run reacts:
//
//   - spawn failure (ErrSpawnFailed): the worker binary could not start; terminal for the run
//   - worker failure (ErrWorkerFailed): non-zero exit; handled by the director's redo budget
//   - killed worker (ErrWorkerKilled): the supervisor terminated a hung or over-budget process
//   - engine fault: anything else surfacing from Run; the run is checkpointed as failed
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrSpawnFailed) { ... }
//
//	var werr *errors.WorkerError
//	if errors.As(err, &werr) { log("role", werr.Role, "exit", werr.ExitCode) }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Worker sentinel errors
var (
	// ErrSpawnFailed indicates the external agent binary could not be launched.
	ErrSpawnFailed = New("worker spawn failed")
	// ErrWorkerFailed indicates the worker exited with a non-zero status.
	ErrWorkerFailed = New("worker failed")
	// ErrWorkerKilled indicates the supervisor terminated the worker.
	ErrWorkerKilled = New("worker killed")
)

// Run sentinel errors
var (
	// ErrRunNotFound indicates no persisted state exists for a run ID.
	ErrRunNotFound = New("run not found")
	// ErrRunCorrupted indicates persisted run state could not be decoded.
	ErrRunCorrupted = New("run state corrupted")
	// ErrRunLocked indicates another live process owns the working directory.
	ErrRunLocked = New("run is locked by another process")
	// ErrRunFinished indicates an attempt to resume or mutate a finished run.
	ErrRunFinished = New("run already finished")
	// ErrStageUnknown indicates a stage identifier outside the pipeline.
	ErrStageUnknown = New("unknown stage")
)

// General sentinel errors
var (
	// ErrCanceled indicates that the run was aborted.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// WorkerError carries the role and process context of a worker failure.
//
//	err := errors.NewWorkerError("builder", errors.ErrSpawnFailed).WithPID(0)
//	fmt.Println(err) // "worker error [role=builder]: worker spawn failed"
type WorkerError struct {
	Role     string
	PID      int
	ExitCode int
	Detail   string
	cause    error
}

// NewWorkerError creates a WorkerError for role wrapping cause.
func NewWorkerError(role string, cause error) *WorkerError {
	return &WorkerError{Role: role, cause: cause, ExitCode: -1}
}

// WithPID records the worker's process id.
func (e *WorkerError) WithPID(pid int) *WorkerError {
	e.PID = pid
	return e
}

// WithExitCode records the worker's exit status.
func (e *WorkerError) WithExitCode(code int) *WorkerError {
	e.ExitCode = code
	return e
}

// WithDetail attaches free text such as a stderr tail.
func (e *WorkerError) WithDetail(detail string) *WorkerError {
	e.Detail = detail
	return e
}

// Error returns the formatted error message.
func (e *WorkerError) Error() string {
	parts := []string{fmt.Sprintf("role=%s", e.Role)}
	if e.PID > 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.PID))
	}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	msg := fmt.Sprintf("worker error [%s]", strings.Join(parts, ", "))
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s | %s", msg, e.Detail)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *WorkerError) Unwrap() error { return e.cause }

// Severity reports spawn failures as critical, everything else as error.
func (e *WorkerError) Severity() Severity {
	if errors.Is(e.cause, ErrSpawnFailed) {
		return SeverityCritical
	}
	return SeverityError
}

// RunError carries run and stage context for failures surfaced by the engine.
type RunError struct {
	RunID string
	Stage string
	cause error
}

// NewRunError creates a RunError.
func NewRunError(runID, stage string, cause error) *RunError {
	return &RunError{RunID: runID, Stage: stage, cause: cause}
}

// Error returns the formatted error message.
func (e *RunError) Error() string {
	var parts []string
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}
	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", e.Stage))
	}
	prefix := "run error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("run error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error { return e.cause }

// ValidationError describes one invalid field or argument.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error [%s=%v]: %s", e.Field, e.Value, e.Message)
}

// Is lets errors.Is(err, ErrInvalidInput) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable reports whether the director's redo loop may recover from err.
// Worker failures and kills are retryable; spawn failures and cancellation
// are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrSpawnFailed) || Is(err, ErrCanceled) {
		return false
	}
	return Is(err, ErrWorkerFailed) || Is(err, ErrWorkerKilled)
}

// IsTerminal reports whether err ends the run (it remains resumable from its
// last checkpoint).
func IsTerminal(err error) bool {
	return err != nil && !IsRetryable(err)
}

// GetSeverity returns the severity level of err.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityWarning
	}
	var werr *WorkerError
	if As(err, &werr) {
		return werr.Severity()
	}
	if Is(err, ErrCanceled) {
		return SeverityWarning
	}
	return SeverityError
}

// Wrap wraps err with a context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps err with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
