// Package errors provides the error taxonomy shared by all hive components.
//
// Every failure surfaced across a component boundary is an *AppError carrying
// a stable machine-readable code. The CLI maps codes to exit codes; the
// supervisor maps them to log entries and status downgrades.
package errors

import (
	"errors"
	"fmt"
)

// Stable error codes.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeStoreTransient  = "STORE_TRANSIENT"
	CodeStoreIntegrity  = "STORE_INTEGRITY"
	CodeTransport       = "TRANSPORT_ERROR"
	CodeProtocol        = "PROTOCOL_ERROR"
	CodeStateConflict   = "STATE_CONFLICT"
	CodeDependencyUnmet = "DEPENDENCY_UNMET"
	CodeCyclic          = "CYCLIC_DEPENDENCY"
	CodeNoOpTransition  = "NOOP_TRANSITION"
	CodeAlreadyAssigned = "ALREADY_ASSIGNED"
	CodeAckTimeout      = "ROLE_ACK_TIMEOUT"
	CodePrecondition    = "PRECONDITION_FAILED"
	CodeCancelled       = "CANCELLED"
	CodeInternal        = "INTERNAL_ERROR"
)

// CLI exit codes: 0 success, 1 generic error, 2 precondition violation,
// 3 external dependency failure, 4 role injection timeout.
const (
	ExitOK           = 0
	ExitGeneric      = 1
	ExitPrecondition = 2
	ExitExternal     = 3
	ExitInjectionAck = 4
)

// AppError is an application error with a stable code and optional cause.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation creates a caller-contract violation error. Never retried.
func Validation(format string, args ...any) *AppError {
	return &AppError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a missing-entity error.
func NotFound(resource, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// Transient wraps a temporary store fault. Callers may retry with backoff.
func Transient(message string, err error) *AppError {
	return &AppError{Code: CodeStoreTransient, Message: message, Err: err}
}

// Integrity wraps a constraint violation. Indicates a logic bug; never retried.
func Integrity(message string, err error) *AppError {
	return &AppError{Code: CodeStoreIntegrity, Message: message, Err: err}
}

// Transport wraps a multiplexer failure (session or pane missing, tmux
// unreachable). Not retried by the injector.
func Transport(message string, err error) *AppError {
	return &AppError{Code: CodeTransport, Message: message, Err: err}
}

// Protocol creates a protocol-violation finding. Handled by alerting, never
// aborts the producing path.
func Protocol(format string, args ...any) *AppError {
	return &AppError{Code: CodeProtocol, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates an optimistic-concurrency failure. The caller re-reads
// and retries its own logic if desired.
func Conflict(format string, args ...any) *AppError {
	return &AppError{Code: CodeStateConflict, Message: fmt.Sprintf(format, args...)}
}

// DependencyUnmet reports unresolved blocking dependencies.
func DependencyUnmet(taskID string, blockers []string) *AppError {
	return &AppError{
		Code:    CodeDependencyUnmet,
		Message: fmt.Sprintf("task %s blocked by unresolved dependencies %v", taskID, blockers),
	}
}

// Cyclic reports a dependency edge that would form a cycle.
func Cyclic(taskID, dependsOn string) *AppError {
	return &AppError{
		Code:    CodeCyclic,
		Message: fmt.Sprintf("dependency %s -> %s would form a cycle", taskID, dependsOn),
	}
}

// NoOpTransition reports an idempotent self-transition.
func NoOpTransition(taskID, status string) *AppError {
	return &AppError{
		Code:    CodeNoOpTransition,
		Message: fmt.Sprintf("task %s is already %s", taskID, status),
	}
}

// AlreadyAssigned reports a second primary assignment attempt.
func AlreadyAssigned(taskID, assignee string) *AppError {
	return &AppError{
		Code:    CodeAlreadyAssigned,
		Message: fmt.Sprintf("task %s already has primary assignee %s", taskID, assignee),
	}
}

// AckTimeout reports a bee that never acknowledged its role document.
func AckTimeout(bee string) *AppError {
	return &AppError{
		Code:    CodeAckTimeout,
		Message: fmt.Sprintf("bee %s did not acknowledge role injection in time", bee),
	}
}

// Precondition reports an unmet CLI precondition (session not running, etc).
func Precondition(format string, args ...any) *AppError {
	return &AppError{Code: CodePrecondition, Message: fmt.Sprintf(format, args...)}
}

// Cancelled wraps a context cancellation or deadline expiry.
func Cancelled(err error) *AppError {
	return &AppError{Code: CodeCancelled, Message: "operation cancelled", Err: err}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

// CodeOf extracts the stable code from an error chain, or CodeInternal.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// ExitCodeOf maps an error to the CLI exit code contract.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	switch CodeOf(err) {
	case CodePrecondition, CodeValidation, CodeAlreadyAssigned, CodeNoOpTransition:
		return ExitPrecondition
	case CodeTransport, CodeStoreTransient:
		return ExitExternal
	case CodeAckTimeout:
		return ExitInjectionAck
	default:
		return ExitGeneric
	}
}

// Is re-exports errors.Is for call sites that alias this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As re-exports errors.As for call sites that alias this package.
func As(err error, target any) bool { return errors.As(err, target) }
