package domain

import (
	"fmt"
	"net/http"
)

// Kind identifies which bucket of the error taxonomy in spec.md §7 an
// error belongs to, independent of its Go type.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindNotFound      Kind = "NotFound"
	KindConflict      Kind = "Conflict"
	KindExecution     Kind = "ExecutionFailure"
	KindTimeout       Kind = "Timeout"
	KindTransient     Kind = "TransientStoreError"
	KindShuttingDown  Kind = "ShutdownInProgress"
)

// KindedError is implemented by every error type in this package so HTTP
// handlers can translate them uniformly.
type KindedError interface {
	error
	Kind() Kind
	HTTPStatus() int
}

// ValidationError signals a malformed request or illegal operation for
// the current state (spec.md §7). HTTP 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string    { return e.Message }
func (e *ValidationError) Kind() Kind       { return KindValidation }
func (e *ValidationError) HTTPStatus() int  { return http.StatusBadRequest }

// NotFoundError signals an unknown task/worker/conversation. HTTP 404.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}
func (e *NotFoundError) Kind() Kind      { return KindNotFound }
func (e *NotFoundError) HTTPStatus() int { return http.StatusNotFound }

// ConflictError signals a state-machine violation: completing a
// non-running task, a worker acting on a task it doesn't own. HTTP 409.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string    { return e.Message }
func (e *ConflictError) Kind() Kind       { return KindConflict }
func (e *ConflictError) HTTPStatus() int  { return http.StatusConflict }

// ExecutionError wraps a failure raised by the Executor Adapter. It is
// recorded in the task's error_details and never surfaced directly to
// the submitting client (spec.md §7) — only the task's own state is.
type ExecutionError struct {
	Message string
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}
func (e *ExecutionError) Unwrap() error  { return e.Cause }
func (e *ExecutionError) Kind() Kind     { return KindExecution }
func (e *ExecutionError) HTTPStatus() int { return http.StatusInternalServerError }

// TimeoutError signals a task or claim deadline was exceeded.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string    { return e.Message }
func (e *TimeoutError) Kind() Kind       { return KindTimeout }
func (e *TimeoutError) HTTPStatus() int  { return http.StatusGatewayTimeout }

// TransientStoreError wraps a retryable Store failure and maps to HTTP
// 503. The Postgres store does not produce it, and the HTTP handlers do
// not retry store calls; pkg/retry is used only by the worker loops'
// terminal CompleteTask/FailTask writes.
type TransientStoreError struct {
	Cause error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Cause)
}
func (e *TransientStoreError) Unwrap() error  { return e.Cause }
func (e *TransientStoreError) Kind() Kind     { return KindTransient }
func (e *TransientStoreError) HTTPStatus() int { return http.StatusServiceUnavailable }

// ShutdownInProgressError is the ShutdownInProgress kind, HTTP 503. No
// claim or task-creation path returns it: claims and task creation are
// accepted while the service drains.
type ShutdownInProgressError struct{}

func (e *ShutdownInProgressError) Error() string   { return "shutdown in progress" }
func (e *ShutdownInProgressError) Kind() Kind      { return KindShuttingDown }
func (e *ShutdownInProgressError) HTTPStatus() int { return http.StatusServiceUnavailable }
