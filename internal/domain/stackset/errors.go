package stackset

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies a well-known category of domain failure. The
// executor and CLI switch on these codes rather than string-matching
// messages.
type ErrorCode string

const (
	ErrCodeConfig               ErrorCode = "CONFIG_ERROR"
	ErrCodeDuplicateStack       ErrorCode = "DUPLICATE_STACK"
	ErrCodeDuplicateStackName   ErrorCode = "DUPLICATE_STACK_NAME"
	ErrCodeMissingTemplate      ErrorCode = "MISSING_TEMPLATE"
	ErrCodeCircularDependency   ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrCodeUnresolvedDependency ErrorCode = "UNRESOLVED_DEPENDENCY"
	ErrCodeResolution           ErrorCode = "RESOLUTION_ERROR"
	ErrCodeMissingVariable      ErrorCode = "MISSING_VARIABLE"
	ErrCodeUnknownVariable      ErrorCode = "UNKNOWN_VARIABLE"
	ErrCodeValidation           ErrorCode = "VALIDATION_ERROR"
	ErrCodeNoUpdates            ErrorCode = "NO_UPDATES"
	ErrCodeThrottled            ErrorCode = "THROTTLED"
	ErrCodeStackRolledBack      ErrorCode = "STACK_ROLLED_BACK"
	ErrCodeStackDeleted         ErrorCode = "STACK_DELETED"
	ErrCodeTimedOut             ErrorCode = "TIMED_OUT"
	ErrCodePermissionDenied     ErrorCode = "PERMISSION_DENIED"
	ErrCodeHookFailed           ErrorCode = "HOOK_FAILED"
	ErrCodeLockHeld             ErrorCode = "LOCK_HELD"
	ErrCodeCancelled            ErrorCode = "CANCELLED"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// DomainError is a typed error enriched with structured context. It is the
// sole error shape returned across package boundaries in this module so the
// executor and CLI can switch on Code rather than parse messages.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches DomainErrors by code; messages are allowed to differ so callers
// can check "is this a throttling error" without string comparison.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// WithContext returns a copy of the error with additional context merged in.
func (e *DomainError) WithContext(ctx map[string]interface{}) *DomainError {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &DomainError{Code: e.Code, Message: e.Message, Cause: e.Cause, Context: merged}
}

func newError(code ErrorCode, message string, ctx map[string]interface{}) *DomainError {
	return &DomainError{Code: code, Message: message, Context: ctx}
}

func newWrappedError(code ErrorCode, message string, cause error, ctx map[string]interface{}) *DomainError {
	return &DomainError{Code: code, Message: message, Cause: cause, Context: ctx}
}

// CircularDependencyError enumerates every cycle detected during graph
// validation, per spec §4.4 step 5 ("a cycle aborts the whole invocation
// with CircularDependency listing the cycles").
type CircularDependencyError struct {
	Cycles [][]string
}

func (e *CircularDependencyError) Error() string {
	parts := make([]string, 0, len(e.Cycles))
	for _, cycle := range e.Cycles {
		parts = append(parts, strings.Join(cycle, " -> "))
	}
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(parts, "; "))
}

// UnresolvedDependencyError signals that a lookup (typically `output`)
// referenced a stack whose outputs are not yet known. The planner treats
// this as an edge rather than a fatal error (spec §4.1).
type UnresolvedDependencyError struct {
	Producer string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("unresolved dependency on stack %q", e.Producer)
}

// AsDomainError coerces any error into a *DomainError, wrapping unknown
// errors as ErrCodeInternal rather than swallowing them (spec §7: "the core
// never swallows an unknown error").
func AsDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr
	}
	return &DomainError{Code: ErrCodeInternal, Message: err.Error(), Cause: err}
}
