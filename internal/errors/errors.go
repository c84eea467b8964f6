// Package errors provides structured error types for mtgsql.
// All errors include a category, code, message, and retryable flag so
// callers can tell a schema problem from an engine rejection without
// parsing strings.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by component.
type ErrorCategory string

const (
	ErrCategorySchema    ErrorCategory = "SCHEMA"
	ErrCategoryTransform ErrorCategory = "TRANSFORM"
	ErrCategoryQuery     ErrorCategory = "QUERY"
	ErrCategoryEngine    ErrorCategory = "ENGINE"
	ErrCategoryView      ErrorCategory = "VIEW"
	ErrCategoryArtifact  ErrorCategory = "ARTIFACT"
	ErrCategoryConfig    ErrorCategory = "CONFIG"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Schema codes
	CodeSchemaAmbiguity = "SCHEMA_AMBIGUITY"

	// Transform codes
	CodeTransformFailure = "TRANSFORM_FAILURE"

	// Query codes
	CodeIdentifierNotAllowed = "IDENTIFIER_NOT_ALLOWED"
	CodeInvalidArgument      = "INVALID_ARGUMENT"

	// Engine codes
	CodeEngineExecution = "ENGINE_EXECUTION"

	// View codes
	CodeStaleViewConflict = "STALE_VIEW_CONFLICT"
	CodeUnknownView       = "UNKNOWN_VIEW"

	// Artifact codes
	CodeArtifactNotFound = "ARTIFACT_NOT_FOUND"
	CodeDownloadFailed   = "DOWNLOAD_FAILED"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected    = "UNEXPECTED"
	CodeSessionClosed = "SESSION_CLOSED"
)

// Error is the structured error type used throughout mtgsql.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details merged
// over any existing ones.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	merged := make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	cp.Details = merged
	return &cp
}

// Detail returns a single detail value, or nil.
func (e *Error) Detail(key string) interface{} {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetDetail returns a detail of the first *Error in the chain, or nil.
func GetDetail(err error, key string) interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail(key)
	}
	return nil
}

// HasCode reports whether the first *Error in the chain carries code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}

// isRetryable: only a stale build and an artifact download are transient.
// Engine rejections usually mean a logic error and are never retried.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryView && code == CodeStaleViewConflict:
		return true
	case category == ErrCategoryArtifact && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewSchemaAmbiguity(relation, column, message string) *Error {
	return New(ErrCategorySchema, CodeSchemaAmbiguity, message).
		WithDetails(map[string]interface{}{"relation": relation, "column": column})
}

func NewTransformError(view, message string, cause error) *Error {
	return Wrap(ErrCategoryTransform, CodeTransformFailure, message, cause).
		WithDetails(map[string]interface{}{"view": view})
}

func NewIdentifierError(identifier, clause string) *Error {
	return New(ErrCategoryQuery, CodeIdentifierNotAllowed,
		fmt.Sprintf("identifier %q is not allowed in %s", identifier, clause)).
		WithDetails(map[string]interface{}{"identifier": identifier, "clause": clause})
}

func NewInvalidArgument(message string) *Error {
	return New(ErrCategoryQuery, CodeInvalidArgument, message)
}

func NewEngineError(message string, cause error) *Error {
	return Wrap(ErrCategoryEngine, CodeEngineExecution, message, cause)
}

func NewStaleViewError(view, built, current string) *Error {
	return New(ErrCategoryView, CodeStaleViewConflict,
		fmt.Sprintf("view %s was invalidated while building", view)).
		WithDetails(map[string]interface{}{"view": view, "built_fingerprint": built, "current_fingerprint": current})
}

func NewUnknownView(view string) *Error {
	return New(ErrCategoryView, CodeUnknownView, fmt.Sprintf("unknown view %q", view)).
		WithDetails(map[string]interface{}{"view": view})
}

func NewArtifactError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryArtifact, code, message, cause)
}

func NewConfigError(message string) *Error {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

func NewSessionClosed() *Error {
	return New(ErrCategoryInternal, CodeSessionClosed, "session is closed")
}
