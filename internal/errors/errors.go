// Package errors provides structured error types for colflat.
// Every error carries a category, a code and a retryable flag so that the
// stream runtime can tell protocol drift (fatal) from transient failures.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the layer that produced them.
type ErrorCategory string

const (
	ErrCategoryProtocol   ErrorCategory = "PROTOCOL"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryStream     ErrorCategory = "STREAM"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Protocol codes
	CodeUnsupportedVersion = "UNSUPPORTED_VERSION"
	CodeInvalidMessageKind = "INVALID_MESSAGE_KIND"
	CodeMalformedMessage   = "MALFORMED_MESSAGE"

	// Validation codes
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodeUnknownDataset = "UNKNOWN_DATASET"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeWriteFailed    = "WRITE_FAILED"

	// Stream codes
	CodeProduceFailed = "PRODUCE_FAILED"
	CodeCommitFailed  = "COMMIT_FAILED"

	// Query codes
	CodeInvalidReference = "INVALID_REFERENCE"
	CodeExecutionFailed  = "EXECUTION_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the system.
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

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// IsFatal reports whether the error is a protocol-level classification
// failure. Such messages are malformed and retrying them cannot succeed.
func IsFatal(err error) bool {
	return GetCategory(err) == ErrCategoryProtocol
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) ErrorCategory {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeWriteFailed:
		return true
	case category == ErrCategoryStream && code == CodeProduceFailed:
		return true
	case category == ErrCategoryStream && code == CodeCommitFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewProtocolError(code, message string) *Error {
	return New(ErrCategoryProtocol, code, message)
}

func NewValidationError(code, message string) *Error {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewStreamError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryStream, code, message, cause)
}

func NewQueryError(code, message string) *Error {
	return New(ErrCategoryQuery, code, message)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
