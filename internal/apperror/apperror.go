// Package apperror defines the closed set of error kinds the library service
// can return. Every error that crosses a package boundary either wraps one of
// these sentinels or is treated as an internal failure.
//
// KINDS:
//
//	ErrNotFound   → the uid, book, copy or request does not exist
//	ErrConflict   → the operation collides with current state (duplicate
//	                waiting-list entry, copy already borrowed, second rating)
//	ErrValidation → the caller sent something malformed
//	ErrInternal   → anything else; its text never reaches a client
//	ErrForbidden  → the caller's role does not allow the action
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
	ErrForbidden  = errors.New("forbidden")
)

// Stable machine-readable codes, one per kind.
const (
	CodeNotFound   = "not_found"
	CodeValidation = "validation_error"
	CodeConflict   = "conflict"
	CodeForbidden  = "forbidden"
	CodeInternal   = "internal_error"
)

type AppError struct {
	Err     error  // kind sentinel
	Message string // human-readable, safe to show to a client
	Field   string // optional: request field that failed validation
	Cause   error  // optional: underlying failure, kept for logs only
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// ConflictMsg is Conflict with a caller-supplied message, for collisions that
// are not about a single resource id.
func ConflictMsg(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// Internal marks a failure the client cannot act on. The message is logged;
// HTTP handlers replace it with a generic text.
func Internal(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrInternal,
		Message: message,
		Cause:   cause,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Kind returns the stable code for err. Errors that carry no kind are internal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInternal):
		return CodeInternal
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	default:
		return CodeInternal
	}
}

// PublicMessage returns the text a client may see for err. Internal and
// untyped errors collapse to a fixed string.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && !errors.Is(appErr.Err, ErrInternal) {
		return appErr.Message
	}
	return "An internal error occurred"
}
