package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a Baton error code.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"  // 400
	ErrMissingArgument ErrorCode = "MISSING_ARGUMENT" // 400
	ErrInvalidPreset   ErrorCode = "INVALID_PRESET"   // 400
	ErrRegistry        ErrorCode = "REGISTRY"         // 400
	ErrNotFound        ErrorCode = "NOT_FOUND"        // 404
	ErrWriteOnce       ErrorCode = "WRITE_ONCE"       // 409
	ErrCancelled       ErrorCode = "CANCELLED"        // 499
	ErrTurnLimit       ErrorCode = "TURN_LIMIT"       // 422
	ErrAssistantAuth   ErrorCode = "ASSISTANT_AUTH"   // 401
	ErrAssistant       ErrorCode = "ASSISTANT"        // 502
	ErrStoreCollision  ErrorCode = "STORE_COLLISION"  // 500, fatal
	ErrInternal        ErrorCode = "INTERNAL"         // 500
)

// BatonError represents a structured error with code, status, and details.
type BatonError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *BatonError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *BatonError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *BatonError {
	return &BatonError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewMissingArgument creates a 400 error for placeholders left unresolved in strict mode.
func NewMissingArgument(names []string) *BatonError {
	return &BatonError{
		Code:    ErrMissingArgument,
		Status:  400,
		Message: fmt.Sprintf("missing arguments: %s", strings.Join(names, ", ")),
		Details: map[string]any{"missing": names},
	}
}

// NewInvalidPreset creates a 400 error for an unknown tool preset name.
func NewInvalidPreset(preset string, known []string) *BatonError {
	return &BatonError{
		Code:    ErrInvalidPreset,
		Status:  400,
		Message: fmt.Sprintf("unknown tool preset %q (known: %s)", preset, strings.Join(known, ", ")),
		Details: map[string]any{"preset": preset, "known": known},
	}
}

// NewRegistry creates a 400 error for invalid MCP registry operations.
func NewRegistry(name, msg string) *BatonError {
	return &BatonError{
		Code:    ErrRegistry,
		Status:  400,
		Message: fmt.Sprintf("mcp server %q: %s", name, msg),
		Details: map[string]any{"name": name},
	}
}

// NewNotFound creates a 404 error for when a folder or file cannot be found.
func NewNotFound(identifier string) *BatonError {
	return &BatonError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewWriteOnce creates a 409 error for a second write to a folder.
func NewWriteOnce(id string) *BatonError {
	return &BatonError{
		Code:    ErrWriteOnce,
		Status:  409,
		Message: fmt.Sprintf("folder %s has already been written", id),
		Details: map[string]any{"id": id},
	}
}

// NewCancelled creates a 499 error when an operation is cancelled.
func NewCancelled(operation string) *BatonError {
	return &BatonError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewTurnLimit creates a 422 error when the assistant exhausts its turn bound.
func NewTurnLimit(maxTurns int) *BatonError {
	return &BatonError{
		Code:    ErrTurnLimit,
		Status:  422,
		Message: fmt.Sprintf("assistant reached max turns (%d) without completing", maxTurns),
		Details: map[string]any{"max_turns": maxTurns},
	}
}

// NewAssistantAuth creates a 401 error when the assistant cannot authenticate.
func NewAssistantAuth(msg string) *BatonError {
	return &BatonError{
		Code:    ErrAssistantAuth,
		Status:  401,
		Message: msg,
	}
}

// NewAssistant creates a 502 error for assistant process or protocol failures.
func NewAssistant(err error) *BatonError {
	msg := "assistant failed"
	if err != nil {
		msg = err.Error()
	}
	return &BatonError{
		Code:    ErrAssistant,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewStoreCollision creates a 500 error when id allocation exhausts its retry budget.
// This indicates a defect in id generation and is never retried by callers.
func NewStoreCollision(attempts int) *BatonError {
	return &BatonError{
		Code:    ErrStoreCollision,
		Status:  500,
		Message: fmt.Sprintf("folder id collision persisted after %d attempts", attempts),
		Details: map[string]any{"attempts": attempts},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *BatonError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &BatonError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) a BatonError with the given code.
func Is(err error, code ErrorCode) bool {
	var bErr *BatonError
	if stderrors.As(err, &bErr) {
		return bErr.Code == code
	}
	return false
}

// CodeOf returns the code of a BatonError, or ErrInternal for any other error.
func CodeOf(err error) ErrorCode {
	var bErr *BatonError
	if stderrors.As(err, &bErr) {
		return bErr.Code
	}
	return ErrInternal
}
