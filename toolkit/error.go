package toolkit

import (
	"errors"
	"fmt"
)

// ToolError is a structured tool failure that preserves message and causal
// context while implementing the standard error interface, so callers can
// still errors.Is/As through a chain of tool failures (e.g. a subtask tool
// wrapping its child's failure).
type ToolError struct {
	Message string
	Cause   *ToolError
}

// NewToolError constructs a ToolError with the given message.
func NewToolError(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// WrapToolError constructs a ToolError wrapping an underlying error.
func WrapToolError(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a ToolError chain, reusing an
// existing ToolError chain if err already carries one.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// ToolErrorf formats a message and returns it as a ToolError.
func ToolErrorf(format string, args ...any) *ToolError {
	return NewToolError(fmt.Sprintf(format, args...))
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Validation errors, rejected synchronously before any event is appended
// (spec.md §7's Validation taxonomy).
var (
	ErrUnknownTool        = errors.New("toolkit: unknown tool")
	ErrInvalidArguments   = errors.New("toolkit: arguments do not match the tool's parameter schema")
	ErrRateLimited        = errors.New("toolkit: rate limit exceeded")
)
