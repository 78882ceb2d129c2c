package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// DuplicateToolError is returned by [New] when two definitions share a name.
// Registration-time misconfiguration; fatal to startup.
type DuplicateToolError struct {
	// Name is the duplicated tool name.
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("dispatch: duplicate tool %q", e.Name)
}

// MissingHandlerError is returned by [New] when a definition has no handler
// under its name. Registration-time misconfiguration; fatal to startup.
type MissingHandlerError struct {
	// Name is the tool name lacking a handler.
	Name string
}

func (e *MissingHandlerError) Error() string {
	return fmt.Sprintf("dispatch: no handler registered for tool %q", e.Name)
}

// UnknownToolError is returned by [Runtime.Invoke] when the caller names a
// tool that is not in the registry.
type UnknownToolError struct {
	// Name is the tool name the caller asked for.
	Name string

	// Suggestion is the registered name closest to Name by edit distance,
	// or "" when nothing is close enough to be worth suggesting.
	Suggestion string
}

func (e *UnknownToolError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("dispatch: unknown tool %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("dispatch: unknown tool %q", e.Name)
}

// FieldViolation describes one input field that failed schema validation.
type FieldViolation struct {
	// Field is the offending field name, or "" for document-level problems
	// such as malformed JSON.
	Field string

	// Message is the human-readable description of the violation.
	Message string
}

// InputValidationError is returned by [Runtime.Invoke] when the caller's
// arguments fail the tool's declared input schema. The handler is never
// invoked when this error is returned.
type InputValidationError struct {
	// Tool is the tool whose schema was violated.
	Tool string

	// Violations lists every field-level failure found.
	Violations []FieldViolation
}

func (e *InputValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		if v.Field == "" {
			parts[i] = v.Message
		} else {
			parts[i] = v.Field + ": " + v.Message
		}
	}
	return fmt.Sprintf("dispatch: invalid arguments for tool %q: %s", e.Tool, strings.Join(parts, "; "))
}

// TimeoutError is returned by [Runtime.Invoke] when the handler does not
// settle within its effective timeout. The handler may still be running in
// the background; cancellation is cooperative only.
type TimeoutError struct {
	// Tool is the tool that timed out.
	Tool string

	// Budget is the effective timeout that elapsed.
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dispatch: tool %q did not complete within %s", e.Tool, e.Budget)
}

// ExecutionError is returned by [Runtime.Invoke] when the handler itself
// fails. The original cause is available via [errors.Unwrap].
type ExecutionError struct {
	// Tool is the tool whose handler failed.
	Tool string

	// Cause is the handler's error.
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("dispatch: tool %q failed: %v", e.Tool, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// OutputValidationError is returned by [Runtime.Invoke] when the handler's
// return value violates the tool's declared output schema or cannot be
// serialised. This indicates a handler bug rather than a caller error, but is
// surfaced as a call failure instead of crashing the process.
type OutputValidationError struct {
	// Tool is the tool whose handler returned an invalid value.
	Tool string

	// Cause is the underlying validation or serialisation error.
	Cause error
}

func (e *OutputValidationError) Error() string {
	return fmt.Sprintf("dispatch: tool %q returned an output violating its schema: %v", e.Tool, e.Cause)
}

func (e *OutputValidationError) Unwrap() error { return e.Cause }
