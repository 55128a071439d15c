package agentloop

import (
	"errors"
	"fmt"
)

// ErrMaxIterations ends a run whose model kept requesting tools past the
// iteration ceiling.
var ErrMaxIterations = errors.New("max iterations reached")

// ErrNothingToUndo is returned by EditStore.Undo on an empty history.
var ErrNothingToUndo = errors.New("nothing to undo")

// ErrPendingNotFound is returned when a pending edit id is unknown.
var ErrPendingNotFound = errors.New("pending edit not found")

// ToolArgumentError reports tool arguments that were not a JSON object.
// The tool still runs with empty arguments.
type ToolArgumentError struct {
	Tool  string
	Raw   string
	Cause error
}

func (e *ToolArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Cause)
}

func (e *ToolArgumentError) Unwrap() error { return e.Cause }

// ToolPolicyError is a refusal by the safety policy: a path outside the
// workspace or a blocked command.
type ToolPolicyError struct {
	Tool   string
	Reason string
}

func (e *ToolPolicyError) Error() string { return e.Reason }

// ToolExecutionError wraps a failure inside a tool handler.
type ToolExecutionError struct {
	Tool  string
	Cause error
}

func (e *ToolExecutionError) Error() string {
	if e.Cause == nil {
		return "tool " + e.Tool + " failed"
	}
	return e.Cause.Error()
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// UnknownToolError is returned for a tool name that is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return "Unknown tool: " + e.Name }
