// Package agenterrors defines the typed error taxonomy surfaced by the
// rest of the module (spec §7). Configuration and transport errors
// terminate a run; validation/handler/eval/compaction failures never do —
// those are formatted into tool results or logged. ConditionEvalErr and
// CompactionErr are built only to carry a typed cause into those logs, and
// are never returned as a run's error.
//
// Grounded on goadesign-goa-ai's habit of small sentinel error types per
// failure domain (e.g. runtime/agent/tools/issue.go's FieldIssue-backed
// validation error) rather than a single generic error string; this
// package generalizes that to the seven error kinds below.
package agenterrors

import (
	"errors"
	"fmt"
)

// ConfigurationErr is raised synchronously from the reconciler when a tree
// is structurally invalid (spec §7: "subagent without name/model, Agent
// nested inside Agent, missing root store").
type ConfigurationErr struct{ Msg string }

func (e *ConfigurationErr) Error() string { return "configuration error: " + e.Msg }

// Configuration constructs a ConfigurationErr.
func Configuration(msg string) error { return &ConfigurationErr{Msg: msg} }

// Configurationf constructs a ConfigurationErr with formatting.
func Configurationf(format string, args ...any) error {
	return &ConfigurationErr{Msg: fmt.Sprintf(format, args...)}
}

// EmptyConversationErr is raised from the handle before the first turn
// when the store has no seed user message (spec §7).
type EmptyConversationErr struct{}

func (e *EmptyConversationErr) Error() string {
	return "empty conversation: agent store has no user message to respond to"
}

// EmptyConversation constructs an EmptyConversationErr.
func EmptyConversation() error { return &EmptyConversationErr{} }

// ChatRequestErr wraps a transport/API failure from the chat service (spec
// §7: "network, 4xx/5xx"). It terminates the run.
type ChatRequestErr struct {
	Cause error
}

func (e *ChatRequestErr) Error() string { return "chat request failed: " + e.Cause.Error() }
func (e *ChatRequestErr) Unwrap() error { return e.Cause }

// ChatRequest wraps cause as a ChatRequestErr.
func ChatRequest(cause error) error { return &ChatRequestErr{Cause: cause} }

// AbortedErr marks a run terminated by an explicit abort() call (spec §7:
// "Expected; caller-initiated").
type AbortedErr struct{}

func (e *AbortedErr) Error() string { return "aborted" }

// Aborted constructs an AbortedErr.
func Aborted() error { return &AbortedErr{} }

// IsAborted reports whether err is (or wraps) an AbortedErr.
func IsAborted(err error) bool {
	var a *AbortedErr
	return errors.As(err, &a)
}

// ToolHandlerErr wraps a tool handler's returned error (spec §6.2, §7). It
// is never propagated as a run failure. Package engine does not construct
// one: it formats a handler's error directly as an "Error: <message>"
// is_error tool result.
type ToolHandlerErr struct {
	Tool  string
	Cause error
}

func (e *ToolHandlerErr) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Cause)
}
func (e *ToolHandlerErr) Unwrap() error { return e.Cause }

// ToolHandler wraps cause as a ToolHandlerErr for tool.
func ToolHandler(tool string, cause error) error { return &ToolHandlerErr{Tool: tool, Cause: cause} }

// ConditionEvalErr marks a failed natural-language condition batch (spec
// §7: "Logged; all NL conditions default to inactive for that pass").
type ConditionEvalErr struct{ Cause error }

func (e *ConditionEvalErr) Error() string { return "condition evaluation failed: " + e.Cause.Error() }
func (e *ConditionEvalErr) Unwrap() error { return e.Cause }

// ConditionEval wraps cause as a ConditionEvalErr.
func ConditionEval(cause error) error { return &ConditionEvalErr{Cause: cause} }

// CompactionErr marks a compaction request that returned no summary text
// (spec §7: "Logged; message log untouched").
type CompactionErr struct{ Cause error }

func (e *CompactionErr) Error() string { return "compaction produced no summary: " + e.Cause.Error() }
func (e *CompactionErr) Unwrap() error { return e.Cause }

// Compaction wraps cause as a CompactionErr.
func Compaction(cause error) error { return &CompactionErr{Cause: cause} }
