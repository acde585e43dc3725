// Package toolspec defines the tool descriptor type (C2 in the component
// design): name, JSON Schema, and the user-provided handler callback, plus
// the JSON-schema-backed input validation and invocation wrapper the engine
// uses to dispatch tool calls.
//
// Schema validation is backed by github.com/santhosh-tekuri/jsonschema/v6,
// the same library the teacher uses for tool payload validation
// (goadesign-goa-ai/registry/service.go's validatePayloadJSONAgainstSchema).
package toolspec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowtree/agentkit/content"
)

// Ident is the strong type for a tool name. A bare string is used on the
// wire (Anthropic tool names are plain strings) but Ident keeps call sites
// from accidentally mixing tool names with arbitrary strings.
type Ident string

// HandlerFunc is the user-provided tool body (spec §6.2). It receives the
// already-validated input as raw JSON and a Context carrying the
// invocation's ambient values, and returns either a string or an ordered
// list of content blocks. Returning an error causes the engine to format it
// as an "Error: <message>" is_error=true tool result; it never aborts the
// run (spec §7 propagation policy).
type HandlerFunc func(ctx context.Context, tc *Context, input json.RawMessage) (Result, error)

// Result is the value a HandlerFunc returns on success. Exactly one of Text
// or Blocks is meaningful; Blocks takes precedence when non-nil.
type Result struct {
	Text   string
	Blocks []content.Block
}

// TextResult builds a plain-text Result, the common case.
func TextResult(text string) Result { return Result{Text: text} }

// Spec is the descriptor for a single tool (spec §3, Tool Instance /
// Tools-Container collection target). Name and InputSchema are sent to the
// chat service verbatim (spec §6.1); Handler never leaves the process.
type Spec struct {
	// Name is the identifier presented to the model. Must be unique within
	// an agent's aggregated tool list.
	Name string
	// Description documents the tool for the model.
	Description string
	// InputSchema is a JSON Schema (draft 2020-12) object describing the
	// tool's input. May be nil for a no-argument tool.
	InputSchema map[string]any
	// Strict requests the provider's strict-schema enforcement mode when
	// supported (spec §6.1, "custom" tool shape's strict field).
	Strict bool
	// Handler is invoked once input validates against InputSchema.
	Handler HandlerFunc

	// IdempotencyKey optionally tags repeated calls with identical
	// arguments as safe to de-duplicate within a transcript. Carried
	// forward from the teacher's tool model (runtime/agent/tools) though
	// nothing in this framework currently de-duplicates calls automatically
	// — callers may use it to implement their own memoized handlers.
	IdempotencyKey string

	compiled *jsonschema.Schema
}

// Compile parses and validates InputSchema once, so repeated calls to
// Validate don't re-parse the schema document on every tool invocation. A
// Spec with a nil InputSchema compiles to an always-valid schema.
func (s *Spec) Compile() error {
	if len(s.InputSchema) == 0 {
		s.compiled = nil
		return nil
	}
	c := jsonschema.NewCompiler()
	uri := "mem://toolspec/" + s.Name
	if err := c.AddResource(uri, map[string]any(s.InputSchema)); err != nil {
		return fmt.Errorf("toolspec: add schema resource for %q: %w", s.Name, err)
	}
	schema, err := c.Compile(uri)
	if err != nil {
		return fmt.Errorf("toolspec: compile schema for %q: %w", s.Name, err)
	}
	s.compiled = schema
	return nil
}

// Validate checks raw JSON input against the compiled schema. It returns a
// *ValidationError (never a bare error from the schema library) so callers
// can format it per spec §6.2 ("Validation error: <path>: <message>, ...").
func (s *Spec) Validate(raw json.RawMessage) error {
	if s.compiled == nil {
		return nil
	}
	var inst any
	if len(raw) == 0 {
		inst = map[string]any{}
	} else if err := json.Unmarshal(raw, &inst); err != nil {
		return &ValidationError{Issues: []Issue{{Path: "/", Message: "invalid JSON: " + err.Error()}}}
	}
	if err := s.compiled.Validate(inst); err != nil {
		return &ValidationError{Issues: issuesFromSchemaError(err)}
	}
	return nil
}

// ValidationError is returned by Spec.Validate. It implements error and also
// exposes Issues for callers that want structured access (grounded on the
// teacher's tools.FieldIssue, runtime/agent/tools/issue.go).
type ValidationError struct {
	Issues []Issue
}

// Issue is one schema-validation failure at a given instance path.
type Issue struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, iss := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", iss.Path, iss.Message))
	}
	return "Validation error: " + strings.Join(parts, ", ")
}

// issuesFromSchemaError turns a jsonschema validation failure into Issues.
// The library's error already renders a multi-line, path-prefixed message
// (one line per violated sub-schema); splitting on newlines gives a
// reasonable per-line Issue breakdown without depending on unexported or
// version-specific error-tree fields.
func issuesFromSchemaError(err error) []Issue {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	out := make([]Issue, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, Issue{Path: "/", Message: line})
	}
	if len(out) == 0 {
		out = append(out, Issue{Path: "/", Message: err.Error()})
	}
	return out
}
