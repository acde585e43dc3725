package toolspec

import "context"

// Context is the Tool Context passed to every tool handler (spec §4.6, C10).
// It is intentionally a thin, read-only view: the per-turn cancel signal,
// the invoking agent's identity/model, and a SpawnFunc for nested agent
// runs. Package engine builds one per tool call via NewContext; the
// SpawnFunc it carries comes from package spawn, which depends on toolspec
// rather than the reverse.
type Context struct {
	// AgentName is the name of the agent whose turn invoked this tool.
	AgentName string
	// Model is the model identifier the invoking agent is currently
	// configured with.
	Model string
	// ToolUseID is the id of the tool_use block this invocation answers.
	ToolUseID string

	// ctx carries the per-turn cancellation signal; handlers should pass it
	// (or a context derived from it) to any I/O they perform.
	ctx context.Context

	// Spawn runs a declarative subtree as a nested agent to completion and
	// returns its textual result (spec §4.6, spawn_agent). Nil if the
	// invoking handler was not given spawn capability (should not happen
	// for handlers constructed via engine, but guarded defensively).
	Spawn SpawnFunc
}

// SpawnFunc constructs a fresh subagent from a declarative subtree and runs
// it to completion, honoring the supplied overrides. Package spawn provides
// the implementation (spawn.New).
type SpawnFunc func(ctx context.Context, opts SpawnOptions) (string, error)

// SpawnOptions carries the per-call overrides accepted by spawn_agent (spec
// §4.6): model/max_tokens/temperature override the inherited subagent
// configuration; Tree is the declarative subtree to realise.
type SpawnOptions struct {
	Tree        any // *tree.Node; kept as `any` here to avoid an import cycle — package spawn rejects any other type.
	Model       string
	MaxTokens   int
	Temperature float64
}

// Ctx returns the context.Context carrying the per-turn cancellation signal.
func (c *Context) Ctx() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// NewContext constructs a Context. Used by package spawn/engine, exported so
// test doubles can build one without reaching into unexported fields.
func NewContext(ctx context.Context, agentName, model, toolUseID string, spawn SpawnFunc) *Context {
	return &Context{AgentName: agentName, Model: model, ToolUseID: toolUseID, ctx: ctx, Spawn: spawn}
}
