// Package condition implements the Condition Evaluator (C7): walking an
// agent instance's subtree for Condition Instances, updating boolean
// conditions directly, and batching natural-language conditions through a
// single structured-output chat request.
//
// Grounded on goadesign-goa-ai/registry/service.go's schema-compile-then-
// validate sequence for the enum-restricted index schema (the only place
// outside package toolspec this module hand-builds a JSON Schema), and on
// features/model/anthropic/client.go's forced tool_choice usage for how a
// single-call "structured output" contract is expressed against the
// Anthropic Messages API.
package condition

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowtree/agentkit/agenterrors"
	"github.com/flowtree/agentkit/content"
	"github.com/flowtree/agentkit/anthropicclient"
	"github.com/flowtree/agentkit/telemetry"
	"github.com/flowtree/agentkit/tree"
)

const (
	// summaryMessageCount is how many trailing log messages are sent to the
	// batched evaluation call (spec §4.4).
	summaryMessageCount = 10
	// blockTruncateChars is the per-block text truncation applied to that
	// summary (spec §4.4).
	blockTruncateChars = 500

	reportToolName = "report_active_conditions"
)

// Completer is the subset of anthropicclient.Client the evaluator needs,
// narrowed to a single non-streaming call so callers can substitute a fake
// in tests.
type Completer interface {
	Complete(ctx context.Context, req anthropicclient.Request) (*anthropicclient.Response, error)
}

// Evaluate walks agent's subtree for Condition Instances, updates boolean
// conditions directly from their configured value, and — only when
// firstTurn or force is set — batches natural-language conditions through
// one structured-output call on completer using model. It reports whether
// any condition's Active flag changed, for the engine to decide whether a
// recollect is needed (spec §4.4 ordering: booleans first, then batched
// strings).
//
// A failure evaluating the natural-language batch defaults every string
// condition to inactive and is returned wrapped in
// agenterrors.ConditionEvalErr; the engine may treat this as a non-fatal,
// logged event rather than aborting the run, since a batch failure leaves
// the agent in a well-defined (all-inactive) state.
func Evaluate(ctx context.Context, agent *tree.Instance, completer Completer, model string, firstTurn, force bool, logger telemetry.Logger) (bool, error) {
	conditions := collect(agent)

	changed := false
	var stringConditions []*tree.Instance

	for _, inst := range conditions {
		cfg := inst.Node.Condition
		if cfg.IsBoolean {
			if cfg.Active != cfg.BoolValue {
				cfg.Active = cfg.BoolValue
				changed = true
			}
			continue
		}
		stringConditions = append(stringConditions, inst)
	}

	if len(stringConditions) == 0 || !(firstTurn || force) {
		return changed, nil
	}

	if logger == nil {
		logger = telemetry.Noop{}
	}

	logger.Debug(ctx, "reconciler:conditions", "evaluating batch", "count", len(stringConditions), "first_turn", firstTurn, "force", force)

	activeIdx, err := evaluateBatch(ctx, agent, stringConditions, completer, model)
	if err != nil {
		logger.Error(ctx, "condition: batch evaluation failed, defaulting to inactive", "error", err.Error())
		for _, inst := range stringConditions {
			if inst.Node.Condition.Active {
				inst.Node.Condition.Active = false
				changed = true
			}
		}
		return changed, agenterrors.ConditionEval(err)
	}

	for i, inst := range stringConditions {
		active := activeIdx[i]
		if inst.Node.Condition.Active != active {
			inst.Node.Condition.Active = active
			changed = true
		}
	}
	logger.Debug(ctx, "reconciler:conditions", "batch evaluated", "changed", changed)
	return changed, nil
}

// collect walks agent's children (recursing through tools-containers and
// both active and inactive conditions — evaluation must see every
// condition, not just currently-contributing ones) gathering every
// Condition Instance. It does not cross into a Subagent Instance's subtree,
// which is never materialized until spawn.
func collect(agent *tree.Instance) []*tree.Instance {
	var out []*tree.Instance
	var walk func(inst *tree.Instance)
	walk = func(inst *tree.Instance) {
		for _, child := range inst.Children {
			if child.Node.Kind == tree.KindCondition {
				out = append(out, child)
			}
			if child.Node.Kind == tree.KindSubagent {
				continue
			}
			walk(child)
		}
	}
	walk(agent)
	return out
}

func evaluateBatch(ctx context.Context, agent *tree.Instance, conditions []*tree.Instance, completer Completer, model string) ([]bool, error) {
	system := buildSystemPrompt(conditions)
	messages := truncatedSummary(agent.Store.Snapshot())
	if len(messages) == 0 {
		messages = []content.Message{content.NewUserText("(no conversation yet)")}
	}

	schema := activeIndexSchema(len(conditions))
	req := anthropicclient.Request{
		Model:     model,
		MaxTokens: 1024,
		System:    []content.SystemPart{{Text: system}},
		Messages:  messages,
		Tools: []anthropicclient.ToolDef{{
			Name:        reportToolName,
			Description: "Report which of the enumerated conditions are currently true.",
			InputSchema: schema,
		}},
		ToolChoice: &anthropicclient.ToolChoice{Mode: anthropicclient.ToolChoiceTool, Name: reportToolName},
	}

	resp, err := completer.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("condition: evaluation request: %w", err)
	}

	uses := resp.Message.ToolUses()
	if len(uses) == 0 {
		return nil, fmt.Errorf("condition: response carried no tool_use block")
	}

	var payload struct {
		ActiveIndices []int `json:"active_indices"`
	}
	if err := json.Unmarshal(uses[0].Input, &payload); err != nil {
		return nil, fmt.Errorf("condition: decode tool input: %w", err)
	}

	active := make([]bool, len(conditions))
	for _, idx := range payload.ActiveIndices {
		if idx < 0 || idx >= len(active) {
			return nil, fmt.Errorf("condition: index %d out of range [0,%d)", idx, len(active))
		}
		active[idx] = true
	}
	return active, nil
}

func buildSystemPrompt(conditions []*tree.Instance) string {
	prompt := "You evaluate branch conditions for a conversational agent. " +
		"Given the conversation so far, decide which of the following natural-language conditions are currently true, " +
		"then call " + reportToolName + " with the zero-based indices of the true ones.\n\nConditions:\n"
	for i, inst := range conditions {
		prompt += fmt.Sprintf("%d: %s\n", i, inst.Node.Condition.Predicate)
	}
	return prompt
}

// activeIndexSchema builds the enum-restricted JSON Schema for the
// structured-output tool's single field: an array of integers, each
// constrained to the valid index range (spec §4.4).
func activeIndexSchema(n int) map[string]any {
	enum := make([]any, n)
	for i := 0; i < n; i++ {
		enum[i] = i
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"active_indices": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "integer", "enum": enum},
			},
		},
		"required": []any{"active_indices"},
	}
}

// truncatedSummary returns the last summaryMessageCount messages of log with
// every text block truncated to blockTruncateChars (spec §4.4).
func truncatedSummary(log []content.Message) []content.Message {
	start := 0
	if len(log) > summaryMessageCount {
		start = len(log) - summaryMessageCount
	}
	tail := log[start:]

	out := make([]content.Message, len(tail))
	for i, m := range tail {
		blocks := make([]content.Block, len(m.Content))
		for j, b := range m.Content {
			if b.Type == content.BlockText && len(b.Text) > blockTruncateChars {
				b.Text = b.Text[:blockTruncateChars]
			}
			blocks[j] = b
		}
		out[i] = content.Message{Role: m.Role, Content: blocks}
	}
	return out
}
