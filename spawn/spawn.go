// Package spawn implements the concrete subagent spawning mechanics (C10,
// Spawn Context): turning a toolspec.SpawnOptions value into a fresh,
// isolated nested agent run and its textual result (spec §4.3 steps c-f,
// §4.6 spawn_agent).
//
// Grounded on other_examples/subagent_spawn_tool.go's pattern of a spawn
// tool handler that builds a fresh child context and awaits it
// synchronously, and on goadesign-goa-ai's dependency-inverted handoff
// between a tool's execution context and the orchestrator that supplies it
// (toolspec.Context.Spawn is the same seam as the teacher's
// runtime/agent/tools handler-reads-ambient-context shape, generalized to
// carry a spawn capability instead of just request-scoped values).
//
// Package spawn depends on package reconcile and package store to build the
// nested Subagent Instance, but takes its actual turn-loop runner as an
// injected function value (Runner) rather than importing package engine —
// the same inversion toolspec.Context.Spawn already uses, so spawn never
// imports engine; package engine imports spawn and passes its own Run
// function as the Runner.
package spawn

import (
	"context"
	"fmt"

	"github.com/flowtree/agentkit/anthropicclient"
	"github.com/flowtree/agentkit/content"
	"github.com/flowtree/agentkit/reconcile"
	"github.com/flowtree/agentkit/store"
	"github.com/flowtree/agentkit/telemetry"
	"github.com/flowtree/agentkit/toolspec"
	"github.com/flowtree/agentkit/tree"
)

// Runner drives a fully materialised agent Instance to completion and
// returns its final assistant message. Implemented by package engine's Run
// entry point; supplied here as a function value to avoid an import cycle.
type Runner func(ctx context.Context, inst *tree.Instance, client *anthropicclient.Client, logger telemetry.Logger) (content.Message, error)

// New builds the toolspec.SpawnFunc a tool Context hands to an Agent-Tool
// handler (spec §4.3 (c)-(f)): wraps opts.Tree as a transient Subagent
// Instance inheriting parentInst's configuration, cycle-checks it by
// logical name, gives it a fresh isolated Agent Store (spec invariant 6),
// runs it via run sharing the parent's chat client, and returns the run's
// textual result.
//
// The subagent's own lifecycle callbacks (tree.AgentConfig.Callbacks,
// resolved from its SubagentConfig) are invoked by run exactly as for any
// other instance; they are never wired to the parent's subscribers, since
// nothing here forwards them anywhere the parent can observe (spec §4.3:
// "do not bubble as engine events to the parent's subscribers").
func New(parentInst *tree.Instance, client *anthropicclient.Client, logger telemetry.Logger, run Runner) toolspec.SpawnFunc {
	return func(ctx context.Context, opts toolspec.SpawnOptions) (string, error) {
		subtreeNode, ok := opts.Tree.(*tree.Node)
		if !ok || subtreeNode == nil {
			return "", fmt.Errorf("spawn: options.Tree must be a *tree.Node, got %T", opts.Tree)
		}
		if subtreeNode.Kind != tree.KindAgent {
			return "", fmt.Errorf("spawn: subtree root must be an agent node, got %v", subtreeNode.Kind)
		}

		model := opts.Model
		if model == "" {
			model = parentInst.Config.Model
		}

		sub := &tree.SubagentConfig{
			Name:      syntheticSubagentName(parentInst),
			Subtree:   func() *tree.Node { return subtreeNode },
			Model:     model,
			MaxTokens: opts.MaxTokens,
		}
		if opts.Temperature != 0 {
			sub.HasTemperature = true
			sub.Temperature = opts.Temperature
		}

		childStore := store.New()
		childInst, err := reconcile.MountSubagent(sub, parentInst.Config, childStore)
		if err != nil {
			return "", fmt.Errorf("spawn: mount subagent: %w", err)
		}
		childInst.Parent = parentInst
		if err := reconcile.CheckCycle(childInst); err != nil {
			return "", err
		}

		final, err := run(ctx, childInst, client, logger)
		if err != nil {
			return "", err
		}
		return final.Text(), nil
	}
}

// syntheticSubagentName derives a stable logical name for cycle detection
// from the spawning agent's own name, so repeated spawns from the same
// parent compare equal by name (spec §9 Design Notes, cycle detection "by
// logical name").
func syntheticSubagentName(parentInst *tree.Instance) string {
	if parentInst.Config.Name == "" {
		return "subagent"
	}
	return parentInst.Config.Name + ".subagent"
}
