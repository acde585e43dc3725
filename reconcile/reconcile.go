// Package reconcile implements the tree-diff reconciler and collector (C5):
// it walks a declarative tree.Node tree, materialises tree.Instance nodes,
// and keeps each agent-like instance's aggregated tool/system/sdk-tool/
// mcp-server arrays in sync with the subset of descendants currently
// contributing (spec §4.2, §9 Design Notes "Tree-diff reconciler").
//
// Grounded on the teacher's declarative-to-runtime mapping idiom in
// goadesign-goa-ai/dsl (an expression-tree walker that produces typed
// runtime structs) generalized into a minimal create/collect protocol
// (there is no per-child uncollect; Recollect rebuilds the aggregates from
// scratch), since the teacher itself has no
// single file doing exactly this (its DSL compiles at generate-time, not
// runtime); the per-kind dispatch table mirrors runtime/agent/tools'
// registration-by-kind pattern (runtime/agent/tools/tools.go).
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowtree/agentkit/agenterrors"
	"github.com/flowtree/agentkit/mcpserver"
	"github.com/flowtree/agentkit/store"
	"github.com/flowtree/agentkit/toolspec"
	"github.com/flowtree/agentkit/tree"
)

// Mount materialises a full Instance tree from a root Agent Node, sharing
// st as the new Agent Instance's store (spec §4.2 Create: "Agent-kind
// creation requires a root container carrying an Agent Store ... the new
// instance shares that store"). It returns a *tree.Instance for the root
// with its aggregates already collected.
func Mount(root *tree.Node, st *store.Store) (*tree.Instance, error) {
	if root.Kind != tree.KindAgent {
		return nil, agenterrors.Configuration("reconcile: root node must be an agent")
	}
	inst := &tree.Instance{Node: root, Config: *root.Agent, Store: st}
	if err := mountChildren(inst, root.Children); err != nil {
		return nil, err
	}
	return inst, nil
}

// MountSubagent realises a Subagent Node's subtree as a standalone agent
// instance for one spawn (spec §4.3 (c): "constructs a Subagent Instance
// carrying that subtree"), resolving inheritance from the parent's config
// per spec §4.2 Create.
func MountSubagent(sub *tree.SubagentConfig, parent tree.AgentConfig, st *store.Store) (*tree.Instance, error) {
	if sub.Subtree == nil {
		return nil, agenterrors.Configuration(fmt.Sprintf("reconcile: subagent %q has no subtree", sub.Name))
	}
	subtree := sub.Subtree()
	resolved := resolveInheritance(sub, parent)

	if subtree.Kind != tree.KindAgent {
		return nil, agenterrors.Configuration("reconcile: subagent subtree root must be an agent node")
	}

	n := &tree.Node{Kind: tree.KindSubagent, Key: sub.Name, Subagent: sub, Children: subtree.Children}
	inst := &tree.Instance{Node: n, Config: resolved, Store: st}

	if err := mountChildren(inst, subtree.Children); err != nil {
		return nil, err
	}
	return inst, nil
}

// CheckCycle walks inst's ancestor chain looking for an agent-like
// ancestor sharing inst's logical name (spec §9 Design Notes, "Cycles":
// subagent-in-subagent cycles "must be detected during collect ... match
// by logical name", not reference equality alone, since every spawn
// produces a fresh *tree.Instance). Callers invoke this after wiring
// inst.Parent, before running the spawned instance.
func CheckCycle(inst *tree.Instance) error {
	if inst.Config.Name == "" {
		return nil
	}
	for _, name := range inst.AncestorAgentNames() {
		if name == inst.Config.Name {
			return agenterrors.Configurationf("reconcile: subagent cycle detected: %q spawns itself", inst.Config.Name)
		}
	}
	return nil
}

// resolveInheritance applies the Subagent inheritance rules from spec §4.2
// Create: an unset max_tokens is half the parent's (floored), or 4096 when
// the parent has none; an unset max_iterations is half the parent's when
// the parent sets one; stream/temperature/stop_sequences/thinking/compaction/beta
// inherit verbatim when not overridden; callbacks never inherit.
func resolveInheritance(sub *tree.SubagentConfig, parent tree.AgentConfig) tree.AgentConfig {
	cfg := tree.AgentConfig{
		Name:        sub.Name,
		Description: sub.Description,
	}

	if sub.Model != "" {
		cfg.Model = sub.Model
	} else {
		cfg.Model = parent.Model
	}

	if sub.MaxTokens > 0 {
		cfg.MaxTokens = sub.MaxTokens
	} else if parent.MaxTokens > 0 {
		cfg.MaxTokens = parent.MaxTokens / 2
	} else {
		cfg.MaxTokens = 4096
	}

	if sub.MaxIterations > 0 {
		cfg.MaxIterations = sub.MaxIterations
	} else if parent.MaxIterations > 0 {
		cfg.MaxIterations = parent.MaxIterations / 2
	}

	if len(sub.StopSequences) > 0 {
		cfg.StopSequences = sub.StopSequences
	} else {
		cfg.StopSequences = parent.StopSequences
	}

	if sub.HasTemperature {
		cfg.Temperature, cfg.HasTemperature = sub.Temperature, true
	} else {
		cfg.Temperature, cfg.HasTemperature = parent.Temperature, parent.HasTemperature
	}

	if sub.Stream != nil {
		cfg.Stream = *sub.Stream
	} else {
		cfg.Stream = parent.Stream
	}

	if sub.Thinking != nil {
		cfg.Thinking = sub.Thinking
	} else {
		cfg.Thinking = parent.Thinking
	}

	if len(sub.Beta) > 0 {
		cfg.Beta = sub.Beta
	} else {
		cfg.Beta = parent.Beta
	}

	if sub.Compaction != nil {
		cfg.Compaction = *sub.Compaction
	} else {
		cfg.Compaction = parent.Compaction
	}

	// Callbacks never inherit (spec §4.2 Create).
	cfg.Callbacks = sub.Callbacks

	return cfg
}

// mountChildren materialises Instances for each child Node under parent,
// then collects them onto parent's aggregates, seeding parent's store with
// its Message children.
func mountChildren(parent *tree.Instance, children []*tree.Node) error {
	for _, c := range children {
		child, err := mountNode(c, parent)
		if err != nil {
			return err
		}
		parent.Children = append(parent.Children, child)
	}
	return recollect(parent, true)
}

func mountNode(n *tree.Node, parent *tree.Instance) (*tree.Instance, error) {
	if n.Kind == tree.KindAgent {
		return nil, agenterrors.Configuration("reconcile: an agent node may not appear as a descendant of another agent")
	}
	inst := &tree.Instance{Node: n, Parent: parent}
	for _, c := range n.Children {
		child, err := mountNode(c, inst)
		if err != nil {
			return nil, err
		}
		inst.Children = append(inst.Children, child)
	}
	return inst, nil
}

// Recollect clears and rebuilds agent's aggregated arrays from its current
// structural children (spec §4.2 "Conditional re-collection"). Messages are
// never touched here — they live in the store (spec §4.2: "messages are
// not re-collected; they live in the store").
func Recollect(agent *tree.Instance) error {
	return recollect(agent, false)
}

// recollect clears and rebuilds agent's aggregates; Message children are
// pushed onto the store only when seedMessages is set (at mount time).
func recollect(agent *tree.Instance, seedMessages bool) error {
	if !agent.IsAgentLike() {
		return agenterrors.Configuration("reconcile: Recollect called on a non-agent instance")
	}
	agent.Tools = nil
	agent.SDKTools = nil
	agent.MCPServers = nil
	agent.SystemParts = nil
	return collectChildren(agent, agent.Children, seedMessages)
}

// collectChildren implements the Collect dispatch table (spec §4.2
// Collect) for each structural child of agent (which may be nested inside
// Tools-Container / Condition wrappers).
func collectChildren(agent *tree.Instance, children []*tree.Instance, seedMessages bool) error {
	for _, c := range children {
		switch c.Node.Kind {
		case tree.KindAgent:
			return agenterrors.Configuration("reconcile: an agent node may not be collected as a child of another agent")

		case tree.KindTool:
			agent.Tools = append(agent.Tools, c.Node.Tool)

		case tree.KindSDKTool:
			agent.SDKTools = append(agent.SDKTools, *c.Node.SDKTool)
			if flag := c.Node.SDKTool.Kind.BetaFlag(); flag != "" {
				agent.Config.Beta = addUnique(agent.Config.Beta, flag)
			}

		case tree.KindSystem:
			agent.SystemParts = append(agent.SystemParts, *c.Node.System)

		case tree.KindMessage:
			if seedMessages && agent.Store != nil {
				agent.Store.AppendMessage(*c.Node.Message)
			}

		case tree.KindMCPServer:
			if err := mcpserver.Validate(*c.Node.MCPServer); err != nil {
				return agenterrors.Configurationf("reconcile: %s", err.Error())
			}
			agent.MCPServers = append(agent.MCPServers, *c.Node.MCPServer)
			agent.Config.Beta = addUnique(agent.Config.Beta, "mcp-client-2025-04-04")

		case tree.KindAgentTool:
			spec, err := synthesizeAgentTool(c.Node.AgentTool, agent)
			if err != nil {
				return err
			}
			agent.Tools = append(agent.Tools, spec)

		case tree.KindToolsContainer:
			if err := collectChildren(agent, c.Children, seedMessages); err != nil {
				return err
			}

		case tree.KindCondition:
			if c.Node.Condition.Active {
				if err := collectChildren(agent, c.Children, seedMessages); err != nil {
					return err
				}
			}

		case tree.KindSubagent:
			// Subagent Instances are referenced, not collected into any
			// aggregate array; they are realised only on spawn (spec §3,
			// Relationships & Ownership).

		default:
			return agenterrors.Configuration(fmt.Sprintf("reconcile: unknown node kind %v", c.Node.Kind))
		}
	}
	return nil
}

func addUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// synthesizeAgentTool turns an Agent-Tool Node into a regular tool Spec
// whose handler spawns a subagent (spec §4.3): re-validation of input
// happens through the ordinary tool-dispatch path in package engine, since
// the returned Spec carries the same InputSchema and goes through the same
// toolspec.Validate call every other tool does. The handler itself only
// needs to (b) call the user Build function to obtain a subtree and (c-f)
// delegate to the Tool Context's Spawn function — injected per-call by the
// engine — which owns constructing the Subagent Instance, handle, and
// awaiting the run (package spawn). This keeps reconcile free of any
// dependency on the engine/spawn machinery.
func synthesizeAgentTool(cfg *tree.AgentToolConfig, owner *tree.Instance) (*toolspec.Spec, error) {
	if cfg.Build == nil {
		return nil, agenterrors.Configuration(fmt.Sprintf("reconcile: agent-tool %q has no build function", cfg.Name))
	}
	spec := &toolspec.Spec{
		Name:        cfg.Name,
		Description: cfg.Description,
		InputSchema: cfg.InputSchema,
		Handler: func(ctx context.Context, tc *toolspec.Context, input json.RawMessage) (toolspec.Result, error) {
			subtree, err := cfg.Build(input)
			if err != nil {
				return toolspec.Result{}, fmt.Errorf("agent-tool %q build: %w", cfg.Name, err)
			}
			if tc.Spawn == nil {
				return toolspec.Result{}, fmt.Errorf("agent-tool %q: no spawn capability on this tool context", cfg.Name)
			}
			text, err := tc.Spawn(ctx, toolspec.SpawnOptions{Tree: subtree, Model: owner.Config.Model})
			if err != nil {
				return toolspec.Result{}, err
			}
			return toolspec.TextResult(text), nil
		},
	}
	if err := spec.Compile(); err != nil {
		return nil, agenterrors.Configuration(fmt.Sprintf("reconcile: agent-tool %q schema: %v", cfg.Name, err))
	}
	return spec, nil
}
