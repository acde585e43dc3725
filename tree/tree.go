// Package tree defines the declarative configuration tree and the runtime
// instance tree it reconciles into (C4 in the component design): tagged
// node kinds (agent, subagent, tool, sdk-tool, system, message,
// tools-container, mcp-server, condition, agent-tool) plus the parent/child
// links the reconciler (package reconcile) walks and mutates.
//
// A Node is the caller-authored declarative element — comparable to a
// virtual-DOM element in the source this framework generalizes from (spec
// design note: "Rather than a full host-UI library, implement a minimal
// tree-diff"). An Instance is what the reconciler produces by walking a Node
// tree: a live object carrying the aggregated arrays a running Agent reads
// every turn.
package tree

import (
	"github.com/flowtree/agentkit/content"
	"github.com/flowtree/agentkit/store"
	"github.com/flowtree/agentkit/toolspec"
)

// Kind tags which variant a Node/Instance carries.
type Kind int

const (
	KindAgent Kind = iota
	KindSubagent
	KindTool
	KindSDKTool
	KindSystem
	KindMessage
	KindToolsContainer
	KindMCPServer
	KindCondition
	KindAgentTool
)

func (k Kind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	case KindSubagent:
		return "subagent"
	case KindTool:
		return "tool"
	case KindSDKTool:
		return "sdk_tool"
	case KindSystem:
		return "system"
	case KindMessage:
		return "message"
	case KindToolsContainer:
		return "tools_container"
	case KindMCPServer:
		return "mcp_server"
	case KindCondition:
		return "condition"
	case KindAgentTool:
		return "agent_tool"
	default:
		return "unknown"
	}
}

// SDKToolKind distinguishes the three built-in tool shapes forwarded to the
// chat service as built-in tool descriptors (spec §3, SDK-Tool Instance).
// Web search and code execution have no local handler; memory's commands
// are dispatched locally to its MemoryHandlers.
type SDKToolKind int

const (
	SDKToolWebSearch SDKToolKind = iota
	SDKToolCodeExecution
	SDKToolMemory
)

// BetaFlag returns the feature flag the collector must enable on the next
// API call when this SDK tool is collected (spec §4.2 Collect: "enable the
// corresponding beta flag on the next API call").
func (k SDKToolKind) BetaFlag() string {
	switch k {
	case SDKToolMemory:
		return "context-management-2025-06-27"
	case SDKToolCodeExecution:
		return "code-execution-2025-05-22"
	default:
		return ""
	}
}

// ThinkingConfig mirrors the Anthropic extended-thinking request shape.
type ThinkingConfig struct {
	Enabled      bool
	BudgetTokens int
}

// CompactionPolicy controls automatic history summarization (spec §4.5.1).
type CompactionPolicy struct {
	Enabled         bool
	ThresholdTokens int // default 100_000 when Enabled and zero
	Model           string
	SummaryPrompt   string
}

// Callbacks are the lifecycle hooks an Agent/Subagent config may register.
// Never inherited by a Subagent's resolved configuration (spec §4.2
// Create: "callbacks never inherit").
type Callbacks struct {
	OnMessage    func(content.Message)
	OnStepFinish func(StepFinish)
	OnComplete   func(content.Message)
	OnError      func(error)
}

// StepFinish is the payload of the step_finished lifecycle event (spec
// §4.5.3). Defined here, rather than in engine, so both tree/Callbacks and
// engine can reference it without a cycle.
type StepFinish struct {
	Step          int
	Text          string
	Thinking      string
	ToolCalls     []ToolCallRecord
	ToolResults   []ToolResultRecord
	StopReason    content.StopReason
	Usage         content.Usage
	Message       content.Message
	LogSnapshot   []content.Message
	TimestampUnix int64
}

// ToolCallRecord is one ordered tool_use entry in a step-finish event.
type ToolCallRecord struct {
	ID    string
	Name  string
	Input []byte
}

// ToolResultRecord is one ordered tool_result entry in a step-finish event.
type ToolResultRecord struct {
	ID              string
	Name            string
	Content         string
	IsError         bool
	ExecutionTimeMS int64
}

// AgentConfig is the configuration record of an Agent or resolved Subagent
// Instance (spec §3, Agent Instance attributes).
type AgentConfig struct {
	Name          string
	Description   string
	Model         string
	MaxTokens     int
	MaxIterations int
	StopSequences []string
	Temperature   float64
	HasTemperature bool
	Stream        bool
	Thinking      *ThinkingConfig
	Beta          []string
	Compaction    CompactionPolicy
	Callbacks     Callbacks
}

// SubagentConfig is the declarative payload of a Subagent Node: the
// subtree to realise on spawn plus explicit configuration overrides (spec
// §3, Subagent Instance; §4.2 Create's inheritance rules are applied by the
// reconciler, not stored here).
type SubagentConfig struct {
	Name          string
	Description   string
	Subtree       func() *Node
	Model         string
	MaxTokens     int
	MaxIterations int
	StopSequences []string
	Temperature   float64
	HasTemperature bool
	Stream        *bool
	Thinking      *ThinkingConfig
	Beta          []string
	Compaction    *CompactionPolicy
	Callbacks     Callbacks
}

// SDKToolConfig is the declarative payload of an SDK-Tool Node.
type SDKToolConfig struct {
	Kind SDKToolKind
	// MemoryHandlers carries the six named command handlers when
	// Kind == SDKToolMemory (spec §6.3); nil for the other kinds.
	MemoryHandlers map[string]toolspec.HandlerFunc
}

// MCPServerConfig is the declarative payload of an MCP-Server Node (spec
// §3: "carries a remote-tool-server URL and optional auth").
type MCPServerConfig struct {
	Name   string
	URL    string
	APIKey string
}

// ConditionConfig is the declarative payload of a Condition Node (spec §3,
// §4.4). Exactly one of BoolValue or Predicate is meaningful, selected by
// IsBoolean.
type ConditionConfig struct {
	IsBoolean bool
	BoolValue bool
	Predicate string // natural-language predicate text, when !IsBoolean

	// Active is maintained by the condition evaluator (package condition);
	// the reconciler reads it at collect time.
	Active bool
}

// AgentToolConfig is the declarative payload of an Agent-Tool Node (spec
// §3, §4.3).
type AgentToolConfig struct {
	Name        string
	Description string
	InputSchema map[string]any
	Build       func(input []byte) (*Node, error)
}

// Node is one declarative element of the configuration tree the caller
// builds and hands to an Agent Handle. Exactly one of the kind-specific
// fields is populated, selected by Kind.
type Node struct {
	Kind Kind
	// Key is the node's logical identity; the constructors below set it to
	// the configured name where the kind has one. Package reconcile does
	// not read it: every mount builds a fresh Instance tree, and no
	// identity map or diff across reconcile passes is kept.
	Key string

	Agent       *AgentConfig
	Subagent    *SubagentConfig
	Tool        *toolspec.Spec
	SDKTool     *SDKToolConfig
	System      *content.SystemPart
	Message     *content.Message
	MCPServer   *MCPServerConfig
	Condition   *ConditionConfig
	AgentTool   *AgentToolConfig

	Children []*Node
}

// NewAgent builds a root or nested-illegal (rejected at reconcile) Agent
// node with the given children.
func NewAgent(cfg AgentConfig, children ...*Node) *Node {
	c := cfg
	return &Node{Kind: KindAgent, Key: cfg.Name, Agent: &c, Children: children}
}

// NewSubagent builds a Subagent node.
func NewSubagent(cfg SubagentConfig, children ...*Node) *Node {
	c := cfg
	return &Node{Kind: KindSubagent, Key: cfg.Name, Subagent: &c, Children: children}
}

// NewTool builds a Tool node from an already-constructed Spec.
func NewTool(spec *toolspec.Spec) *Node {
	return &Node{Kind: KindTool, Key: spec.Name, Tool: spec}
}

// NewSDKTool builds an SDK-Tool node.
func NewSDKTool(cfg SDKToolConfig) *Node {
	return &Node{Kind: KindSDKTool, Key: cfg.Kind.String(), SDKTool: &cfg}
}

func (k SDKToolKind) String() string {
	switch k {
	case SDKToolWebSearch:
		return "web_search"
	case SDKToolCodeExecution:
		return "code_execution"
	case SDKToolMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// NewSystem builds a System/Context node (spec §9 open question (a): the
// two kinds collapse into one).
func NewSystem(part content.SystemPart) *Node {
	p := part
	return &Node{Kind: KindSystem, System: &p}
}

// NewMessage builds a Message node seeding the store's log on collect.
func NewMessage(m content.Message) *Node {
	mm := m
	return &Node{Kind: KindMessage, Message: &mm}
}

// NewToolsContainer builds a transparent grouping node.
func NewToolsContainer(children ...*Node) *Node {
	return &Node{Kind: KindToolsContainer, Children: children}
}

// NewMCPServer builds an MCP-Server node.
func NewMCPServer(cfg MCPServerConfig) *Node {
	c := cfg
	return &Node{Kind: KindMCPServer, Key: cfg.Name, MCPServer: &c}
}

// NewCondition builds a Condition node gating its children.
func NewCondition(cfg ConditionConfig, children ...*Node) *Node {
	c := cfg
	return &Node{Kind: KindCondition, Condition: &c, Children: children}
}

// NewAgentTool builds an Agent-Tool node.
func NewAgentTool(cfg AgentToolConfig) *Node {
	c := cfg
	return &Node{Kind: KindAgentTool, Key: cfg.Name, AgentTool: &c}
}

// Instance is the live, reconciled counterpart of a Node. Agent and
// Subagent instances additionally carry the aggregated arrays the
// collector maintains (spec §3, "aggregated fields populated by the
// reconciler's collector").
type Instance struct {
	Node   *Node
	Parent *Instance

	// Children mirrors Node.Children after reconciliation, one Instance
	// per structural child (present even when the child doesn't
	// currently contribute to the aggregates, e.g. an inactive
	// Condition's subtree).
	Children []*Instance

	// The following are populated only when Node.Kind is KindAgent or
	// KindSubagent-after-spawn.
	Config      AgentConfig
	Store       *store.Store
	Tools       []*toolspec.Spec
	SDKTools    []SDKToolConfig
	MCPServers  []MCPServerConfig
	SystemParts []content.SystemPart
}

// IsAgentLike reports whether this instance aggregates tool/system arrays
// (an Agent Instance, or a Subagent Instance once spawned).
func (in *Instance) IsAgentLike() bool {
	return in != nil && (in.Node.Kind == KindAgent || in.Node.Kind == KindSubagent)
}

// EnclosingAgent walks parent pointers to find the nearest agent-like
// ancestor, used by the collector to resolve "nearest enclosing Agent" for
// a Tools-Container's children (spec §3, Tools-Container Instance).
func (in *Instance) EnclosingAgent() *Instance {
	for cur := in; cur != nil; cur = cur.Parent {
		if cur.IsAgentLike() {
			return cur
		}
	}
	return nil
}

// AncestorAgentNames walks parent pointers collecting the Name of every
// agent-like ancestor, used by the reconciler's cycle check (spec §9
// Design Notes, "Cycles": "Do not rely on reference equality alone; also
// match by logical name.").
func (in *Instance) AncestorAgentNames() []string {
	var names []string
	for cur := in.Parent; cur != nil; cur = cur.Parent {
		if cur.IsAgentLike() && cur.Config.Name != "" {
			names = append(names, cur.Config.Name)
		}
	}
	return names
}
