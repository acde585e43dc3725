// Package content defines the typed message and content-block model shared by
// every layer of the framework: the declarative tree seeds messages with it,
// the agent store holds an ordered log of it, and the execution engine
// translates it to and from the Anthropic Messages wire format.
//
// Content blocks are immutable after construction. Helpers on Message return
// new values rather than mutating receivers, so a Message captured in a
// step-finish snapshot can never be changed out from under its caller.
package content

import "encoding/json"

// Role identifies the speaker of a Message.
type Role string

// Recognized roles. The framework never constructs a "system" role Message;
// system prompt text lives in the agent's aggregated system parts instead.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags the concrete type carried by a Block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockThinking   BlockType = "thinking"
)

// Block is one typed content block within a Message. Exactly one of the
// type-specific fields is populated, selected by Type. Constructing a Block
// directly is legal but the New* helpers below are preferred: they guard
// against building a Block with no payload for its Type.
type Block struct {
	Type BlockType

	// Text carries the payload for BlockText.
	Text string

	// ToolUse carries the payload for BlockToolUse.
	ToolUse *ToolUse

	// ToolResult carries the payload for BlockToolResult.
	ToolResult *ToolResult

	// Thinking carries the payload for BlockThinking.
	Thinking *Thinking

	// ParsedOutput is set by the structured-outputs variant of the chat
	// service on assistant text blocks. It is a response-only field: the
	// engine strips it via Sanitize before a message is replayed as a
	// subsequent request parameter (spec §9, open question (b)).
	ParsedOutput json.RawMessage
}

// ToolUse is the payload of a BlockToolUse block: a model-requested
// invocation of a named tool with a JSON-object input.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is the payload of a BlockToolResult block: the outcome of
// dispatching one ToolUse, matched back to it by ToolUseID.
type ToolResult struct {
	ToolUseID string
	// Content is either a plain string or an ordered list of Blocks (only
	// BlockText blocks are meaningful inside a tool result in this
	// framework). Exactly one of Text/Blocks is used; Blocks takes
	// precedence when non-nil.
	Text    string
	Blocks  []Block
	IsError bool
}

// Thinking is the payload of a BlockThinking block, Anthropic's extended
// reasoning trace. Redacted is set instead of Text when the provider could
// not return plaintext thinking for safety reasons.
type Thinking struct {
	Text      string
	Signature string
	Redacted  []byte
}

// NewTextBlock constructs a text content block.
func NewTextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// NewToolUseBlock constructs a tool_use content block.
func NewToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ToolUse: &ToolUse{ID: id, Name: name, Input: input}}
}

// NewToolResultTextBlock constructs a tool_result block carrying plain text.
func NewToolResultTextBlock(toolUseID, text string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolResult: &ToolResult{ToolUseID: toolUseID, Text: text, IsError: isError}}
}

// NewToolResultBlocksBlock constructs a tool_result block carrying a list of
// content blocks rather than plain text.
func NewToolResultBlocksBlock(toolUseID string, blocks []Block, isError bool) Block {
	return Block{Type: BlockToolResult, ToolResult: &ToolResult{ToolUseID: toolUseID, Blocks: blocks, IsError: isError}}
}

// NewThinkingBlock constructs a thinking content block.
func NewThinkingBlock(text, signature string) Block {
	return Block{Type: BlockThinking, Thinking: &Thinking{Text: text, Signature: signature}}
}

// NewRedactedThinkingBlock constructs a thinking content block whose
// plaintext the provider withheld for safety, carrying only the opaque
// redacted payload (spec §6.1, response content blocks; mirrors
// Thinking.Redacted).
func NewRedactedThinkingBlock(redacted []byte) Block {
	return Block{Type: BlockThinking, Thinking: &Thinking{Redacted: redacted}}
}

// Message is a single turn in the conversation: a role plus ordered content.
// Messages are appended to a store's log in declaration or turn order and
// are never mutated once appended — compaction and explicit removal replace
// the whole log rather than editing an entry in place (invariant 3, spec §3).
type Message struct {
	Role    Role
	Content []Block
}

// NewUserText builds a single-block user Message from plain text. This is the
// common case for seeded Message Instances (spec §3, Message Instance).
func NewUserText(text string) Message {
	return Message{Role: RoleUser, Content: []Block{NewTextBlock(text)}}
}

// NewAssistantText builds a single-block assistant Message from plain text.
func NewAssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []Block{NewTextBlock(text)}}
}

// Text concatenates every text block's content in order, ignoring tool_use,
// tool_result, and thinking blocks. Used to compute a run's final textual
// result (spec §4.3, synthetic tool result; §8 scenario S1).
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the ordered tool_use blocks in the message. Used by the
// engine to determine whether a turn requires tool dispatch (spec §4.5 step 6).
func (m Message) ToolUses() []ToolUse {
	var out []ToolUse
	for _, b := range m.Content {
		if b.Type == BlockToolUse && b.ToolUse != nil {
			out = append(out, *b.ToolUse)
		}
	}
	return out
}

// Sanitize returns a copy of the message with every response-only field
// stripped from its content blocks, so the result is valid as a subsequent
// request message (spec §4.5 step 5; §9 open question (b)). Currently this
// clears ParsedOutput on text blocks; future response-only fields should be
// stripped here too rather than at each call site.
func (m Message) Sanitize() Message {
	out := Message{Role: m.Role, Content: make([]Block, len(m.Content))}
	for i, b := range m.Content {
		if b.Type == BlockText && len(b.ParsedOutput) > 0 {
			b.ParsedOutput = nil
		}
		out.Content[i] = b
	}
	return out
}

// Clone returns a deep copy of the message, including nested ToolUse/
// ToolResult/Thinking payloads. Used by the store to hand out immutable
// snapshots (spec §3, Agent Store lifecycle) without letting a caller
// mutate shared backing arrays.
func (m Message) Clone() Message {
	out := Message{Role: m.Role, Content: make([]Block, len(m.Content))}
	for i, b := range m.Content {
		nb := b
		if b.ToolUse != nil {
			tu := *b.ToolUse
			if b.ToolUse.Input != nil {
				tu.Input = append(json.RawMessage(nil), b.ToolUse.Input...)
			}
			nb.ToolUse = &tu
		}
		if b.ToolResult != nil {
			tr := *b.ToolResult
			if len(b.ToolResult.Blocks) > 0 {
				tr.Blocks = make([]Block, len(b.ToolResult.Blocks))
				for j, rb := range b.ToolResult.Blocks {
					tr.Blocks[j] = rb
				}
			}
			nb.ToolResult = &tr
		}
		if b.Thinking != nil {
			th := *b.Thinking
			nb.Thinking = &th
		}
		if len(b.ParsedOutput) > 0 {
			nb.ParsedOutput = append(json.RawMessage(nil), b.ParsedOutput...)
		}
		out.Content[i] = nb
	}
	return out
}

// CloneLog returns a deep copy of an ordered message log. Used by Store.Snapshot
// and by the step-finish lifecycle event (spec §4.5.3).
func CloneLog(log []Message) []Message {
	out := make([]Message, len(log))
	for i, m := range log {
		out[i] = m.Clone()
	}
	return out
}

// Usage records token accounting for a single chat-service response (spec §6.1).
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
}

// Total returns the sum the compaction policy thresholds against (spec §4.5.1).
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// StopReason enumerates the terminal reasons a chat response can carry.
type StopReason string

const (
	StopToolUse   StopReason = "tool_use"
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
)

// SystemPart is one fragment of the agent's aggregated system prompt, in
// declaration order, with an optional prompt-cache boundary marker (spec §3,
// System/Context Instance; §9 open question (a) collapses Context into System).
type SystemPart struct {
	Text      string
	Ephemeral bool
}
