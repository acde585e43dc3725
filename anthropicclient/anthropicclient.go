// Package anthropicclient adapts the module's provider-agnostic content
// model (package content) onto the real Anthropic Messages API via
// github.com/anthropics/anthropic-sdk-go (C8's chat-service boundary, spec
// §6.1).
//
// Grounded directly on goadesign-goa-ai/features/model/anthropic/client.go
// and .../stream.go: the MessagesClient interface, the
// sdk.MessageNewParams construction (system parts, messages, tools,
// temperature, thinking, tool choice), and the response/stream block
// translation are all adapted line-for-line from that file's verified
// usage of the SDK's exported surface. Unlike the teacher, this package
// binds directly to the SDK's wire shapes instead of going through a
// generic model.Client abstraction — the specification's chat-service
// contract (§6.1) is already the Anthropic Messages API restated, so the
// extra indirection layer would have no other provider to abstract over.
package anthropicclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/flowtree/agentkit/content"
)

// MessagesClient captures the subset of the SDK client this package needs,
// satisfied by *sdk.MessageService so tests can substitute a fake (same
// seam as the teacher's MessagesClient interface).
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client wraps a MessagesClient with the translation this module needs.
type Client struct {
	msg     MessagesClient
	limiter *RateLimiter
}

// Option configures optional Client behavior at construction time.
type Option func(*Client)

// WithRateLimiter enforces tokensPerMinute on every Complete/Stream call
// issued through the client (spec §5's resource model carries an ambient
// rate budget even though spec.md names no specific policy).
func WithRateLimiter(tokensPerMinute int) Option {
	return func(c *Client) { c.limiter = NewRateLimiter(tokensPerMinute) }
}

// New wraps an existing MessagesClient (typically &sdk.NewClient(...).Messages).
func New(msg MessagesClient, opts ...Option) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropicclient: messages client is required")
	}
	c := &Client{msg: msg}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromAPIKey builds a Client from a bare API key using the SDK's default
// HTTP transport.
func NewFromAPIKey(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropicclient: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts...)
}

// ToolChoiceMode selects among the request's tool_choice shapes (spec
// §6.1).
type ToolChoiceMode int

const (
	ToolChoiceAuto ToolChoiceMode = iota
	ToolChoiceNone
	ToolChoiceAny
	ToolChoiceTool
)

// ToolChoice mirrors the SDK's tool_choice union.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string // meaningful only when Mode == ToolChoiceTool
}

// ToolDef is one entry of Request.Tools — the provider-facing tool
// descriptor (spec §6.1's "custom" tool shape).
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
	Strict      bool
}

// MCPServerDef mirrors the request's mcp_servers entry (spec §6.1).
type MCPServerDef struct {
	Name   string
	URL    string
	APIKey string
}

// BuiltinToolKind selects one of the provider's server-side tools (spec
// §6.1, "built-in tool descriptors"; spec §3 SDK-Tool Instance).
type BuiltinToolKind int

const (
	BuiltinWebSearch BuiltinToolKind = iota
	BuiltinCodeExecution
	BuiltinMemory
)

// BuiltinToolDef is one entry of Request.BuiltinTools.
type BuiltinToolDef struct {
	Kind BuiltinToolKind
}

// Request is the provider-agnostic chat request this package translates
// into sdk.MessageNewParams (spec §6.1).
type Request struct {
	Model          string
	MaxTokens      int
	System         []content.SystemPart
	Messages       []content.Message
	Tools          []ToolDef
	BuiltinTools   []BuiltinToolDef
	MCPServers     []MCPServerDef
	StopSequences  []string
	Temperature    float64
	HasTemperature bool
	ThinkingBudget int // > 0 enables extended thinking
	Betas          []string
	ToolChoice     *ToolChoice
	Stream         bool
}

// Response is the provider-agnostic chat response this package builds from
// *sdk.Message (spec §6.1).
type Response struct {
	Message    content.Message
	StopReason content.StopReason
	Usage      content.Usage
}

// Complete issues a non-streaming Messages.New request.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.wait(ctx, req); err != nil {
			return nil, fmt.Errorf("anthropicclient: rate limiter: %w", err)
		}
	}
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	opts := betaOptions(req.Betas)
	msg, err := c.msg.New(ctx, *params, opts...)
	if err != nil {
		return nil, fmt.Errorf("anthropicclient: messages.new: %w", err)
	}
	return translateResponse(msg)
}

// Stream issues a streaming Messages.New request and returns a Streamer the
// caller polls with Next/Event until it returns false, then reads Err() and
// Final().
func (c *Client) Stream(ctx context.Context, req Request) (*Streamer, error) {
	if c.limiter != nil {
		if err := c.limiter.wait(ctx, req); err != nil {
			return nil, fmt.Errorf("anthropicclient: rate limiter: %w", err)
		}
	}
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	opts := betaOptions(req.Betas)
	stream := c.msg.NewStreaming(ctx, *params, opts...)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropicclient: messages.new (stream): %w", err)
	}
	return newStreamer(stream), nil
}

func betaOptions(betas []string) []option.RequestOption {
	if len(betas) == 0 {
		return nil
	}
	return []option.RequestOption{option.WithHeader("anthropic-beta", strings.Join(betas, ","))}
}

func buildParams(req Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropicclient: at least one message is required")
	}
	if req.Model == "" {
		return nil, errors.New("anthropicclient: model is required")
	}
	if req.MaxTokens <= 0 {
		return nil, errors.New("anthropicclient: max_tokens must be positive")
	}

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
		Model:     sdk.Model(req.Model),
	}

	if len(req.System) > 0 {
		params.System = encodeSystem(req.System)
	}
	if len(req.Tools) > 0 || len(req.BuiltinTools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		for _, b := range req.BuiltinTools {
			u, err := encodeBuiltinTool(b.Kind)
			if err != nil {
				return nil, err
			}
			tools = append(tools, u)
		}
		params.Tools = tools
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if req.HasTemperature {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if req.ThinkingBudget > 0 {
		if req.ThinkingBudget < 1024 {
			return nil, fmt.Errorf("anthropicclient: thinking budget %d must be >= 1024", req.ThinkingBudget)
		}
		if req.ThinkingBudget >= req.MaxTokens {
			return nil, fmt.Errorf("anthropicclient: thinking budget %d must be less than max_tokens %d", req.ThinkingBudget, req.MaxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(*req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	if len(req.MCPServers) > 0 {
		params.MCPServers = encodeMCPServers(req.MCPServers)
	}

	return &params, nil
}

func encodeSystem(parts []content.SystemPart) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, 0, len(parts))
	for _, p := range parts {
		tb := sdk.TextBlockParam{Text: p.Text}
		if p.Ephemeral {
			tb.CacheControl = sdk.NewCacheControlEphemeralParam()
		}
		out = append(out, tb)
	}
	return out
}

func encodeMessages(msgs []content.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case content.BlockText:
				if b.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(b.Text))
				}
			case content.BlockToolUse:
				if b.ToolUse == nil {
					continue
				}
				var input any
				if len(b.ToolUse.Input) > 0 {
					if err := json.Unmarshal(b.ToolUse.Input, &input); err != nil {
						return nil, fmt.Errorf("anthropicclient: tool_use %q input: %w", b.ToolUse.ID, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(b.ToolUse.ID, input, b.ToolUse.Name))
			case content.BlockToolResult:
				if b.ToolResult == nil {
					continue
				}
				blocks = append(blocks, sdk.NewToolResultBlock(b.ToolResult.ToolUseID, flattenToolResult(*b.ToolResult), b.ToolResult.IsError))
			case content.BlockThinking:
				// Thinking blocks are provider-only response content; they are
				// not re-sent (mirrors the teacher's comment: "Thinking and
				// cache checkpoint parts are provider-specific and are not
				// re-encoded for Anthropic here").
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case content.RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case content.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropicclient: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropicclient: at least one user/assistant message with content is required")
	}
	return out, nil
}

func flattenToolResult(tr content.ToolResult) string {
	if len(tr.Blocks) == 0 {
		return tr.Text
	}
	var sb strings.Builder
	for _, b := range tr.Blocks {
		if b.Type == content.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func encodeTools(defs []ToolDef) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema, err := toolInputSchema(d.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropicclient: tool %q schema: %w", d.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, d.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(d.Description)
			if d.Strict {
				u.OfTool.Strict = sdk.Bool(true)
			}
		}
		out = append(out, u)
	}
	return out, nil
}

// encodeBuiltinTool builds the request-side descriptor for one of the
// provider's server-side tools. Unlike the rest of this file, these three
// shapes are not exercised anywhere in the retrieved example set (the
// teacher's client.go only ever sends custom tools); they are encoded from
// general knowledge of the public Anthropic API's documented tool-type
// strings, the same documented exception already taken for cache_control
// and mcp_servers above.
func encodeBuiltinTool(kind BuiltinToolKind) (sdk.ToolUnionParam, error) {
	switch kind {
	case BuiltinWebSearch:
		return sdk.ToolUnionParam{
			OfWebSearchTool20250305: &sdk.WebSearchTool20250305Param{
				Name: "web_search",
			},
		}, nil
	case BuiltinCodeExecution:
		return sdk.ToolUnionParam{
			OfCodeExecutionTool20250522: &sdk.CodeExecutionTool20250522Param{
				Name: "code_execution",
			},
		}, nil
	case BuiltinMemory:
		return sdk.ToolUnionParam{
			OfMemoryTool20250818: &sdk.MemoryTool20250818Param{
				Name: "memory",
			},
		}, nil
	default:
		return sdk.ToolUnionParam{}, fmt.Errorf("anthropicclient: unsupported builtin tool kind %d", kind)
	}
}

func toolInputSchema(schema map[string]any) (sdk.ToolInputSchemaParam, error) {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	return sdk.ToolInputSchemaParam{ExtraFields: schema}, nil
}

func encodeToolChoice(choice ToolChoice) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case ToolChoiceAuto:
		return sdk.ToolChoiceUnionParam{}, nil
	case ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case ToolChoiceAny:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case ToolChoiceTool:
		if choice.Name == "" {
			return sdk.ToolChoiceUnionParam{}, errors.New("anthropicclient: tool choice mode tool requires a name")
		}
		return sdk.ToolChoiceParamOfTool(choice.Name), nil
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropicclient: unsupported tool choice mode %d", choice.Mode)
	}
}

func encodeMCPServers(defs []MCPServerDef) []sdk.RequestMCPServerURLDefinitionParam {
	out := make([]sdk.RequestMCPServerURLDefinitionParam, 0, len(defs))
	for _, d := range defs {
		s := sdk.RequestMCPServerURLDefinitionParam{Name: d.Name, URL: d.URL}
		if d.APIKey != "" {
			s.AuthorizationToken = sdk.String(d.APIKey)
		}
		out = append(out, s)
	}
	return out
}

func translateResponse(msg *sdk.Message) (*Response, error) {
	if msg == nil {
		return nil, errors.New("anthropicclient: response message is nil")
	}
	out := content.Message{Role: content.RoleAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				out.Content = append(out.Content, content.NewTextBlock(block.Text))
			}
		case "tool_use":
			input, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropicclient: marshal tool_use input: %w", err)
			}
			out.Content = append(out.Content, content.NewToolUseBlock(block.ID, block.Name, input))
		case "thinking":
			out.Content = append(out.Content, content.NewThinkingBlock(block.Thinking, block.Signature))
		case "redacted_thinking":
			out.Content = append(out.Content, content.NewRedactedThinkingBlock([]byte(block.Data)))
		}
	}
	return &Response{
		Message:    out,
		StopReason: content.StopReason(msg.StopReason),
		Usage: content.Usage{
			InputTokens:              int(msg.Usage.InputTokens),
			OutputTokens:             int(msg.Usage.OutputTokens),
			CacheCreationInputTokens: int(msg.Usage.CacheCreationInputTokens),
			CacheReadInputTokens:     int(msg.Usage.CacheReadInputTokens),
		},
	}, nil
}
