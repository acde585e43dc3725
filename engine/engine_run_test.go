package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtree/agentkit/anthropicclient"
	"github.com/flowtree/agentkit/content"
	"github.com/flowtree/agentkit/engine"
	"github.com/flowtree/agentkit/reconcile"
	"github.com/flowtree/agentkit/store"
	"github.com/flowtree/agentkit/toolspec"
	"github.com/flowtree/agentkit/tree"
)

// fakeMessagesClient is a hand-rolled anthropicclient.MessagesClient fake,
// mirroring the MessagesClient fake pattern the teacher exercises in
// features/model/anthropic/client_test.go: a scripted sequence of responses
// returned in order, with the last one repeated once exhausted.
type fakeMessagesClient struct {
	mu        sync.Mutex
	responses []*sdk.Message
	calls     int
}

func (f *fakeMessagesClient) New(_ context.Context, _ sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

func (f *fakeMessagesClient) NewStreaming(_ context.Context, _ sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	return nil
}

func (f *fakeMessagesClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func echoTool(t *testing.T) *toolspec.Spec {
	t.Helper()
	spec := &toolspec.Spec{
		Name: "echo",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []any{"text"},
		},
		Handler: func(_ context.Context, _ *toolspec.Context, input json.RawMessage) (toolspec.Result, error) {
			var args struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return toolspec.Result{}, err
			}
			return toolspec.TextResult(args.Text), nil
		},
	}
	require.NoError(t, spec.Compile())
	return spec
}

func toolUseMessage(id, name string, input map[string]any) *sdk.Message {
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "tool_use", ID: id, Name: name, Input: input},
		},
		StopReason: "tool_use",
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func textMessage(text string) *sdk.Message {
	return &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage:      sdk.Usage{InputTokens: 12, OutputTokens: 2},
	}
}

// TestEngineRunSingleToolTurn exercises spec scenario S1: one tool_use turn
// followed by a final text turn, checked against the message-log shape
// spec.md §8 Testable Property 1 requires (a tool_result answering every
// tool_use, in order) and the exact scenario assertions S1 names.
func TestEngineRunSingleToolTurn(t *testing.T) {
	fake := &fakeMessagesClient{responses: []*sdk.Message{
		toolUseMessage("tool_1", "echo", map[string]any{"text": "hi"}),
		textMessage("hi"),
	}}
	client, err := anthropicclient.New(fake)
	require.NoError(t, err)

	root := tree.NewAgent(tree.AgentConfig{Name: "agent", Model: "claude-x", MaxTokens: 1024},
		tree.NewSystem(content.SystemPart{Text: "You are helpful"}),
		tree.NewTool(echoTool(t)),
	)
	st := store.New()
	inst, err := reconcile.Mount(root, st)
	require.NoError(t, err)

	st.AppendMessage(content.NewUserText("say hi"))

	eng := engine.New(inst, client, engine.Deps{})
	final, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "hi", final.Text())
	assert.Equal(t, 2, fake.callCount())
	assert.Len(t, st.Snapshot(), 4)

	toolUseMsg := st.Snapshot()[1]
	toolResultMsg := st.Snapshot()[2]
	require.Len(t, toolUseMsg.ToolUses(), 1)
	require.Len(t, toolResultMsg.Content, 1)
	require.NotNil(t, toolResultMsg.Content[0].ToolResult)
	assert.Equal(t, toolUseMsg.ToolUses()[0].ID, toolResultMsg.Content[0].ToolResult.ToolUseID)
}

// TestEngineRunStopsAtIterationCap exercises spec scenario S2: with
// max_iterations = N and a chat service that always replies tool_use, the
// engine performs exactly N chat requests and returns without error.
func TestEngineRunStopsAtIterationCap(t *testing.T) {
	fake := &fakeMessagesClient{responses: []*sdk.Message{
		toolUseMessage("tool_1", "echo", map[string]any{"text": "again"}),
	}}
	client, err := anthropicclient.New(fake)
	require.NoError(t, err)

	root := tree.NewAgent(tree.AgentConfig{Name: "agent", Model: "claude-x", MaxTokens: 1024, MaxIterations: 3},
		tree.NewTool(echoTool(t)),
	)
	st := store.New()
	inst, err := reconcile.Mount(root, st)
	require.NoError(t, err)

	st.AppendMessage(content.NewUserText("loop forever"))

	eng := engine.New(inst, client, engine.Deps{})
	final, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, fake.callCount())
	require.NotEmpty(t, final.ToolUses())
}
