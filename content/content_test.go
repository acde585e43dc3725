package content_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtree/agentkit/content"
)

func TestMessageText(t *testing.T) {
	m := content.Message{
		Role: content.RoleAssistant,
		Content: []content.Block{
			content.NewTextBlock("hello "),
			content.NewToolUseBlock("t1", "echo", json.RawMessage(`{}`)),
			content.NewTextBlock("world"),
		},
	}
	assert.Equal(t, "hello world", m.Text())
}

func TestMessageToolUses(t *testing.T) {
	m := content.Message{
		Role: content.RoleAssistant,
		Content: []content.Block{
			content.NewTextBlock("thinking..."),
			content.NewToolUseBlock("t1", "echo", json.RawMessage(`{"text":"hi"}`)),
		},
	}
	uses := m.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "echo", uses[0].Name)
	assert.Equal(t, "t1", uses[0].ID)
}

func TestSanitizeStripsParsedOutput(t *testing.T) {
	b := content.NewTextBlock("answer")
	b.ParsedOutput = json.RawMessage(`{"x":1}`)
	m := content.Message{Role: content.RoleAssistant, Content: []content.Block{b}}

	sanitized := m.Sanitize()
	require.Len(t, sanitized.Content, 1)
	assert.Nil(t, sanitized.Content[0].ParsedOutput)
	// Original is untouched.
	assert.NotNil(t, m.Content[0].ParsedOutput)
}

func TestCloneIsDeep(t *testing.T) {
	orig := content.Message{
		Role: content.RoleUser,
		Content: []content.Block{
			content.NewToolResultTextBlock("t1", "ok", false),
		},
	}
	clone := orig.Clone()
	clone.Content[0].ToolResult.Text = "mutated"
	assert.Equal(t, "ok", orig.Content[0].ToolResult.Text)
}

func TestUsageTotal(t *testing.T) {
	u := content.Usage{InputTokens: 10, OutputTokens: 5, CacheCreationInputTokens: 2, CacheReadInputTokens: 3}
	assert.Equal(t, 20, u.Total())
}

func TestCloneLogLength(t *testing.T) {
	log := []content.Message{content.NewUserText("hi"), content.NewAssistantText("hello")}
	clone := content.CloneLog(log)
	require.Len(t, clone, 2)
	assert.Equal(t, "hi", clone[0].Text())
}
