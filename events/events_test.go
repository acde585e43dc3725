package events_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowtree/agentkit/content"
	"github.com/flowtree/agentkit/events"
	"github.com/flowtree/agentkit/tree"
)

func TestStateChangeEventFields(t *testing.T) {
	e := events.NewStateChange("researcher", 100, "idle", "streaming")
	assert.Equal(t, events.TypeStateChange, e.Type())
	assert.Equal(t, "researcher", e.AgentName())
	assert.Equal(t, int64(100), e.TimestampUnix())
	assert.Equal(t, "idle", e.From)
	assert.Equal(t, "streaming", e.To)
}

func TestStreamEventCarriesKind(t *testing.T) {
	e := events.NewStream("researcher", 1, events.StreamToolUseStart)
	e.ToolID = "tool_1"
	e.ToolName = "web_search"
	assert.Equal(t, events.TypeStream, e.Type())
	assert.Equal(t, events.StreamToolUseStart, e.Kind)
}

func TestMessageEventWrapsMessage(t *testing.T) {
	m := content.NewUserText("hello")
	e := events.NewMessage("researcher", 1, m)
	assert.Equal(t, events.TypeMessage, e.Type())
	assert.Equal(t, m, e.Message)
}

func TestStepFinishEventCarriesStep(t *testing.T) {
	step := tree.StepFinish{Step: 3, Text: "done"}
	e := events.NewStepFinish("researcher", 1, step)
	assert.Equal(t, events.TypeStepFinish, e.Type())
	assert.Equal(t, 3, e.Step.Step)
}

func TestCompleteEventCarriesFinalMessage(t *testing.T) {
	m := content.NewAssistantText("final answer")
	e := events.NewComplete("researcher", 1, m)
	assert.Equal(t, events.TypeComplete, e.Type())
	assert.Equal(t, m, e.FinalMessage)
}

func TestErrorEventCarriesAbortedFlag(t *testing.T) {
	e := events.NewError("researcher", 1, errors.New("boom"), true)
	assert.Equal(t, events.TypeError, e.Type())
	assert.True(t, e.Aborted)
	assert.EqualError(t, e.Err, "boom")
}
