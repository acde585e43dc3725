package spawn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtree/agentkit/anthropicclient"
	"github.com/flowtree/agentkit/content"
	"github.com/flowtree/agentkit/spawn"
	"github.com/flowtree/agentkit/store"
	"github.com/flowtree/agentkit/telemetry"
	"github.com/flowtree/agentkit/toolspec"
	"github.com/flowtree/agentkit/tree"
)

func parentInstance(t *testing.T) *tree.Instance {
	t.Helper()
	return &tree.Instance{
		Node:   tree.NewAgent(tree.AgentConfig{Name: "researcher", Model: "claude-x", MaxTokens: 8000}),
		Config: tree.AgentConfig{Name: "researcher", Model: "claude-x", MaxTokens: 8000},
		Store:  store.New(),
	}
}

func TestSpawnRunsChildAndReturnsText(t *testing.T) {
	parent := parentInstance(t)
	childTree := tree.NewAgent(tree.AgentConfig{Name: "child"})

	var seenInst *tree.Instance
	runner := func(ctx context.Context, inst *tree.Instance, client *anthropicclient.Client, logger telemetry.Logger) (content.Message, error) {
		seenInst = inst
		return content.NewAssistantText("child says hi"), nil
	}

	fn := spawn.New(parent, nil, telemetry.Noop{}, runner)

	text, err := fn(context.Background(), toolspec.SpawnOptions{Tree: childTree})
	require.NoError(t, err)
	assert.Equal(t, "child says hi", text)
	require.NotNil(t, seenInst)
	assert.Equal(t, "researcher.subagent", seenInst.Config.Name)
	assert.Equal(t, 4000, seenInst.Config.MaxTokens)
}

func TestSpawnRejectsNonAgentTree(t *testing.T) {
	parent := parentInstance(t)
	notAgent := tree.NewTool(&toolspec.Spec{Name: "x"})

	runner := func(ctx context.Context, inst *tree.Instance, client *anthropicclient.Client, logger telemetry.Logger) (content.Message, error) {
		t.Fatal("runner should not be invoked")
		return content.Message{}, nil
	}

	fn := spawn.New(parent, nil, telemetry.Noop{}, runner)

	_, err := fn(context.Background(), toolspec.SpawnOptions{Tree: notAgent})
	assert.Error(t, err)
}

func TestSpawnRejectsWrongTreeType(t *testing.T) {
	parent := parentInstance(t)
	runner := func(ctx context.Context, inst *tree.Instance, client *anthropicclient.Client, logger telemetry.Logger) (content.Message, error) {
		t.Fatal("runner should not be invoked")
		return content.Message{}, nil
	}

	fn := spawn.New(parent, nil, telemetry.Noop{}, runner)

	_, err := fn(context.Background(), toolspec.SpawnOptions{Tree: "not a node"})
	assert.Error(t, err)
}
