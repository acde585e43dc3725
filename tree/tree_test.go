package tree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowtree/agentkit/tree"
)

func TestSDKToolBetaFlags(t *testing.T) {
	assert.Equal(t, "context-management-2025-06-27", tree.SDKToolMemory.BetaFlag())
	assert.Equal(t, "code-execution-2025-05-22", tree.SDKToolCodeExecution.BetaFlag())
	assert.Empty(t, tree.SDKToolWebSearch.BetaFlag())
}

func TestEnclosingAgentWalksToNearestAgentLike(t *testing.T) {
	root := &tree.Instance{Node: &tree.Node{Kind: tree.KindAgent}, Config: tree.AgentConfig{Name: "root"}}
	container := &tree.Instance{Node: &tree.Node{Kind: tree.KindToolsContainer}, Parent: root}
	leaf := &tree.Instance{Node: &tree.Node{Kind: tree.KindTool}, Parent: container}

	assert.Same(t, root, leaf.EnclosingAgent())
	assert.Same(t, root, container.EnclosingAgent())
	assert.Nil(t, root.EnclosingAgent().Parent)
}

func TestAncestorAgentNamesCollectsAllAncestors(t *testing.T) {
	grandparent := &tree.Instance{Node: &tree.Node{Kind: tree.KindAgent}, Config: tree.AgentConfig{Name: "outer"}}
	parent := &tree.Instance{Node: &tree.Node{Kind: tree.KindSubagent}, Config: tree.AgentConfig{Name: "mid"}, Parent: grandparent}
	child := &tree.Instance{Node: &tree.Node{Kind: tree.KindSubagent}, Config: tree.AgentConfig{Name: "inner"}, Parent: parent}

	assert.Equal(t, []string{"mid", "outer"}, child.AncestorAgentNames())
}

func TestNewMCPServerUsesNameAsKey(t *testing.T) {
	n := tree.NewMCPServer(tree.MCPServerConfig{Name: "search", URL: "https://mcp.example/search"})
	assert.Equal(t, "search", n.Key)
	assert.Equal(t, tree.KindMCPServer, n.Kind)
}

func TestNewConditionStartsWithGivenActiveFlag(t *testing.T) {
	n := tree.NewCondition(tree.ConditionConfig{IsBoolean: true, BoolValue: true, Active: true})
	assert.Equal(t, tree.KindCondition, n.Kind)
	assert.True(t, n.Condition.Active)
}
