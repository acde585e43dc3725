package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowtree/agentkit/tree"
)

func TestValidateAcceptsWellFormedDescriptor(t *testing.T) {
	err := Validate(tree.MCPServerConfig{Name: "search", URL: "https://mcp.example.com/v1"})
	assert.NoError(t, err)
}

func TestValidateRejectsMissingName(t *testing.T) {
	err := Validate(tree.MCPServerConfig{URL: "https://mcp.example.com"})
	assert.Error(t, err)
}

func TestValidateRejectsMissingURL(t *testing.T) {
	err := Validate(tree.MCPServerConfig{Name: "search"})
	assert.Error(t, err)
}

func TestValidateRejectsNonHTTPScheme(t *testing.T) {
	err := Validate(tree.MCPServerConfig{Name: "search", URL: "ftp://mcp.example.com"})
	assert.Error(t, err)
}

func TestValidateRejectsHostlessURL(t *testing.T) {
	err := Validate(tree.MCPServerConfig{Name: "search", URL: "https:///path"})
	assert.Error(t, err)
}

func TestValidateAllowsAPIKeyUnconstrained(t *testing.T) {
	err := Validate(tree.MCPServerConfig{Name: "search", URL: "https://mcp.example.com", APIKey: "sk-whatever"})
	assert.NoError(t, err)
}
