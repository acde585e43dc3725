// Package mcpserver validates the {name, url, auth?} descriptor shape an
// MCP-Server Node carries (spec §3) before the reconciler collects it into
// an agent's aggregated MCPServers array and the engine forwards it in the
// chat request's MCP server list (mcp_servers); no mcp_toolset entry is
// added to the request's tools. This package stops at the
// descriptor boundary: it never opens a transport connection, lists remote
// tools, or speaks any MCP wire protocol, matching spec.md §1's scoping of
// remote tool servers as opaque descriptors passed through.
//
// Grounded on github.com/mark3labs/mcp-go's Config validation shape
// (kadirpekel-hector/pkg/tool/mcptoolset/mcptoolset.go's New, which rejects
// a config missing both URL and Command before ever dialing out) — adapted
// here to validate structure alone, since this module has no toolset
// runtime to hand a live connection to.
package mcpserver

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/flowtree/agentkit/tree"
)

// Validate checks cfg's structural shape: Name must be non-empty, and URL
// must parse as an absolute http(s) URL. APIKey is optional and
// unconstrained (it is opaque bearer-token material from the caller's
// perspective).
func Validate(cfg tree.MCPServerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("mcpserver: name is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return fmt.Errorf("mcpserver: url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("mcpserver: invalid url %q: %w", cfg.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("mcpserver: url %q must be absolute http(s), got scheme %q", cfg.URL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("mcpserver: url %q is missing a host", cfg.URL)
	}
	return nil
}
