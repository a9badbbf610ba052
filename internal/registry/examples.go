package registry

// Examples returns ready-to-edit configs for commonly used MCP servers.
// Placeholder credentials must be replaced before enabling.
func Examples() map[string]map[string]any {
	return map[string]map[string]any{
		"slack": {
			"command": "npx",
			"args":    []any{"-y", "slack-mcp-server@latest", "--transport", "stdio"},
			"env": map[string]any{
				"SLACK_MCP_XOXC_TOKEN": "your-xoxc-token",
				"SLACK_MCP_XOXD_TOKEN": "your-xoxd-token",
			},
		},
		"browser-tools": {
			"command": "browser-tools-mcp",
		},
		"notion": {
			"command": "notion-mcp-server",
			"env": map[string]any{
				"NOTION_TOKEN": "your-notion-token",
			},
		},
		"figma": {
			"command": "figma-developer-mcp",
			"args":    []any{"--figma-api-key=your-api-key", "--stdio"},
		},
	}
}
