package mcp

import "github.com/mark3labs/mcp-go/mcp"

var stringItems = mcp.Items(map[string]any{"type": "string"})

var invokeToolDef = mcp.NewTool("baton_invoke",
	mcp.WithDescription("Run one stateless assistant invocation and record it as an immutable output folder. "+
		"Assistant failures are reported in the result; the folder is always created once the call starts."),
	mcp.WithString("command", mcp.Description("Command text. ${NAME} placeholders are filled from args. Exclusive with command_file.")),
	mcp.WithString("command_file", mcp.Description("Command file path, or a name in the commands directory")),
	mcp.WithObject("args", mcp.Description("Placeholder values; scalar values only")),
	mcp.WithString("model", mcp.Description("Model selector (default from config)")),
	mcp.WithNumber("max_turns", mcp.Description("Turn bound, 1-512 (default from config)")),
	mcp.WithString("preset", mcp.Description("Tool preset: all, read-only, file-operations, code-development, web, minimal, none")),
	mcp.WithArray("groups", stringItems, mcp.Description("Capability groups to add: file-read, file-write, file-edit, bash, search, web")),
	mcp.WithArray("add", stringItems, mcp.Description("Capabilities to add to the preset")),
	mcp.WithArray("remove", stringItems, mcp.Description("Capabilities to remove; removals always win")),
	mcp.WithBoolean("skip_permissions", mcp.Description("Let the assistant act without permission prompts")),
	mcp.WithArray("mcp_servers", stringItems, mcp.Description("Enabled MCP servers to pass (default: all enabled)")),
	mcp.WithString("memory", mcp.Description("Memory text placed before the command")),
	mcp.WithString("previous_id", mcp.Description("Folder this invocation continues from")),
	mcp.WithArray("context_from", stringItems, mcp.Description("Folder ids rendered into memory (default: previous_id when context_mode is set)")),
	mcp.WithString("context_mode", mcp.Description("How folders become memory: summary, file-list, full-content, custom, none")),
	mcp.WithArray("extensions", stringItems, mcp.Description("File extensions included by full-content and custom modes")),
	mcp.WithString("template", mcp.Description("Template for custom mode")),
	mcp.WithString("timeout", mcp.Description("Wall-clock ceiling for the assistant call, e.g. 10m")),
)

var chainToolDef = mcp.NewTool("baton_chain",
	mcp.WithDescription("Run a YAML chain file step by step; each step's folder becomes the next step's context."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Chain file path")),
	mcp.WithObject("args", mcp.Description("Argument overrides applied to every step")),
)

var contextToolDef = mcp.NewTool("baton_context",
	mcp.WithDescription("Build memory text from an output folder, or from text, a file or project memory. Read-only."),
	mcp.WithString("id", mcp.Description("Folder id to render")),
	mcp.WithString("mode", mcp.Description("Folder mode: summary (default), file-list, full-content, custom")),
	mcp.WithString("kind", mcp.Description("Non-folder source: text, file, project, combined")),
	mcp.WithString("text", mcp.Description("Text for text/combined sources")),
	mcp.WithString("file_path", mcp.Description("File for file/combined sources")),
	mcp.WithString("project", mcp.Description("Project memory for project/combined sources")),
	mcp.WithString("append_to", mcp.Description("Existing memory to prefix")),
	mcp.WithArray("extensions", stringItems, mcp.Description("File extensions for content modes")),
	mcp.WithString("template", mcp.Description("Template for custom mode")),
	mcp.WithNumber("max_file_kb", mcp.Description("Per-file size bound in KiB")),
)

var showToolDef = mcp.NewTool("baton_show",
	mcp.WithDescription("Show a folder's manifest."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Folder id")),
	mcp.WithBoolean("include_response", mcp.Description("Include the raw assistant response")),
)

var filesToolDef = mcp.NewTool("baton_files",
	mcp.WithDescription("List or read the files in a folder."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Folder id")),
	mcp.WithString("mode", mcp.Description("list (default), read-all, read-specific")),
	mcp.WithString("pattern", mcp.Description("Glob on file name or relative path (default *)")),
	mcp.WithString("file", mcp.Description("File for read-specific")),
	mcp.WithNumber("max_files", mcp.Description("Maximum files returned (default 10, max 100)")),
)

var listToolDef = mcp.NewTool("baton_list",
	mcp.WithDescription("List folders, newest first."),
	mcp.WithString("status", mcp.Description("Filter: succeeded, failed, turn_limit, cancelled")),
	mcp.WithString("previous_id", mcp.Description("Only folders continuing from this one")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
)

var latestToolDef = mcp.NewTool("baton_latest",
	mcp.WithDescription("Get the most recent folder."),
	mcp.WithString("status", mcp.Description("Filter by status")),
	mcp.WithBoolean("include_manifest", mcp.Description("Include the full manifest")),
)

var lineageToolDef = mcp.NewTool("baton_lineage",
	mcp.WithDescription("Walk previous_id links from a folder back to the first step."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Folder id")),
	mcp.WithNumber("max_depth", mcp.Description("Maximum folders returned (default 50, max 500)")),
)

var toolsToolDef = mcp.NewTool("baton_tools",
	mcp.WithDescription("Resolve a capability grant without running anything, and list presets and groups."),
	mcp.WithString("preset", mcp.Description("Tool preset (default from config)")),
	mcp.WithArray("groups", stringItems, mcp.Description("Capability groups to add")),
	mcp.WithArray("add", stringItems, mcp.Description("Capabilities to add")),
	mcp.WithArray("remove", stringItems, mcp.Description("Capabilities to remove")),
	mcp.WithBoolean("skip_permissions", mcp.Description("Skip permission prompts")),
)

var mcpListToolDef = mcp.NewTool("baton_mcp_list",
	mcp.WithDescription("List registered MCP servers and whether each is enabled."),
)

var mcpEnableToolDef = mcp.NewTool("baton_mcp_enable",
	mcp.WithDescription("Register and enable an MCP server for subsequent invocations."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Server name")),
	mcp.WithObject("config", mcp.Description("Server config (command/args/env or url). Defaults to the named example.")),
)

var mcpDisableToolDef = mcp.NewTool("baton_mcp_disable",
	mcp.WithDescription("Disable a registered MCP server."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Server name")),
)

var mcpExamplesToolDef = mcp.NewTool("baton_mcp_examples",
	mcp.WithDescription("Example configs for common MCP servers."),
)
