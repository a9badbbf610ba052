package mcp

import (
	"context"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/baton/internal/chain"
	"github.com/hpungsan/baton/internal/config"
	"github.com/hpungsan/baton/internal/store"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"baton_invoke": {
		def:     invokeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleInvoke },
	},
	"baton_chain": {
		def:     chainToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleChain },
	},
	"baton_context": {
		def:     contextToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleContext },
	},
	"baton_show": {
		def:     showToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleShow },
	},
	"baton_files": {
		def:     filesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFiles },
	},
	"baton_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"baton_latest": {
		def:     latestToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLatest },
	},
	"baton_lineage": {
		def:     lineageToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLineage },
	},
	"baton_tools": {
		def:     toolsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTools },
	},
	"baton_mcp_list": {
		def:     mcpListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMCPList },
	},
	"baton_mcp_enable": {
		def:     mcpEnableToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMCPEnable },
	},
	"baton_mcp_disable": {
		def:     mcpDisableToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMCPDisable },
	},
	"baton_mcp_examples": {
		def:     mcpExamplesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMCPExamples },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// Deps are the services the tool handlers drive.
type Deps struct {
	Runner *chain.Runner
	Store  *store.Store
	Config *config.Config
	Logger *zap.Logger
}

// NewServer creates a new MCP server with baton tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"baton",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(deps)

	disabled := make(map[string]bool)
	if deps.Config != nil {
		for _, name := range deps.Config.DisabledTools {
			disabled[name] = true
		}
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(deps Deps, version string) error {
	s := NewServer(deps, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
