package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/baton/internal/args"
	"github.com/hpungsan/baton/internal/chain"
	"github.com/hpungsan/baton/internal/config"
	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/invoke"
	"github.com/hpungsan/baton/internal/memory"
	"github.com/hpungsan/baton/internal/ops"
	"github.com/hpungsan/baton/internal/registry"
	"github.com/hpungsan/baton/internal/store"
	"github.com/hpungsan/baton/internal/tools"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	runner *chain.Runner
	store  *store.Store
	cfg    *config.Config
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps) *Handlers {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{runner: deps.Runner, store: deps.Store, cfg: cfg, logger: logger}
}

// Request types for each tool

// InvokeRequest represents the arguments for baton_invoke.
type InvokeRequest struct {
	Command         string          `json:"command,omitempty"`
	CommandFile     string          `json:"command_file,omitempty"`
	Args            json.RawMessage `json:"args,omitempty"`
	Model           string          `json:"model,omitempty"`
	MaxTurns        int             `json:"max_turns,omitempty"`
	Preset          string          `json:"preset,omitempty"`
	Groups          []string        `json:"groups,omitempty"`
	Add             []string        `json:"add,omitempty"`
	Remove          []string        `json:"remove,omitempty"`
	SkipPermissions bool            `json:"skip_permissions,omitempty"`
	MCPServers      *[]string       `json:"mcp_servers,omitempty"`
	Memory          string          `json:"memory,omitempty"`
	PreviousID      string          `json:"previous_id,omitempty"`
	ContextFrom     []string        `json:"context_from,omitempty"`
	ContextMode     string          `json:"context_mode,omitempty"`
	Extensions      []string        `json:"extensions,omitempty"`
	Template        string          `json:"template,omitempty"`
	Timeout         string          `json:"timeout,omitempty"`
}

// ChainRequest represents the arguments for baton_chain.
type ChainRequest struct {
	Path string          `json:"path"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ContextRequest represents the arguments for baton_context.
type ContextRequest struct {
	ID         string   `json:"id,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Text       string   `json:"text,omitempty"`
	FilePath   string   `json:"file_path,omitempty"`
	Project    string   `json:"project,omitempty"`
	AppendTo   string   `json:"append_to,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
	Template   string   `json:"template,omitempty"`
	MaxFileKB  int      `json:"max_file_kb,omitempty"`
}

// ShowRequest represents the arguments for baton_show.
type ShowRequest struct {
	ID              string `json:"id"`
	IncludeResponse bool   `json:"include_response,omitempty"`
}

// FilesRequest represents the arguments for baton_files.
type FilesRequest struct {
	ID       string `json:"id"`
	Mode     string `json:"mode,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	File     string `json:"file,omitempty"`
	MaxFiles int    `json:"max_files,omitempty"`
}

// ListRequest represents the arguments for baton_list.
type ListRequest struct {
	Status     string `json:"status,omitempty"`
	PreviousID string `json:"previous_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// LatestRequest represents the arguments for baton_latest.
type LatestRequest struct {
	Status          string `json:"status,omitempty"`
	IncludeManifest bool   `json:"include_manifest,omitempty"`
}

// LineageRequest represents the arguments for baton_lineage.
type LineageRequest struct {
	ID       string `json:"id"`
	MaxDepth int    `json:"max_depth,omitempty"`
}

// ToolsRequest represents the arguments for baton_tools.
type ToolsRequest struct {
	Preset          string   `json:"preset,omitempty"`
	Groups          []string `json:"groups,omitempty"`
	Add             []string `json:"add,omitempty"`
	Remove          []string `json:"remove,omitempty"`
	SkipPermissions bool     `json:"skip_permissions,omitempty"`
}

// MCPEnableRequest represents the arguments for baton_mcp_enable.
type MCPEnableRequest struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// MCPDisableRequest represents the arguments for baton_mcp_disable.
type MCPDisableRequest struct {
	Name string `json:"name"`
}

// Response types

// InvokeResponse is the baton_invoke result.
type InvokeResponse struct {
	FolderID string          `json:"folder_id"`
	Path     string          `json:"path,omitempty"`
	Response string          `json:"response"`
	Metadata invoke.Metadata `json:"metadata"`
}

// ToolsResponse is the baton_tools result.
type ToolsResponse struct {
	Config  tools.Config `json:"config"`
	Flag    string       `json:"flag"`
	Presets []string     `json:"presets"`
	Groups  []string     `json:"groups"`
}

// MCPListResponse is the baton_mcp_list result.
type MCPListResponse struct {
	Servers []registry.Entry `json:"servers"`
	Enabled []string         `json:"enabled"`
}

// Handler implementations

// HandleInvoke handles the baton_invoke tool call.
func (h *Handlers) HandleInvoke(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InvokeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	argMap, err := parseArgs(input.Args)
	if err != nil {
		return errorResult(err), nil
	}

	var timeout time.Duration
	if input.Timeout != "" {
		if timeout, err = time.ParseDuration(input.Timeout); err != nil || timeout <= 0 {
			return errorResult(errors.NewInvalidRequest("timeout must be a positive duration such as 10m")), nil
		}
	}

	var servers []string
	if input.MCPServers != nil {
		servers = *input.MCPServers
		if servers == nil {
			servers = []string{}
		}
	}

	stepReq := chain.StepRequest{
		Command:     input.Command,
		CommandFile: input.CommandFile,
		Model:       input.Model,
		MaxTurns:    input.MaxTurns,
		Args:        argMap,
		MCP:         servers,
		Memory:      input.Memory,
		PreviousID:  input.PreviousID,
		Timeout:     timeout,
		ContextFrom: input.ContextFrom,
		ContextMode: input.ContextMode,
		Context: memory.FolderRequest{
			Extensions: input.Extensions,
			Template:   input.Template,
		},
	}
	if input.Preset != "" || len(input.Groups) > 0 || len(input.Add) > 0 || len(input.Remove) > 0 || input.SkipPermissions {
		stepReq.Tools = &chain.ToolSpec{
			Preset:          input.Preset,
			Groups:          input.Groups,
			Add:             input.Add,
			Remove:          input.Remove,
			SkipPermissions: input.SkipPermissions,
		}
	}

	result, err := h.runner.Step(ctx, stepReq)
	if err != nil {
		return errorResult(err), nil
	}

	path, _ := h.store.Path(result.FolderID)
	return successResult(InvokeResponse{
		FolderID: result.FolderID,
		Path:     path,
		Response: result.Response,
		Metadata: result.Metadata,
	})
}

// HandleChain handles the baton_chain tool call.
func (h *Handlers) HandleChain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ChainRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return errorResult(errors.NewInvalidRequest("path is required")), nil
	}

	overrides, err := parseArgs(input.Args)
	if err != nil {
		return errorResult(err), nil
	}

	c, err := chain.Load(input.Path)
	if err != nil {
		return errorResult(err), nil
	}

	report, err := h.runner.Run(ctx, c, overrides)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(report)
}

// HandleContext handles the baton_context tool call.
func (h *Handlers) HandleContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ContextRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if input.ID == "" {
		if input.Kind == "" && input.Text == "" && input.FilePath == "" && input.Project == "" {
			return errorResult(errors.NewInvalidRequest("id or a text/file/project source is required")), nil
		}
		result, err := memory.Build(ctx, memory.Source{
			Kind:     memory.Kind(input.Kind),
			Text:     input.Text,
			FilePath: input.FilePath,
			Project:  input.Project,
			AppendTo: input.AppendTo,
		})
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(result)
	}

	result, err := h.runner.Memory.BuildFromFolder(ctx, memory.FolderRequest{
		ID:           input.ID,
		Mode:         memory.Mode(input.Mode),
		AppendTo:     input.AppendTo,
		Extensions:   input.Extensions,
		Template:     input.Template,
		MaxFileBytes: int64(input.MaxFileKB) * 1024,
	})
	if err != nil {
		return errorResult(err), nil
	}
	h.runner.Metrics.ContextBuilt(result.Mode)
	return successResult(result)
}

// HandleShow handles the baton_show tool call.
func (h *Handlers) HandleShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ShowRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Show(ctx, h.store, ops.ShowInput{
		ID:              input.ID,
		IncludeResponse: input.IncludeResponse,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFiles handles the baton_files tool call.
func (h *Handlers) HandleFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FilesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Files(ctx, h.store, ops.FilesInput{
		ID:       input.ID,
		Mode:     input.Mode,
		Pattern:  input.Pattern,
		File:     input.File,
		MaxFiles: input.MaxFiles,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleList handles the baton_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(ctx, h.store, ops.ListInput{
		Status:     input.Status,
		PreviousID: input.PreviousID,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleLatest handles the baton_latest tool call.
func (h *Handlers) HandleLatest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LatestRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Latest(ctx, h.store, ops.LatestInput{
		Status:          input.Status,
		IncludeManifest: input.IncludeManifest,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleLineage handles the baton_lineage tool call.
func (h *Handlers) HandleLineage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LineageRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Lineage(ctx, h.store, ops.LineageInput{
		ID:       input.ID,
		MaxDepth: input.MaxDepth,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleTools handles the baton_tools tool call.
func (h *Handlers) HandleTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ToolsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	preset := input.Preset
	if preset == "" {
		preset = h.cfg.DefaultPreset
	}
	cfg, err := tools.Resolve(tools.Spec{
		Preset:          preset,
		Groups:          input.Groups,
		Additions:       input.Add,
		Removals:        input.Remove,
		SkipPermissions: input.SkipPermissions,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(ToolsResponse{
		Config:  cfg,
		Flag:    cfg.String(),
		Presets: tools.Presets(),
		Groups:  tools.Groups(),
	})
}

// HandleMCPList handles the baton_mcp_list tool call.
func (h *Handlers) HandleMCPList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(MCPListResponse{
		Servers: h.runner.Registry.List(),
		Enabled: h.runner.Registry.Resolve().Names(),
	})
}

// HandleMCPEnable handles the baton_mcp_enable tool call.
func (h *Handlers) HandleMCPEnable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MCPEnableRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	cfg := input.Config
	if len(cfg) == 0 {
		example, ok := registry.Examples()[input.Name]
		if !ok {
			return errorResult(errors.NewRegistry(input.Name, "config is required (no example by that name)")), nil
		}
		cfg = example
	}

	if err := h.runner.Registry.Enable(input.Name, cfg); err != nil {
		return errorResult(err), nil
	}
	h.logger.Info("mcp server enabled", zap.String("name", input.Name))

	entry, _ := h.runner.Registry.Get(input.Name)
	return successResult(entry)
}

// HandleMCPDisable handles the baton_mcp_disable tool call.
func (h *Handlers) HandleMCPDisable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MCPDisableRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.runner.Registry.Disable(input.Name); err != nil {
		return errorResult(err), nil
	}
	h.logger.Info("mcp server disabled", zap.String("name", input.Name))

	entry, _ := h.runner.Registry.Get(input.Name)
	return successResult(entry)
}

// HandleMCPExamples handles the baton_mcp_examples tool call.
func (h *Handlers) HandleMCPExamples(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(map[string]any{"mcpServers": registry.Examples()})
}

// parseArgs reads an args object. Keys are taken in the order the JSON
// encoder produced them.
func parseArgs(raw json.RawMessage) (args.Map, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return args.Map{}, nil
	}
	return args.ParseJSON(s)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var bErr *errors.BatonError
	if stderrors.As(err, &bErr) {
		message := bErr.Message
		// Keep wrapper context such as `step "build": ` in front of the message.
		if prefix, ok := strings.CutSuffix(err.Error(), bErr.Error()); ok && prefix != "" {
			message = prefix + message
		}
		errorObj := map[string]any{
			"code":    bErr.Code,
			"message": message,
			"status":  bErr.Status,
		}
		if bErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if bErr.Details != nil {
			errorObj["details"] = bErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
