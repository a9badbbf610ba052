package chain

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hpungsan/baton/internal/args"
	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/invoke"
	"github.com/hpungsan/baton/internal/memory"
	"github.com/hpungsan/baton/internal/registry"
	"github.com/hpungsan/baton/internal/tools"
)

// StepRequest is one ad hoc invocation outside a chain file. Context is
// taken from folders that already exist, named by id.
type StepRequest struct {
	Command     string
	CommandFile string
	Model       string
	MaxTurns    int
	Args        args.Map
	Tools       *ToolSpec
	// MCP selects enabled servers by name. nil passes every enabled server;
	// an empty non-nil slice passes none.
	MCP        []string
	Memory     string
	MemoryFile string
	PreviousID string
	Timeout    time.Duration

	// ContextFrom lists folder ids rendered into memory. When empty and
	// ContextMode is set, PreviousID is used.
	ContextFrom []string
	ContextMode string
	Context     memory.FolderRequest
}

// Step resolves req the same way a chain step is resolved and runs it.
func (r *Runner) Step(ctx context.Context, req StepRequest) (*invoke.Result, error) {
	p := planned{step: Step{Name: "invoke", Model: req.Model, MaxTurns: req.MaxTurns}}

	switch {
	case req.CommandFile != "" && strings.TrimSpace(req.Command) != "":
		return nil, errors.NewInvalidRequest("command and command_file are mutually exclusive")
	case req.CommandFile != "":
		command, err := invoke.LoadCommand(r.CommandsDir, req.CommandFile)
		if err != nil {
			return nil, err
		}
		p.command = command
	default:
		p.command = req.Command
	}

	switch {
	case req.MemoryFile != "" && req.Memory != "":
		return nil, errors.NewInvalidRequest("memory and memory_file are mutually exclusive")
	case req.MemoryFile != "":
		data, err := os.ReadFile(req.MemoryFile)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.NewNotFound(req.MemoryFile)
			}
			return nil, errors.NewInternal(err)
		}
		p.memory = strings.TrimSpace(string(data))
	default:
		p.memory = req.Memory
	}

	p.args = req.Args
	toolCfg, err := tools.Resolve(r.toolSpec(req.Tools))
	if err != nil {
		return nil, err
	}
	p.tools = toolCfg

	var resolved registry.Resolved
	if r.Registry != nil {
		resolved = r.Registry.Resolve()
	}
	if p.mcp, err = selectMCP(resolved, req.MCP); err != nil {
		return nil, err
	}

	sources := req.ContextFrom
	p.mode = ModeNone
	if req.ContextMode != "" || len(sources) > 0 {
		if req.ContextMode == ModeNone {
			sources = nil
		} else {
			mode, err := memory.ParseMode(req.ContextMode)
			if err != nil {
				return nil, err
			}
			p.mode = string(mode)
		}
		p.bounds = req.Context
	}
	if len(sources) == 0 && p.mode != ModeNone && req.PreviousID != "" {
		sources = []string{req.PreviousID}
	}

	mem, err := r.buildMemory(ctx, p, sources)
	if err != nil {
		return nil, err
	}

	return r.Invoker.Invoke(ctx, invoke.Request{
		Command:        p.command,
		Model:          p.step.Model,
		MaxTurns:       p.step.MaxTurns,
		Memory:         mem,
		MemoryVerbatim: true,
		Args:           p.args,
		Tools:          p.tools,
		MCP:            p.mcp,
		PreviousID:     req.PreviousID,
		Timeout:        req.Timeout,
	})
}
