package chain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/baton/internal/args"
	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/invoke"
	"github.com/hpungsan/baton/internal/memory"
	"github.com/hpungsan/baton/internal/metrics"
	"github.com/hpungsan/baton/internal/registry"
	"github.com/hpungsan/baton/internal/store"
	"github.com/hpungsan/baton/internal/tools"
)

// Runner executes chains.
type Runner struct {
	Invoker  *invoke.Invoker
	Memory   *memory.Builder
	Registry *registry.Registry
	Logger   *zap.Logger
	Metrics  *metrics.Metrics

	CommandsDir   string
	DefaultPreset string
}

// StepReport is the outcome of one step.
type StepReport struct {
	Name       string           `json:"name"`
	FolderID   string           `json:"folder_id"`
	Status     store.Status     `json:"status"`
	Response   string           `json:"response"`
	Error      *store.ErrorInfo `json:"error,omitempty"`
	DurationMS int64            `json:"duration_ms"`
	// ContextFrom lists the folders whose rendering became this step's memory.
	ContextFrom []string `json:"context_from,omitempty"`
}

// Report is the outcome of a chain run.
type Report struct {
	Name      string       `json:"name,omitempty"`
	Steps     []StepReport `json:"steps"`
	Completed bool         `json:"completed"`
	// StoppedAt names the failed step that ended the run early.
	StoppedAt string `json:"stopped_at,omitempty"`
}

// planned is a step with every input resolved, ready to invoke.
type planned struct {
	step    Step
	command string
	memory  string
	args    args.Map
	tools   tools.Config
	mcp     registry.Resolved
	timeout time.Duration
	mode    string
	from    []string
	bounds  memory.FolderRequest
}

// Run executes c step by step. overrides take precedence over every
// argument in the file. All steps are resolved before the first one runs,
// so a bad preset or unknown MCP server in step 3 fails before step 1 spends turns.
//
// A step whose status is not succeeded stops the run unless it sets
// continue_on_failure. Folder and assistant failures are reported in the
// Report; the returned error is for configuration, context and store failures.
func (r *Runner) Run(ctx context.Context, c *Chain, overrides args.Map) (*Report, error) {
	plan, err := r.plan(c, overrides)
	if err != nil {
		return nil, err
	}

	logger := r.logger().With(zap.String("chain", c.Name))
	report := &Report{Name: c.Name, Steps: []StepReport{}}
	folders := make(map[string]string, len(plan))
	previous := ""

	for i, p := range plan {
		if ctx.Err() != nil {
			return report, errors.NewCancelled("chain")
		}

		sources := resolveFrom(p.from, folders, previous)
		mem, err := r.buildMemory(ctx, p, sources)
		if err != nil {
			return report, err
		}

		logger.Info("chain step started",
			zap.Int("step", i+1),
			zap.String("name", p.step.Name),
			zap.Strings("context_from", sources),
		)

		res, err := r.Invoker.Invoke(ctx, invoke.Request{
			Command:        p.command,
			Model:          p.step.Model,
			MaxTurns:       p.step.MaxTurns,
			Memory:         mem,
			MemoryVerbatim: true,
			Args:           p.args,
			Tools:          p.tools,
			MCP:            p.mcp,
			PreviousID:     previous,
			Timeout:        p.timeout,
		})
		if err != nil {
			return report, err
		}

		report.Steps = append(report.Steps, StepReport{
			Name:        p.step.Name,
			FolderID:    res.FolderID,
			Status:      res.Metadata.Status,
			Response:    res.Response,
			Error:       res.Metadata.Error,
			DurationMS:  res.Metadata.DurationMS,
			ContextFrom: sources,
		})
		folders[p.step.Name] = res.FolderID
		previous = res.FolderID

		if res.Metadata.Status != store.StatusSucceeded && !p.step.ContinueOnFailure {
			logger.Warn("chain stopped",
				zap.String("name", p.step.Name),
				zap.String("status", string(res.Metadata.Status)),
			)
			report.StoppedAt = p.step.Name
			return report, nil
		}
	}

	report.Completed = true
	return report, nil
}

func (r *Runner) plan(c *Chain, overrides args.Map) ([]planned, error) {
	var resolved registry.Resolved
	if r.Registry != nil {
		resolved = r.Registry.Resolve()
	}

	out := make([]planned, 0, len(c.Steps))
	for _, s := range c.Steps {
		p := planned{step: s}

		// Per-step fields fall back to chain defaults.
		if p.step.Model == "" {
			p.step.Model = c.Defaults.Model
		}
		if p.step.MaxTurns == 0 {
			p.step.MaxTurns = c.Defaults.MaxTurns
		}

		if s.CommandFile != "" {
			command, err := invoke.LoadCommand(r.CommandsDir, c.resolvePath(s.CommandFile))
			if err != nil {
				return nil, fmt.Errorf("step %q: %w", s.Name, err)
			}
			p.command = command
		} else {
			p.command = s.Command
		}

		if s.MemoryFile != "" {
			data, err := os.ReadFile(c.resolveFile(s.MemoryFile))
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("step %q: %w", s.Name, errors.NewNotFound(s.MemoryFile))
				}
				return nil, fmt.Errorf("step %q: %w", s.Name, errors.NewInternal(err))
			}
			p.memory = strings.TrimSpace(string(data))
		} else {
			p.memory = s.Memory
		}

		p.args = args.Merge(c.Defaults.Args.Map, s.Args.Map, overrides)
		for _, text := range []string{p.command, p.memory} {
			if _, err := args.Substitute(text, p.args, r.Invoker.Policy()); err != nil {
				return nil, fmt.Errorf("step %q: %w", s.Name, err)
			}
		}

		spec := s.Tools
		if spec == nil {
			spec = c.Defaults.Tools
		}
		toolCfg, err := tools.Resolve(r.toolSpec(spec))
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.Name, err)
		}
		p.tools = toolCfg

		names := s.MCP
		if names == nil {
			names = c.Defaults.MCP
		}
		mcp, err := selectMCP(resolved, names)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.Name, err)
		}
		p.mcp = mcp

		timeout := s.Timeout
		if timeout == "" {
			timeout = c.Defaults.Timeout
		}
		if timeout != "" {
			p.timeout, _ = time.ParseDuration(timeout)
		}

		p.mode = string(memory.ModeSummary)
		if s.Context != nil {
			p.from = s.Context.From
			if s.Context.Mode == ModeNone {
				p.mode = ModeNone
			} else {
				mode, _ := memory.ParseMode(s.Context.Mode)
				p.mode = string(mode)
			}
			p.bounds = memory.FolderRequest{
				Extensions:   s.Context.Extensions,
				Template:     s.Context.Template,
				MaxFileBytes: int64(s.Context.MaxFileKB) * 1024,
			}
		}

		out = append(out, p)
	}
	return out, nil
}

func (r *Runner) toolSpec(spec *ToolSpec) tools.Spec {
	if spec == nil {
		return tools.Spec{Preset: r.DefaultPreset}
	}
	preset := spec.Preset
	if preset == "" {
		preset = r.DefaultPreset
	}
	return tools.Spec{
		Preset:          preset,
		Groups:          spec.Groups,
		Additions:       spec.Add,
		Removals:        spec.Remove,
		SkipPermissions: spec.SkipPermissions,
	}
}

// selectMCP narrows the enabled servers to names. Unset keeps every enabled
// server; an empty list or "none" selects none.
func selectMCP(enabled registry.Resolved, names []string) (registry.Resolved, error) {
	if names == nil {
		return enabled, nil
	}
	if len(names) == 0 || (len(names) == 1 && strings.EqualFold(strings.TrimSpace(names[0]), "none")) {
		return registry.Resolved{}, nil
	}
	return enabled.Only(names)
}

// resolveFrom maps context references to folder ids. No references means
// the previous step, if any.
func resolveFrom(from []string, folders map[string]string, previous string) []string {
	if len(from) == 0 {
		if previous == "" {
			return nil
		}
		return []string{previous}
	}
	ids := make([]string, 0, len(from))
	for _, name := range from {
		if name == FromPrevious {
			ids = append(ids, previous)
			continue
		}
		ids = append(ids, folders[name])
	}
	return ids
}

// buildMemory renders each source folder, concurrently, and joins them in
// the order given after the step's own memory text. Arguments are substituted
// into the step's text only; rendered folder content is used verbatim.
func (r *Runner) buildMemory(ctx context.Context, p planned, sources []string) (string, error) {
	own, err := args.Substitute(p.memory, p.args, r.Invoker.Policy())
	if err != nil {
		return "", fmt.Errorf("step %q: %w", p.step.Name, err)
	}
	if p.mode == ModeNone || len(sources) == 0 {
		return own, nil
	}

	parts := make([]string, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range sources {
		g.Go(func() error {
			req := p.bounds
			req.ID = id
			req.Mode = memory.Mode(p.mode)
			res, err := r.Memory.BuildFromFolder(gctx, req)
			if err != nil {
				return fmt.Errorf("step %q: context from %s: %w", p.step.Name, id, err)
			}
			r.Metrics.ContextBuilt(p.mode)
			parts[i] = res.Text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	text := strings.Join(parts, "\n\n")
	if own == "" {
		return text, nil
	}
	return own + "\n\n" + text, nil
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// resolvePath makes a relative file reference relative to the chain file.
// Bare command names (no separator) are left for the commands directory.
func (c *Chain) resolvePath(p string) string {
	if c.dir == "" || filepath.IsAbs(p) || !strings.ContainsAny(p, `/\`) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// resolveFile makes any relative path relative to the chain file.
func (c *Chain) resolveFile(p string) string {
	if c.dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}
