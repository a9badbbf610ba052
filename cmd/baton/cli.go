package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/baton/internal/args"
	"github.com/hpungsan/baton/internal/chain"
	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/invoke"
	"github.com/hpungsan/baton/internal/memory"
	"github.com/hpungsan/baton/internal/ops"
	"github.com/hpungsan/baton/internal/registry"
	"github.com/hpungsan/baton/internal/store"
	"github.com/hpungsan/baton/internal/tools"
	"github.com/hpungsan/baton/internal/web"
)

// maxStdinBytes bounds a command read from stdin.
const maxStdinBytes = 1 << 20

// newCLIApp creates the CLI application with all commands.
func newCLIApp(a *app) *cli.App {
	app := &cli.App{
		Name:    "baton",
		Usage:   "Chain assistant invocations through output folders",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(a),
			chainCmd(a),
			contextCmd(a),
			commandsCmd(a),
			showCmd(a),
			filesCmd(a),
			listCmd(a),
			latestCmd(a),
			lineageCmd(a),
			toolsCmd(a),
			mcpCmd(a),
			pruneCmd(a),
			reindexCmd(a),
			exportCmd(a),
			serveCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// runOutput is printed by the run command.
type runOutput struct {
	FolderID string          `json:"folder_id"`
	Path     string          `json:"path"`
	Response string          `json:"response"`
	Metadata invoke.Metadata `json:"metadata"`
}

// runCmd creates the run command.
func runCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Invoke the assistant once and publish an output folder",
		ArgsUsage: "[command text]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "command-file", Aliases: []string{"f"}, Usage: "Command file path, or a name in the commands directory"},
			&cli.StringSliceFlag{Name: "arg", Aliases: []string{"a"}, Usage: "Argument as KEY=VALUE (repeatable)"},
			&cli.StringFlag{Name: "args-json", Usage: "Arguments as a JSON object; --arg values win"},
			&cli.BoolFlag{Name: "strict", Usage: "Fail on unresolved ${NAME} placeholders"},
			&cli.StringFlag{Name: "preset", Aliases: []string{"p"}, Usage: "Tool preset (default from config)"},
			&cli.StringSliceFlag{Name: "group", Usage: "Tool group to add (repeatable)"},
			&cli.StringFlag{Name: "add", Usage: "Comma-separated tools to add"},
			&cli.StringFlag{Name: "remove", Usage: "Comma-separated tools to remove"},
			&cli.BoolFlag{Name: "skip-permissions", Usage: "Let the assistant act without permission prompts"},
			&cli.StringFlag{Name: "mcp", Usage: "Comma-separated MCP servers to pass, or \"none\" (default: all enabled)"},
			&cli.StringFlag{Name: "memory", Aliases: []string{"m"}, Usage: "Memory text given to the assistant"},
			&cli.StringFlag{Name: "memory-file", Usage: "Read memory text from a file"},
			&cli.StringFlag{Name: "previous", Usage: "Folder id this invocation continues from"},
			&cli.StringSliceFlag{Name: "context-from", Usage: "Folder id rendered into memory (repeatable)"},
			&cli.StringFlag{Name: "context-mode", Usage: "Memory mode for context folders: full|summary|files|custom"},
			&cli.StringFlag{Name: "template", Usage: "Template for custom context mode"},
			&cli.StringFlag{Name: "model", Usage: "Model selector"},
			&cli.IntFlag{Name: "max-turns", Usage: "Maximum assistant turns (default from config)"},
			&cli.DurationFlag{Name: "timeout", Usage: "Wall-clock ceiling for this invocation"},
		},
		Action: func(c *cli.Context) error {
			command := strings.Join(c.Args().Slice(), " ")
			if command == "" && c.String("command-file") == "" && stdinHasData() {
				text, err := readStdin(maxStdinBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				command = text
			}

			argMap, err := parseArgFlags(c)
			if err != nil {
				return outputError(err)
			}

			req := chain.StepRequest{
				Command:     command,
				CommandFile: c.String("command-file"),
				Model:       c.String("model"),
				MaxTurns:    c.Int("max-turns"),
				Args:        argMap,
				MCP:         parseServers(c.String("mcp"), c.IsSet("mcp")),
				Memory:      c.String("memory"),
				MemoryFile:  c.String("memory-file"),
				PreviousID:  c.String("previous"),
				Timeout:     c.Duration("timeout"),
				ContextFrom: c.StringSlice("context-from"),
				ContextMode: c.String("context-mode"),
				Context:     memory.FolderRequest{Template: c.String("template")},
			}
			if spec := toolFlags(c); spec != nil {
				req.Tools = spec
			}
			if c.Bool("strict") {
				a.runner.Invoker.Config.StrictArguments = true
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := a.runner.Step(ctx, req)
			if err != nil {
				return outputError(err)
			}

			path, _ := a.store.Path(result.FolderID)
			if err := outputJSON(runOutput{
				FolderID: result.FolderID,
				Path:     path,
				Response: result.Response,
				Metadata: result.Metadata,
			}); err != nil {
				return err
			}
			return statusExit(result.Metadata.Status, result.Metadata.Error)
		},
	}
}

// chainCmd creates the chain command.
func chainCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "chain",
		Usage:     "Run a chain file step by step",
		ArgsUsage: "<chain.yaml>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "arg", Aliases: []string{"a"}, Usage: "Argument override as KEY=VALUE (repeatable)"},
			&cli.StringFlag{Name: "args-json", Usage: "Argument overrides as a JSON object; --arg values win"},
			&cli.BoolFlag{Name: "strict", Usage: "Fail on unresolved ${NAME} placeholders"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("chain file path is required"))
			}

			ch, err := chain.Load(c.Args().First())
			if err != nil {
				return outputError(err)
			}
			overrides, err := parseArgFlags(c)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("strict") {
				a.runner.Invoker.Config.StrictArguments = true
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := a.runner.Run(ctx, ch, overrides)
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(report); err != nil {
				return err
			}
			if !report.Completed {
				return cli.Exit(fmt.Sprintf("chain stopped at step %q", report.StoppedAt), 1)
			}
			return nil
		},
	}
}

// contextCmd creates the context command.
func contextCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "context",
		Usage:     "Build memory text from a folder, or from text, a file or a project document",
		ArgsUsage: "[folder id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Usage: "Folder mode: full|summary|files|custom"},
			&cli.StringSliceFlag{Name: "ext", Usage: "File extension included in full mode (repeatable)"},
			&cli.StringFlag{Name: "template", Usage: "Template for custom mode"},
			&cli.IntFlag{Name: "max-file-kb", Usage: "Per-file bound for full mode"},
			&cli.StringFlag{Name: "kind", Usage: "Source kind without a folder: text|file|project|combined"},
			&cli.StringFlag{Name: "text", Usage: "Memory text"},
			&cli.StringFlag{Name: "file", Usage: "Memory file path"},
			&cli.StringFlag{Name: "project", Usage: "Project memory document (CLAUDE.md style)"},
			&cli.StringFlag{Name: "append-to", Usage: "Existing memory the result is appended to"},
			&cli.BoolFlag{Name: "render", Usage: "Print rendered markdown instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			var (
				result *memory.Result
				err    error
			)
			if c.NArg() > 0 {
				result, err = a.runner.Memory.BuildFromFolder(c.Context, memory.FolderRequest{
					ID:           c.Args().First(),
					Mode:         memory.Mode(c.String("mode")),
					AppendTo:     c.String("append-to"),
					Extensions:   c.StringSlice("ext"),
					Template:     c.String("template"),
					MaxFileBytes: int64(c.Int("max-file-kb")) * 1024,
				})
				if err == nil {
					a.metrics.ContextBuilt(result.Mode)
				}
			} else {
				if c.String("kind") == "" && c.String("text") == "" && c.String("file") == "" && c.String("project") == "" {
					return outputError(errors.NewInvalidRequest("a folder id or a --text/--file/--project source is required"))
				}
				result, err = memory.Build(c.Context, memory.Source{
					Kind:     memory.Kind(c.String("kind")),
					Text:     c.String("text"),
					FilePath: c.String("file"),
					Project:  c.String("project"),
					AppendTo: c.String("append-to"),
				})
			}
			if err != nil {
				return outputError(err)
			}

			if c.Bool("render") {
				return outputMarkdown(result.Text)
			}
			return outputJSON(result)
		},
	}
}

// commandsCmd creates the commands command.
func commandsCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "commands",
		Usage: "List command files in the commands directory",
		Action: func(c *cli.Context) error {
			names, err := invoke.ListCommands(a.runner.CommandsDir)
			if err != nil {
				return outputError(err)
			}
			if names == nil {
				names = []string{}
			}
			return outputJSON(map[string]any{
				"dir":      a.runner.CommandsDir,
				"commands": names,
			})
		},
	}
}

// showCmd creates the show command.
func showCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a folder's manifest",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "response", Aliases: []string{"r"}, Usage: "Include the assistant response"},
			&cli.BoolFlag{Name: "render", Usage: "Print the response as rendered markdown"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Show(c.Context, a.store, ops.ShowInput{
				ID:              c.Args().First(),
				IncludeResponse: c.Bool("response") || c.Bool("render"),
			})
			if err != nil {
				return outputError(err)
			}

			if c.Bool("render") {
				return outputMarkdown(output.Response)
			}
			return outputJSON(output)
		},
	}
}

// filesCmd creates the files command.
func filesCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "files",
		Usage:     "List or read the files of a folder",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Value: string(ops.FilesList), Usage: "list|read-all|read-specific"},
			&cli.StringFlag{Name: "pattern", Usage: "Glob on the file name or relative path"},
			&cli.StringFlag{Name: "file", Usage: "File to read in read-specific mode"},
			&cli.IntFlag{Name: "max-files", Value: ops.DefaultMaxFiles, Usage: "Maximum files to return"},
			&cli.BoolFlag{Name: "render", Usage: "Print file text as rendered markdown"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Files(c.Context, a.store, ops.FilesInput{
				ID:       c.Args().First(),
				Mode:     c.String("mode"),
				Pattern:  c.String("pattern"),
				File:     c.String("file"),
				MaxFiles: c.Int("max-files"),
			})
			if err != nil {
				return outputError(err)
			}

			if c.Bool("render") && output.Text != "" {
				return outputMarkdown(output.Text)
			}
			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List folders, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status"},
			&cli.StringFlag{Name: "previous", Usage: "Only folders continued from this id"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(c.Context, a.store, ops.ListInput{
				Status:     c.String("status"),
				PreviousID: c.String("previous"),
				Limit:      c.Int("limit"),
				Offset:     c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// latestCmd creates the latest command.
func latestCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "latest",
		Usage: "Get the most recently created folder",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status"},
			&cli.BoolFlag{Name: "manifest", Usage: "Include the full manifest"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Latest(c.Context, a.store, ops.LatestInput{
				Status:          c.String("status"),
				IncludeManifest: c.Bool("manifest"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// lineageCmd creates the lineage command.
func lineageCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "lineage",
		Usage:     "Walk a folder's previous_id chain",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max-depth", Value: ops.DefaultMaxDepth, Usage: "Maximum folders to walk"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Lineage(c.Context, a.store, ops.LineageInput{
				ID:       c.Args().First(),
				MaxDepth: c.Int("max-depth"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// toolsCmd creates the tools command.
func toolsCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "Resolve a tool grant and print the assistant flag",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "preset", Aliases: []string{"p"}, Usage: "Tool preset (default from config)"},
			&cli.StringSliceFlag{Name: "group", Usage: "Tool group to add (repeatable)"},
			&cli.StringFlag{Name: "add", Usage: "Comma-separated tools to add"},
			&cli.StringFlag{Name: "remove", Usage: "Comma-separated tools to remove"},
			&cli.BoolFlag{Name: "skip-permissions", Usage: "Let the assistant act without permission prompts"},
		},
		Action: func(c *cli.Context) error {
			preset := c.String("preset")
			if preset == "" {
				preset = a.cfg.DefaultPreset
			}

			resolved, err := tools.Resolve(tools.Spec{
				Preset:          preset,
				Groups:          c.StringSlice("group"),
				Additions:       tools.ParseList(c.String("add")),
				Removals:        tools.ParseList(c.String("remove")),
				SkipPermissions: c.Bool("skip-permissions"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{
				"config":  resolved,
				"flag":    resolved.String(),
				"presets": tools.Presets(),
				"groups":  tools.Groups(),
			})
		},
	}
}

// mcpCmd creates the mcp command and its subcommands.
func mcpCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Inspect MCP server configurations",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List servers enabled from the mcp_servers_file",
				Action: func(c *cli.Context) error {
					entries := a.registry.List()
					if entries == nil {
						entries = []registry.Entry{}
					}
					return outputJSON(map[string]any{
						"servers": entries,
						"enabled": a.registry.Resolve().Names(),
					})
				},
			},
			{
				Name:  "examples",
				Usage: "Print example server configurations",
				Action: func(c *cli.Context) error {
					return outputJSON(map[string]any{"mcpServers": registry.Examples()})
				},
			},
		},
	}
}

// pruneCmd creates the prune command.
func pruneCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Permanently delete old folders",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Required: true, Usage: "Delete folders created more than N days ago (e.g., 30d)"},
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Only prune folders with this status"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be deleted"},
		},
		Action: func(c *cli.Context) error {
			days, err := parseDuration(c.String("older-than"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			output, err := ops.Prune(c.Context, a.store, ops.PruneInput{
				OlderThanDays: days,
				Status:        c.String("status"),
				DryRun:        c.Bool("dry-run"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// reindexCmd creates the reindex command.
func reindexCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Rebuild the folder index from manifests on disk",
		Action: func(c *cli.Context) error {
			output, err := ops.Reindex(c.Context, a.store)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export folder manifests to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.baton/exports/<status|all>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, a.store, a.cfg, ops.ExportInput{
				Path:   c.String("path"),
				Status: c.String("status"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the read-only folder inspector",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8420, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(web.Deps{
				Store:   a.store,
				Config:  a.cfg,
				Metrics: a.metrics,
				Logger:  a.logger,
			}, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(err)
			}
			return web.Run(srv, a.logger)
		},
	}
}

// Helper functions

// parseArgFlags merges --args-json with repeated --arg pairs; pairs win.
func parseArgFlags(c *cli.Context) (args.Map, error) {
	fromJSON, err := args.ParseJSON(c.String("args-json"))
	if err != nil {
		return args.Map{}, err
	}
	pairs, err := args.ParsePairs(c.StringSlice("arg"))
	if err != nil {
		return args.Map{}, err
	}
	return args.Merge(fromJSON, pairs), nil
}

// toolFlags returns the tool grant named by flags, or nil for the default preset.
func toolFlags(c *cli.Context) *chain.ToolSpec {
	if !c.IsSet("preset") && !c.IsSet("group") && !c.IsSet("add") && !c.IsSet("remove") && !c.Bool("skip-permissions") {
		return nil
	}
	return &chain.ToolSpec{
		Preset:          c.String("preset"),
		Groups:          c.StringSlice("group"),
		Add:             tools.ParseList(c.String("add")),
		Remove:          tools.ParseList(c.String("remove")),
		SkipPermissions: c.Bool("skip-permissions"),
	}
}

// parseServers maps the --mcp flag to a server selection: unset passes every
// enabled server, "none" passes none.
func parseServers(s string, set bool) []string {
	if !set {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(s), "none") {
		return []string{}
	}
	names := tools.ParseList(s)
	if names == nil {
		return []string{}
	}
	return names
}

// statusExit turns a non-successful folder status into a non-zero exit.
func statusExit(status store.Status, info *store.ErrorInfo) error {
	if status == store.StatusSucceeded {
		return nil
	}
	if info != nil {
		return cli.Exit(fmt.Sprintf("[%s] %s", info.Code, info.Message), 1)
	}
	return cli.Exit(fmt.Sprintf("invocation ended with status %s", status), 1)
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputMarkdown renders markdown for the terminal.
func outputMarkdown(md string) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return outputError(errors.NewInternal(err))
	}
	out, err := r.Render(md)
	if err != nil {
		return outputError(errors.NewInternal(err))
	}
	_, err = io.WriteString(os.Stdout, out)
	return err
}

// outputError formats error for CLI.
func outputError(err error) error {
	var bErr *errors.BatonError
	if stderrors.As(err, &bErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", bErr.Code, bErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}
