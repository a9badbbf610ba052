package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hpungsan/baton/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"run": true, "chain": true, "context": true, "commands": true,
	"show": true, "files": true, "list": true, "latest": true, "lineage": true,
	"tools": true, "mcp": true,
	"prune": true, "reindex": true, "export": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _           _
  | |__   __ _| |_ ___  _ __
  | '_ \ / _' | __/ _ \| '_ \
  | |_) | (_| | || (_) | | | |
  |_.__/ \__,_|\__\___/|_| |_|

  Chain assistant invocations through output folders

  Usage: baton <command> [options]
         baton --help

  MCP server mode requires piped input.`)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before opening the store
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(os.Args) >= 2 && !isCLIMode() && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'baton --help' for usage.\n")
		os.Exit(1)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	workDir, _ := os.Getwd()

	a, err := openApp(appOptions{
		BaseDir:   filepath.Join(homeDir, ".baton"),
		WorkDir:   workDir,
		LogLevel:  os.Getenv("BATON_LOG_LEVEL"),
		LogFormat: os.Getenv("BATON_LOG_FORMAT"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if isCLIMode() {
		app := newCLIApp(a)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			a.Close()
			os.Exit(1)
		}
		return
	}

	// MCP server mode (default)
	a.logger.Info("starting MCP server", zap.String("version", Version))
	if err := mcp.Run(mcp.Deps{
		Runner: a.runner,
		Store:  a.store,
		Config: a.cfg,
		Logger: a.logger,
	}, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}
