package main

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hpungsan/baton/internal/assistant"
	"github.com/hpungsan/baton/internal/chain"
	"github.com/hpungsan/baton/internal/config"
	"github.com/hpungsan/baton/internal/db"
	"github.com/hpungsan/baton/internal/invoke"
	"github.com/hpungsan/baton/internal/logging"
	"github.com/hpungsan/baton/internal/mcp"
	"github.com/hpungsan/baton/internal/memory"
	"github.com/hpungsan/baton/internal/metrics"
	"github.com/hpungsan/baton/internal/registry"
	"github.com/hpungsan/baton/internal/store"
)

// appOptions controls how the shared services are opened.
type appOptions struct {
	BaseDir   string
	WorkDir   string
	LogLevel  string
	LogFormat string
	// Assistant replaces the assistant CLI; tests pass a script.
	Assistant assistant.Assistant
	// Logger replaces the configured logger.
	Logger *zap.Logger
}

// app holds the services shared by the CLI and the MCP server.
type app struct {
	baseDir  string
	cfg      *config.Config
	logger   *zap.Logger
	db       *sql.DB
	store    *store.Store
	registry *registry.Registry
	metrics  *metrics.Metrics
	runner   *chain.Runner
}

func openApp(opts appOptions) (*app, error) {
	cfg, err := config.LoadWithRepo(opts.BaseDir, opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(logging.Options{Level: opts.LogLevel, Format: opts.LogFormat})
		if err != nil {
			return nil, err
		}
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}

	database, err := db.Init(opts.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	outputDir := cfg.ResolveOutputDir(opts.BaseDir)
	s, err := store.Open(outputDir, database, store.WithRetryBudget(cfg.IDRetryBudget))
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open output store: %w", err)
	}

	reg := registry.New()
	if cfg.MCPServersFile != "" {
		names, err := reg.LoadFile(resolvePath(opts.BaseDir, cfg.MCPServersFile))
		if err != nil {
			database.Close()
			return nil, err
		}
		logger.Debug("mcp servers enabled from file", zap.Strings("servers", names))
	}

	asst := opts.Assistant
	if asst == nil {
		asst = &assistant.CLI{Bin: cfg.AssistantBin, Logger: logger}
	}

	m := metrics.New()
	commandsDir := filepath.Join(opts.BaseDir, "commands")
	if cfg.CommandsDir != "" {
		commandsDir = resolvePath(opts.BaseDir, cfg.CommandsDir)
	}

	runner := &chain.Runner{
		Invoker: &invoke.Invoker{
			Store:     s,
			Assistant: asst,
			Logger:    logger,
			Metrics:   m,
			Config:    invoke.ConfigFrom(cfg),
		},
		Memory: &memory.Builder{
			Store:        s,
			MaxFileBytes: int64(cfg.MaxFileKB) * 1024,
			Extensions:   cfg.ContextExtensions,
		},
		Registry:      reg,
		Logger:        logger,
		Metrics:       m,
		CommandsDir:   commandsDir,
		DefaultPreset: cfg.DefaultPreset,
	}

	return &app{
		baseDir:  opts.BaseDir,
		cfg:      cfg,
		logger:   logger,
		db:       database,
		store:    s,
		registry: reg,
		metrics:  m,
		runner:   runner,
	}, nil
}

// Close releases the index database and flushes the logger.
func (a *app) Close() {
	if a == nil {
		return
	}
	_ = a.logger.Sync()
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
