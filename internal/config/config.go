package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// OutputDir is where output folders are published.
	// Relative paths are resolved against the base directory; empty means <base>/outputs.
	OutputDir string `json:"output_dir,omitempty"`

	// CommandsDir holds reusable command files (.md/.txt) selectable by name.
	CommandsDir string `json:"commands_dir,omitempty"`

	// AssistantBin is the assistant executable invoked for each command.
	AssistantBin string `json:"assistant_bin,omitempty"`

	// AssistantTimeout is a wall-clock ceiling per assistant call (Go duration string).
	// The turn bound is the primary limit; this only guards against a hung process.
	AssistantTimeout string `json:"assistant_timeout,omitempty"`

	// DefaultModel is the model selector used when a request does not name one.
	DefaultModel string `json:"default_model,omitempty"`

	// DefaultMaxTurns bounds assistant turns when a request does not set one.
	DefaultMaxTurns int `json:"default_max_turns,omitempty"`

	// DefaultPreset is the tool preset used when a request does not name one.
	DefaultPreset string `json:"default_preset,omitempty"`

	// StrictArguments makes unresolved ${NAME} placeholders an error instead of
	// passing them through literally.
	StrictArguments bool `json:"strict_arguments,omitempty"`

	// MaxFileKB is the per-file bound for full-content memory.
	MaxFileKB int `json:"max_file_kb,omitempty"`

	// ContextExtensions filters which files are included in full-content memory.
	ContextExtensions []string `json:"context_extensions,omitempty"`

	// IDRetryBudget is the number of id allocations attempted before a collision is fatal.
	IDRetryBudget int `json:"id_retry_budget,omitempty"`

	// Retries re-runs transient assistant failures within the same folder. 0 disables.
	Retries int `json:"retries,omitempty"`

	// MCPServersFile seeds the MCP registry at startup (JSON or YAML, "mcpServers" map).
	MCPServersFile string `json:"mcp_servers_file,omitempty"`

	// DBMaxOpenConns limits the maximum number of open index connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle index connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// AllowedPaths lists extra absolute directories export files may be written to,
	// in addition to ~/.baton/exports.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables the export directory restriction. Symlink checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AssistantBin:      "claude",
		AssistantTimeout:  "30m",
		DefaultModel:      "default",
		DefaultMaxTurns:   8,
		DefaultPreset:     "code-development",
		MaxFileKB:         100,
		ContextExtensions: []string{".py", ".js", ".ts", ".md", ".txt", ".json"},
		IDRetryBudget:     5,
	}
}

// Timeout parses AssistantTimeout. Invalid or empty values yield 0 (no ceiling).
func (c *Config) Timeout() time.Duration {
	if c.AssistantTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.AssistantTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// ResolveOutputDir returns the absolute output directory for baseDir.
func (c *Config) ResolveOutputDir(baseDir string) string {
	if c.OutputDir == "" {
		return filepath.Join(baseDir, "outputs")
	}
	if filepath.IsAbs(c.OutputDir) {
		return c.OutputDir
	}
	return filepath.Join(baseDir, c.OutputDir)
}

// Validate checks values that cannot be fixed up by defaults.
func (c *Config) Validate() error {
	if c.AssistantTimeout != "" {
		if _, err := time.ParseDuration(c.AssistantTimeout); err != nil {
			return fmt.Errorf("invalid assistant_timeout %q: %w", c.AssistantTimeout, err)
		}
	}
	if c.DefaultMaxTurns < 0 {
		return fmt.Errorf("default_max_turns must be non-negative")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be non-negative")
	}
	return nil
}

// Load loads configuration from baseDir/config.json and applies env overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.baton.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.Getenv)
	return cfg, cfg.Validate()
}

// LoadWithRepo loads configuration from both global (~/.baton) and repo (.baton) directories.
// Repo config is found by walking upward from startDir to find the nearest .baton/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing. Env overrides are applied last.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	ApplyEnv(cfg, os.Getenv)
	return cfg, cfg.Validate()
}

// FindRepoConfig walks upward from startDir to find the nearest .baton/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".baton", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ApplyEnv overlays BATON_* environment variables onto cfg.
// getenv is injected so tests do not depend on process state.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("BATON_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := getenv("BATON_ASSISTANT_BIN"); v != "" {
		cfg.AssistantBin = v
	}
	if v := getenv("BATON_ASSISTANT_TIMEOUT"); v != "" {
		cfg.AssistantTimeout = v
	}
	if v := getenv("BATON_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if v := getenv("BATON_STRICT_ARGUMENTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StrictArguments = b
		}
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated,
// except ContextExtensions which the overlay replaces wholesale.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		OutputDir:        pickString(overlay.OutputDir, base.OutputDir),
		CommandsDir:      pickString(overlay.CommandsDir, base.CommandsDir),
		AssistantBin:     pickString(overlay.AssistantBin, base.AssistantBin),
		AssistantTimeout: pickString(overlay.AssistantTimeout, base.AssistantTimeout),
		DefaultModel:     pickString(overlay.DefaultModel, base.DefaultModel),
		DefaultPreset:    pickString(overlay.DefaultPreset, base.DefaultPreset),
		MCPServersFile:   pickString(overlay.MCPServersFile, base.MCPServersFile),
		DefaultMaxTurns:  pickInt(overlay.DefaultMaxTurns, base.DefaultMaxTurns),
		MaxFileKB:        pickInt(overlay.MaxFileKB, base.MaxFileKB),
		IDRetryBudget:    pickInt(overlay.IDRetryBudget, base.IDRetryBudget),
		Retries:          pickInt(overlay.Retries, base.Retries),
		DBMaxOpenConns:   pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:   pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}

	// Booleans: overlay wins if true, else base
	result.StrictArguments = base.StrictArguments || overlay.StrictArguments
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.ContextExtensions = base.ContextExtensions
	if len(overlay.ContextExtensions) > 0 {
		result.ContextExtensions = mergeStringSlice(nil, overlay.ContextExtensions)
	}
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)

	return result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
