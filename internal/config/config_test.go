package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultMaxTurns != DefaultConfig().DefaultMaxTurns {
		t.Fatalf("DefaultMaxTurns = %d, want %d", cfg.DefaultMaxTurns, DefaultConfig().DefaultMaxTurns)
	}
	if cfg.DefaultPreset != "code-development" {
		t.Fatalf("DefaultPreset = %q, want code-development", cfg.DefaultPreset)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"default_max_turns": 20, "strict_arguments": true}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultMaxTurns != 20 {
		t.Fatalf("DefaultMaxTurns = %d, want %d", cfg.DefaultMaxTurns, 20)
	}
	if !cfg.StrictArguments {
		t.Fatal("StrictArguments = false, want true")
	}
	// Untouched fields keep defaults
	if cfg.MaxFileKB != 100 {
		t.Errorf("MaxFileKB = %d, want 100", cfg.MaxFileKB)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_InvalidTimeout(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"assistant_timeout": "soon"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error for invalid timeout")
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"default_max_turns": 12, "disabled_tools": ["baton_invoke"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	batonDir := filepath.Join(repoRoot, ".baton")
	if err := os.MkdirAll(batonDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"default_max_turns": 4, "disabled_tools": ["baton_mcp_enable"]}`
	if err := os.WriteFile(filepath.Join(batonDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	nested := filepath.Join(repoRoot, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, nested)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.DefaultMaxTurns != 4 {
		t.Errorf("DefaultMaxTurns = %d, want 4 (repo override)", cfg.DefaultMaxTurns)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools = %v, want both entries merged", cfg.DisabledTools)
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.AssistantBin != "claude" {
		t.Errorf("AssistantBin = %q, want claude", cfg.AssistantBin)
	}
}

func TestMerge_ContextExtensionsReplaced(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{ContextExtensions: []string{".go", " .go ", ".mod"}}

	merged := Merge(base, overlay)
	if len(merged.ContextExtensions) != 2 {
		t.Fatalf("ContextExtensions = %v, want [.go .mod]", merged.ContextExtensions)
	}
	if merged.ContextExtensions[0] != ".go" || merged.ContextExtensions[1] != ".mod" {
		t.Errorf("ContextExtensions = %v", merged.ContextExtensions)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"BATON_OUTPUT_DIR":       "/tmp/out",
		"BATON_ASSISTANT_BIN":    "/usr/local/bin/claude",
		"BATON_STRICT_ARGUMENTS": "true",
	}
	cfg := DefaultConfig()
	ApplyEnv(cfg, func(k string) string { return env[k] })

	if cfg.OutputDir != "/tmp/out" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.AssistantBin != "/usr/local/bin/claude" {
		t.Errorf("AssistantBin = %q", cfg.AssistantBin)
	}
	if !cfg.StrictArguments {
		t.Error("StrictArguments = false, want true")
	}
}

func TestTimeout(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"90s", 90 * time.Second},
		{"bogus", 0},
		{"-1s", 0},
	}
	for _, tt := range tests {
		cfg := &Config{AssistantTimeout: tt.in}
		if got := cfg.Timeout(); got != tt.want {
			t.Errorf("Timeout(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResolveOutputDir(t *testing.T) {
	base := "/home/u/.baton"

	if got := (&Config{}).ResolveOutputDir(base); got != filepath.Join(base, "outputs") {
		t.Errorf("empty OutputDir = %q", got)
	}
	if got := (&Config{OutputDir: "runs"}).ResolveOutputDir(base); got != filepath.Join(base, "runs") {
		t.Errorf("relative OutputDir = %q", got)
	}
	if got := (&Config{OutputDir: "/srv/out"}).ResolveOutputDir(base); got != "/srv/out" {
		t.Errorf("absolute OutputDir = %q", got)
	}
}
